package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/Centace/centace/internal/app"
	"github.com/Centace/centace/internal/config"
	"github.com/Centace/centace/internal/currency"
	"github.com/Centace/centace/internal/errorlog"
	"github.com/Centace/centace/internal/middleware"
	"github.com/Centace/centace/internal/notifications"
	"github.com/Centace/centace/pkg/logger"
	"github.com/Centace/centace/pkg/testutil"
	supabase "github.com/Centace/centace/supabase/client"
)

const testJWTSecret = "test-jwt-secret-with-enough-entropy"

type testEnv struct {
	app     *app.Application
	handler http.Handler
	store   *testutil.MockNotificationStore
	push    *testutil.MockSubscriber
	errors  *errorlog.MemoryStore
	backend *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/rest/v1/"):
			w.Header().Set("Content-Type", "application/json")
			if r.Header.Get("Prefer") == "count=exact" {
				w.Header().Set("Content-Range", "*/42")
			}
			_, _ = w.Write([]byte(`[]`))
		case r.URL.Path == "/auth/v1/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(backend.Close)

	cfg := config.Default()
	cfg.Supabase.URL = backend.URL
	cfg.Supabase.JWTSecret = testJWTSecret
	cfg.HTTP.RateLimitRPS = 0
	cfg.SMTP.From = ""
	if mutate != nil {
		mutate(cfg)
	}

	sb, err := supabase.New(supabase.Config{URL: backend.URL, APIKey: "service-key"})
	require.NoError(t, err)

	store := testutil.NewMockNotificationStore()
	sub := testutil.NewMockSubscriber()
	errStore := errorlog.NewMemoryStore(0)
	application, err := app.New(context.Background(), cfg, app.Options{
		Supabase:          sb,
		NotificationStore: store,
		Subscriber:        sub,
		RateFetcher: currency.FetcherFunc(func(ctx context.Context) (*currency.Rates, error) {
			return &currency.Rates{Base: "USD", Rates: map[string]float64{"USD": 1, "EUR": 0.5, "NGN": 1000}}, nil
		}),
		RateStore:  currency.NewMemoryStore(),
		ErrorStore: errStore,
		SignOut:    func(ctx context.Context, token string) error { return nil },
	}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	return &testEnv{
		app:     application,
		handler: NewHandler(application),
		store:   store,
		push:    sub,
		errors:  errStore,
		backend: backend,
	}
}

func signToken(t *testing.T, userID, role string) string {
	t.Helper()
	claims := middleware.Claims{
		Email: userID + "@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	if role != "" {
		claims.AppMetadata = map[string]any{"role": role}
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func marshal(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func authedRequest(method, path, token string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	e.handler.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), v), resp.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.App.Version = "1.2.3" })

	resp := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "OK", body["message"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, "development", body["environment"])
	assert.NotEmpty(t, body["timestamp"])
	assert.NotEmpty(t, resp.Header().Get("X-Trace-ID"))
}

func TestLogError(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/log-error", bytes.NewReader(marshal(map[string]any{
		"message":   "boom",
		"errorType": "NetworkError",
		"severity":  "high",
		"context":   map[string]any{"route": "/wallet"},
	})))
	req.Header.Set("User-Agent", "test-agent")
	resp := env.do(req)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var body map[string]string
	decode(t, resp, &body)
	assert.NotEmpty(t, body["id"])

	entries := env.errors.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].Message)
	assert.Equal(t, "NetworkError", entries[0].ErrorType)
	require.NotNil(t, entries[0].Environment)
	assert.Equal(t, "development", *entries[0].Environment)
}

func TestLogErrorRejectsMissingMessage(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(httptest.NewRequest(http.MethodPost, "/api/log-error", bytes.NewReader([]byte(`{"severity":"low"}`))))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, env.errors.Entries())

	resp = env.do(httptest.NewRequest(http.MethodPost, "/api/log-error", bytes.NewReader([]byte(`not json`))))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandlerAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/api/notifications", "/api/session", "/api/diagnostics"} {
		resp := env.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, resp.Code, path)
	}

	resp := env.do(authedRequest(http.MethodGet, "/api/notifications", "not-a-jwt", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	env := newTestEnv(t, nil)
	token := signToken(t, "user-1", "")

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/test-db"},
		{http.MethodPost, "/api/test-email"},
		{http.MethodGet, "/api/diagnostics"},
	} {
		resp := env.do(authedRequest(tc.method, tc.path, token, []byte(`{}`)))
		assert.Equal(t, http.StatusForbidden, resp.Code, tc.path)
	}
}

func TestNotificationLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	token := signToken(t, "user-1", "")

	resp := env.do(authedRequest(http.MethodGet, "/api/notifications", token, nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var list notificationList
	decode(t, resp, &list)
	assert.Empty(t, list.Notifications)
	assert.Zero(t, list.UnreadCount)

	resp = env.do(authedRequest(http.MethodPost, "/api/notifications/create", token, marshal(map[string]any{
		"userId":  "user-1",
		"title":   "Deposit received",
		"message": "Your deposit of 100 USD has cleared",
		"type":    "success",
	})))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var created notifications.Notification
	decode(t, resp, &created)
	assert.Equal(t, "success", created.Type)

	resp = env.do(authedRequest(http.MethodGet, "/api/notifications", token, nil))
	decode(t, resp, &list)
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, 1, list.UnreadCount)

	resp = env.do(authedRequest(http.MethodPost, "/api/notifications/"+created.ID+"/read", token, nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	decode(t, resp, &list)
	assert.Zero(t, list.UnreadCount)
	assert.True(t, list.Notifications[0].IsRead)

	resp = env.do(authedRequest(http.MethodDelete, "/api/notifications/"+created.ID, token, nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	decode(t, resp, &list)
	assert.Empty(t, list.Notifications)
}

func TestMarkAllRead(t *testing.T) {
	env := newTestEnv(t, nil)
	token := signToken(t, "user-1", "")

	for _, title := range []string{"one", "two"} {
		resp := env.do(authedRequest(http.MethodPost, "/api/notifications/create", token, marshal(map[string]any{
			"userId": "user-1", "title": title, "message": "m",
		})))
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	}

	resp := env.do(authedRequest(http.MethodPost, "/api/notifications/read-all", token, nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var list notificationList
	decode(t, resp, &list)
	assert.Len(t, list.Notifications, 2)
	assert.Zero(t, list.UnreadCount)

	resp = env.do(authedRequest(http.MethodPost, "/api/notifications/refresh", token, nil))
	require.Equal(t, http.StatusOK, resp.Code)
	decode(t, resp, &list)
	assert.Len(t, list.Notifications, 2)
	assert.Zero(t, list.UnreadCount)
}

func TestCreateNotificationForOtherUser(t *testing.T) {
	env := newTestEnv(t, nil)
	body := marshal(map[string]any{"userId": "user-2", "title": "t", "message": "m"})

	resp := env.do(authedRequest(http.MethodPost, "/api/notifications/create", signToken(t, "user-1", ""), body))
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = env.do(authedRequest(http.MethodPost, "/api/notifications/create", signToken(t, "admin-1", AdminRole), body))
	assert.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = env.do(authedRequest(http.MethodPost, "/api/notifications/create", signToken(t, "user-1", ""),
		marshal(map[string]any{"userId": "user-1", "title": "", "message": "m"})))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSessionEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	token := signToken(t, "user-1", "")

	resp := env.do(authedRequest(http.MethodGet, "/api/session", token, nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = env.do(authedRequest(http.MethodPost, "/api/session/activity", token, marshal(map[string]string{"event": "mousemove"})))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var act struct {
		Session  map[string]any `json:"session"`
		Accepted bool           `json:"accepted"`
	}
	decode(t, resp, &act)
	assert.True(t, act.Accepted)
	assert.Equal(t, true, act.Session["active"])
	assert.Equal(t, 1, env.app.Sessions.Len())

	resp = env.do(authedRequest(http.MethodPost, "/api/session/activity", token, marshal(map[string]string{"event": "focus"})))
	require.Equal(t, http.StatusOK, resp.Code)
	decode(t, resp, &act)
	assert.False(t, act.Accepted)

	resp = env.do(authedRequest(http.MethodPost, "/api/session/activity", token, []byte(`{}`)))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(authedRequest(http.MethodPost, "/api/session/extend", token, nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = env.do(authedRequest(http.MethodGet, "/api/session", token, nil))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = env.do(authedRequest(http.MethodDelete, "/api/session", token, nil))
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Zero(t, env.app.Sessions.Len())

	resp = env.do(authedRequest(http.MethodPost, "/api/session/extend", token, nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestExpiredSessionBlocksNotifications(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Session.Timeout = 200 * time.Millisecond
		cfg.Session.Warning = 50 * time.Millisecond
	})
	token := signToken(t, "user-1", "")

	resp := env.do(authedRequest(http.MethodGet, "/api/notifications", token, nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	resp = env.do(authedRequest(http.MethodPost, "/api/session/activity", token, marshal(map[string]string{"event": "click"})))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, 1, env.app.Notifications.Len())

	assert.Eventually(t, func() bool {
		return env.app.Notifications.Len() == 0
	}, 2*time.Second, 20*time.Millisecond)

	for _, req := range []*http.Request{
		authedRequest(http.MethodGet, "/api/notifications", token, nil),
		authedRequest(http.MethodPost, "/api/notifications/refresh", token, nil),
		authedRequest(http.MethodPost, "/api/notifications/read-all", token, nil),
		authedRequest(http.MethodGet, "/api/notifications/stream", token, nil),
	} {
		resp = env.do(req)
		assert.Equal(t, http.StatusUnauthorized, resp.Code, req.URL.Path)
	}
	assert.Zero(t, env.app.Notifications.Len())
}

func TestCurrencyEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(httptest.NewRequest(http.MethodGet, "/api/currency/rates", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var rates currency.Rates
	decode(t, resp, &rates)
	assert.Equal(t, "USD", rates.Base)
	assert.Equal(t, 1000.0, rates.Rates["NGN"])

	resp = env.do(httptest.NewRequest(http.MethodGet, "/api/currency/convert?amount=10&from=EUR&to=NGN", nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var conv currency.Conversion
	decode(t, resp, &conv)
	assert.Equal(t, 20000.0, conv.Result)

	resp = env.do(httptest.NewRequest(http.MethodGet, "/api/currency/convert?amount=5&to=EUR", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	decode(t, resp, &conv)
	assert.Equal(t, "USD", conv.From)
	assert.Equal(t, 2.5, conv.Result)

	for _, q := range []string{"amount=abc&to=EUR", "amount=1", "amount=1&to=XXX"} {
		resp = env.do(httptest.NewRequest(http.MethodGet, "/api/currency/convert?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, resp.Code, q)
	}
}

func TestTestDB(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(authedRequest(http.MethodGet, "/api/test-db", signToken(t, "admin-1", AdminRole), nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var body dbCheck
	decode(t, resp, &body)
	assert.True(t, body.OK)
	assert.Equal(t, "profiles", body.Table)
	require.NotNil(t, body.Rows)
	assert.Equal(t, 42, *body.Rows)
	assert.Nil(t, body.LocalDB)
}

func TestTestEmailWithoutMailer(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(authedRequest(http.MethodPost, "/api/test-email", signToken(t, "admin-1", AdminRole), []byte(`{}`)))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestDiagnostics(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(authedRequest(http.MethodGet, "/api/diagnostics", signToken(t, "svc", middleware.ServiceRole), nil))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var body diagnosticsResponse
	decode(t, resp, &body)
	assert.Positive(t, body.Go.Goroutines)
	assert.NotEmpty(t, body.Go.Version)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))

	resp := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `centace_http_requests_total{method="GET",path="/api/health",service="api",status="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/notifications/create", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp := env.do(req)
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, "http://localhost:3000", resp.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.HTTP.RateLimitRPS = 1
		c.HTTP.RateLimitBurst = 2
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil)).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestNotificationStream(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)
	token := signToken(t, "user-1", "")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/notifications/stream?access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://localhost:3000"}})
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool { return env.app.Hub.Connections("user-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = env.app.Notifications.Create(context.Background(), notifications.NewNotification{
		UserID: "user-1", Title: "Hello", Message: "World",
	})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var toast notifications.Toast
	require.NoError(t, conn.ReadJSON(&toast))
	assert.Equal(t, "notification", toast.Kind)
	assert.Equal(t, "Hello", toast.Title)
}

func TestStreamRejectsQueryTokenWithoutUpgrade(t *testing.T) {
	env := newTestEnv(t, nil)
	token := signToken(t, "user-1", "")

	resp := env.do(httptest.NewRequest(http.MethodGet, "/api/notifications?access_token="+token, nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = env.do(httptest.NewRequest(http.MethodPut, "/api/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}

func TestRealtimeInsertReachesList(t *testing.T) {
	env := newTestEnv(t, nil)
	token := signToken(t, "user-1", "")

	resp := env.do(authedRequest(http.MethodGet, "/api/notifications", token, nil))
	require.Equal(t, http.StatusOK, resp.Code)

	pushed := notifications.Event{
		Type: notifications.EventInsert,
		Record: notifications.Notification{
			ID: "rt-1", UserID: "user-1", Title: "Payout", Message: "Sent", Type: "info", CreatedAt: time.Now(),
		},
	}
	require.Eventually(t, func() bool { return env.push.Push("user-1", pushed) }, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		var list notificationList
		rec := env.do(authedRequest(http.MethodGet, "/api/notifications", token, nil))
		if json.Unmarshal(rec.Body.Bytes(), &list) != nil {
			return false
		}
		return len(list.Notifications) == 1 && list.UnreadCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}
