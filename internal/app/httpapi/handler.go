// Package httpapi exposes the Centace application over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	app "github.com/Centace/centace/internal/app"
	apperrors "github.com/Centace/centace/internal/errors"
	"github.com/Centace/centace/internal/errorlog"
	"github.com/Centace/centace/internal/httputil"
	"github.com/Centace/centace/internal/middleware"
	"github.com/Centace/centace/pkg/logger"
)

// AdminRole gates the diagnostic routes and cross-user notification
// creation.
const AdminRole = "admin"

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns the router exposing the Centace API, wrapped in the
// request-level middleware chain.
func NewHandler(application *app.Application) http.Handler {
	log := application.Logger().Named("http")
	h := &handler{app: application, log: log}
	cfg := application.Config

	auth := middleware.NewAuthMiddleware(middleware.AuthConfig{
		JWTSecret: cfg.Supabase.JWTSecret,
		Verifier:  application.Supabase.Auth(),
	}, log.Named("auth"))
	authed := func(fn http.HandlerFunc) http.Handler { return auth.Handler(fn) }
	admin := func(fn http.HandlerFunc) http.Handler {
		return auth.Handler(middleware.RequireRole(AdminRole)(fn))
	}

	r := mux.NewRouter()
	r.Use(middleware.MetricsMiddleware("api", application.Metrics))

	r.HandleFunc("/api/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/api/log-error", h.logError).Methods(http.MethodPost)
	r.Handle("/metrics", application.Metrics.Handler()).Methods(http.MethodGet)

	r.Handle("/api/test-db", admin(h.testDB)).Methods(http.MethodGet)
	r.Handle("/api/test-email", admin(h.testEmail)).Methods(http.MethodPost)
	r.Handle("/api/diagnostics", admin(h.diagnostics)).Methods(http.MethodGet)

	r.Handle("/api/notifications", authed(h.listNotifications)).Methods(http.MethodGet)
	r.Handle("/api/notifications/create", authed(h.createNotification)).Methods(http.MethodPost)
	r.Handle("/api/notifications/read-all", authed(h.markAllRead)).Methods(http.MethodPost)
	r.Handle("/api/notifications/refresh", authed(h.refreshNotifications)).Methods(http.MethodPost)
	r.Handle("/api/notifications/stream", authed(h.stream)).Methods(http.MethodGet)
	r.Handle("/api/notifications/{id}/read", authed(h.markRead)).Methods(http.MethodPost)
	r.Handle("/api/notifications/{id}", authed(h.deleteNotification)).Methods(http.MethodDelete)

	r.Handle("/api/session", authed(h.getSession)).Methods(http.MethodGet)
	r.Handle("/api/session", authed(h.endSession)).Methods(http.MethodDelete)
	r.Handle("/api/session/activity", authed(h.sessionActivity)).Methods(http.MethodPost)
	r.Handle("/api/session/extend", authed(h.extendSession)).Methods(http.MethodPost)

	r.HandleFunc("/api/currency/rates", h.currencyRates).Methods(http.MethodGet)
	r.HandleFunc("/api/currency/convert", h.currencyConvert).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorResponse{Error: "method not allowed"})
	})

	limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst, log.Named("ratelimit"))
	cors := middleware.NewCORSMiddleware(cfg.HTTP.CORSOrigins)

	// CORS runs outside the router so preflights reach it for every path.
	var out http.Handler = r
	if cfg.HTTP.RateLimitRPS > 0 {
		out = limiter.Handler(out)
	}
	out = cors.Handler(out)
	out = middleware.LoggingMiddleware(log)(out)
	out = middleware.RecoveryMiddleware(log, application.Reporter)(out)
	return out
}

type healthResponse struct {
	Uptime      float64 `json:"uptime"`
	Message     string  `json:"message"`
	Timestamp   string  `json:"timestamp"`
	Environment string  `json:"environment"`
	Version     string  `json:"version"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthResponse{
		Uptime:      h.app.Uptime().Seconds(),
		Message:     "OK",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Environment: h.app.Config.App.Environment,
		Version:     h.app.Config.App.Version,
	})
}

func (h *handler) logError(w http.ResponseWriter, r *http.Request) {
	var in errorlog.Input
	if err := httputil.DecodeJSON(r.Body, &in); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if in.UserAgent == "" {
		in.UserAgent = r.UserAgent()
	}

	entry, err := h.app.ErrorLog.Record(r.Context(), in, middleware.ClientIP(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"id": entry.ID})
}

// writeError writes err and reports server-side failures.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		// Client went away.
		return
	}
	if apperrors.HTTPStatus(err) >= http.StatusInternalServerError {
		h.app.Reporter.Report(r.Context(), err)
	}
	httputil.WriteError(w, err)
}
