package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	m := New()
	m.RecordHTTPRequest("api", "GET", "/api/health", "200", 10*time.Millisecond)
	m.RecordHTTPRequest("api", "GET", "/api/health", "200", 20*time.Millisecond)

	got := testutil.ToFloat64(m.httpRequests.WithLabelValues("api", "GET", "/api/health", "200"))
	if got != 2 {
		t.Fatalf("requests_total = %v, want 2", got)
	}
}

func TestDomainCounters(t *testing.T) {
	m := New()
	m.SessionWarning()
	m.SessionLogout(true)
	m.SessionLogout(false)
	m.NotificationEvent("insert")
	m.RateLookup("stale")
	m.ErrorLogged("NetworkError", "high")
	m.SetSessionsTracked(3)

	if v := testutil.ToFloat64(m.sessionWarnings); v != 1 {
		t.Fatalf("warnings = %v", v)
	}
	if v := testutil.ToFloat64(m.sessionLogouts.WithLabelValues("error")); v != 1 {
		t.Fatalf("logout errors = %v", v)
	}
	if v := testutil.ToFloat64(m.sessionsActive); v != 3 {
		t.Fatalf("tracked = %v", v)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncrementInFlight()
	m.DecrementInFlight()
	m.RecordHTTPRequest("a", "b", "c", "d", time.Second)
	m.SessionWarning()
	m.SessionLogout(true)
	m.NotificationEvent("insert")
	m.RateLookup("default")
	m.ErrorLogged("x", "y")
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New()
	m.NotificationEvent("insert")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "centace_notifications_events_total") {
		t.Fatal("notification counter missing from exposition")
	}
}
