package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `kinsi_http_requests_total{code="418",route="/test"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, `kinsi_http_request_duration_seconds_bucket{route="/test"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestDomainCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.AuthOutcome("login", "ok")
	metrics.AuthOutcome("login", "invalid_credentials")
	metrics.AuthOutcome("login", "invalid_credentials")
	metrics.GuardDecision("loading")
	metrics.SessionTransition("anonymous")
	metrics.TrackStores(func() int { return 3 })

	body := scrape(t, metrics)
	for _, want := range []string{
		`kinsi_auth_outcomes_total{flow="login",result="ok"} 1`,
		`kinsi_auth_outcomes_total{flow="login",result="invalid_credentials"} 2`,
		`kinsi_guard_decisions_total{outcome="loading"} 1`,
		`kinsi_session_transitions_total{state="anonymous"} 1`,
		`kinsi_session_stores 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics, got: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.AuthOutcome("login", "ok")
	metrics.GuardDecision("render")
	metrics.SessionTransition("authenticated")

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics, got %d", rr.Code)
	}
}
