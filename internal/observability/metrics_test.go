package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/inventory/stock")

	req := httptest.NewRequest(http.MethodGet, "/inventory/stock", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	mrr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if mrr.Code != http.StatusOK {
		t.Fatalf("unexpected metrics status: %d", mrr.Code)
	}
	body := mrr.Body.String()
	if !strings.Contains(body, "samudra_http_requests_total") {
		t.Fatalf("expected samudra_http_requests_total in metrics output, got: %s", body)
	}
	if !strings.Contains(body, `route="/inventory/stock"`) {
		t.Fatalf("expected route label in metrics output, got: %s", body)
	}
}

func TestNilMetricsAreInert(t *testing.T) {
	var metrics *Metrics

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rr := httptest.NewRecorder()
	metrics.Middleware(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	hrr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(hrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if hrr.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", hrr.Code)
	}
}
