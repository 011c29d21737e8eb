package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func searchRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Route("/search", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
		r.Post("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadRequest) })
	})
	r.Get("/top-regions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return r
}

func TestMiddleware_RecordsDurationAndCount(t *testing.T) {
	r := searchRouter()

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/search?q=pizza", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	if v := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/search", "200")); v < 1 {
		t.Errorf("expected http_requests_total >= 1, got %f", v)
	}
	if testutil.CollectAndCount(httpRequestDuration) == 0 {
		t.Error("expected http_request_duration_seconds to have observations")
	}
}

func TestMiddleware_StatusAndRouteLabels(t *testing.T) {
	r := searchRouter()

	tests := []struct {
		method, path  string
		route, status string
	}{
		{"POST", "/search", "/search", "400"},
		{"GET", "/top-regions/17", "/top-regions/{id}", "404"},
		{"GET", "/top-regions/18", "/top-regions/{id}", "404"},
		{"GET", "/nowhere", unmatchedRoute, "404"},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tc.method, tc.path, http.NoBody))

			v := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(tc.method, tc.route, tc.status))
			if v < 1 {
				t.Errorf("expected requests_total{route=%q,status=%s} >= 1, got %f", tc.route, tc.status, v)
			}
		})
	}
}

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", unmatchedRoute},
		{"/", "/"},
		{"/search/", "/search"},
		{"/top-regions/{id}", "/top-regions/{id}"},
	}

	for _, tc := range tests {
		if got := normalizeRoute(tc.input); got != tc.expected {
			t.Errorf("normalizeRoute(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}
