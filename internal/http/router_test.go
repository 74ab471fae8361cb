package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/splunk/learning-labs-portal/pkg/crypto"
)

func newTestRouter(t *testing.T, components map[string]Pinger, opts ...Option) (*Router, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithRegistry(reg)}, opts...)
	return New(logger, components, opts...), reg
}

func healthy(context.Context) error { return nil }

func TestHealthzReportsComponents(t *testing.T) {
	router, _ := newTestRouter(t, map[string]Pinger{
		"docker": PingFunc(healthy),
		"store":  PingFunc(healthy),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Status     string                       `json:"status"`
		Components map[string]map[string]string `json:"components"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Components["docker"]["status"] != "up" || body.Components["store"]["status"] != "up" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestHealthzDegraded(t *testing.T) {
	router, _ := newTestRouter(t, map[string]Pinger{
		"docker": PingFunc(healthy),
		"store": PingFunc(func(context.Context) error {
			return errors.New("connection refused")
		}),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("expected failure reason in body, got %s", rec.Body.String())
	}
}

func TestHealthzRejectsOtherMethods(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestRequestsAreCounted(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	for i := 0; i < 2; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	}
	got := testutil.ToFloat64(router.requestTotal.WithLabelValues(http.MethodGet, "/healthz", "200"))
	if got != 2 {
		t.Fatalf("expected 2 counted requests, got %v", got)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "portal_ops_http_requests_total") {
		t.Fatalf("expected exposition with request counter, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsBasicAuth(t *testing.T) {
	hash, err := crypto.HashPassword("scrape-me")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	router, _ := newTestRouter(t, nil, WithMetricsAuth("prometheus", hash))

	cases := []struct {
		name       string
		user, pass string
		auth       bool
		want       int
	}{
		{name: "no credentials", want: http.StatusUnauthorized},
		{name: "wrong password", user: "prometheus", pass: "nope", auth: true, want: http.StatusUnauthorized},
		{name: "wrong user", user: "grafana", pass: "scrape-me", auth: true, want: http.StatusUnauthorized},
		{name: "valid", user: "prometheus", pass: "scrape-me", auth: true, want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tc.auth {
				req.SetBasicAuth(tc.user, tc.pass)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}
