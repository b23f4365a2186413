package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestExtractRealIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"x-forwarded-for first hop", "10.0.0.1:1234",
			map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"}, "203.0.113.7"},
		{"x-real-ip", "10.0.0.1:1234",
			map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
		{"remote addr fallback", "192.0.2.4:5678", nil, "192.0.2.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := extractRealIP(r); got != tt.want {
				t.Errorf("extractRealIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get("X-Request-ID")
	})
	handler := RequestIDMiddleware(testLogger())(next)

	// minted when absent
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if seen == "" {
		t.Error("no request id minted")
	}

	// echoed when present
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	if seen != "req-42" {
		t.Errorf("request id = %q, want req-42", seen)
	}
}

func TestMetricsMiddlewareRecordsStatus(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry(), nil, nil)
	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	got := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("POST", "404"))
	if got != 1 {
		t.Errorf("http_requests_total{POST,404} = %v, want 1", got)
	}
}

func TestOriginCheckMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := OriginCheckMiddleware([]string{"https://ok.example.com"})(next)

	tests := []struct {
		origin string
		want   int
	}{
		{"", http.StatusOK},
		{"https://ok.example.com", http.StatusOK},
		{"https://bad.example.com", http.StatusForbidden},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		if rec.Code != tt.want {
			t.Errorf("origin %q: status = %d, want %d", tt.origin, rec.Code, tt.want)
		}
	}
}

func TestRawAPIKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/?api_key=from-query", nil)
	if got := rawAPIKey(r); got != "from-query" {
		t.Errorf("query key = %q", got)
	}

	r = httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	if got := rawAPIKey(r); got != "from-header" {
		t.Errorf("header key = %q", got)
	}

	// header wins over query
	r = httptest.NewRequest(http.MethodPost, "/?api_key=from-query", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	if got := rawAPIKey(r); got != "from-header" {
		t.Errorf("precedence key = %q", got)
	}
}
