package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/actionbridge/actionbridge/internal/adapter/outbound/memory"
	"github.com/actionbridge/actionbridge/internal/domain/session"
	"github.com/actionbridge/actionbridge/internal/service"
)

// HealthResponse is the /health endpoint body.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker reports component health. Components may be nil when
// not configured; they are reported as such rather than failing.
type HealthChecker struct {
	sessions *session.Manager
	limiter  *memory.RateLimiter
	audits   *service.AuditService
	version  string
}

// NewHealthChecker creates a HealthChecker over the given components.
func NewHealthChecker(sessions *session.Manager, limiter *memory.RateLimiter, audits *service.AuditService, version string) *HealthChecker {
	return &HealthChecker{
		sessions: sessions,
		limiter:  limiter,
		audits:   audits,
		version:  version,
	}
}

// Check runs all component checks. The audit trail past 90% of its
// buffer marks the gateway degraded.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.sessions != nil {
		checks["sessions"] = fmt.Sprintf("%d active", h.sessions.Len())
	} else {
		checks["sessions"] = "not configured"
	}

	if h.limiter != nil {
		checks["rate_limiter"] = fmt.Sprintf("%d buckets", h.limiter.Size())
	} else {
		checks["rate_limiter"] = "not configured"
	}

	if h.audits != nil {
		depth := h.audits.Depth()
		capacity := h.audits.Capacity()
		percent := 0
		if capacity > 0 {
			percent = depth * 100 / capacity
		}
		if percent > 90 {
			checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percent)
			healthy = false
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percent)
		}
		if drops := h.audits.Dropped(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["audit"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler serves the /health endpoint: 200 when healthy, 503 otherwise.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		health := h.Check()
		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
