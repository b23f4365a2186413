package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/actionbridge/actionbridge/internal/ctxkey"
	"github.com/actionbridge/actionbridge/internal/domain/auth"
	"github.com/actionbridge/actionbridge/internal/domain/ratelimit"
	"github.com/actionbridge/actionbridge/internal/port/inbound"
	"github.com/actionbridge/actionbridge/pkg/mcp"
)

// realIPContextKey carries the extracted client address.
type realIPContextKey struct{}

// MetricsMiddleware records request counts and durations. Outermost in
// the chain so the full handling time is captured.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			metrics.HTTPDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(wrapped.status)).Inc()
		})
	}
}

// statusRecorder captures the status code written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush delegates so SSE streams work through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestIDMiddleware takes X-Request-ID or mints a uuid, enriches the
// logger with it and stores both in the context.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx := context.WithValue(r.Context(), ctxkey.RequestIDKey{}, requestID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger.With("request_id", requestID))
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the request-enriched logger, falling back
// to slog.Default.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// RealIPMiddleware extracts the client address from proxy headers,
// trusting only the first X-Forwarded-For hop, and stores it in the
// context for rate limiting.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), realIPContextKey{}, extractRealIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// realIPFromContext returns the address stored by RealIPMiddleware.
func realIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(realIPContextKey{}).(string)
	return ip
}

// OriginCheckMiddleware rejects browser requests from unlisted origins
// (DNS rebinding protection). Requests without an Origin header pass;
// with an empty allowlist every Origin-bearing request is rejected.
func OriginCheckMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := allowed[origin]; !ok {
					http.Error(w, "Forbidden: origin not allowed", http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware buckets requests with GCRA: by the presented API
// key when one is there (hashed, so the raw key never becomes a map
// key), by client address otherwise. Exceeding the limit yields 429
// with a JSON-RPC -32000 body.
func RateLimitMiddleware(limiter ratelimit.Limiter, cfg ratelimit.Config, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ratelimit.FormatKey(ratelimit.KeyTypeIP, realIPFromContext(r.Context()))
			if raw := rawAPIKey(r); raw != "" {
				key = ratelimit.FormatKey(ratelimit.KeyTypeAPIKey, auth.HashKey(raw)[:16])
			}

			res, err := limiter.Allow(r.Context(), key, cfg)
			if err != nil {
				LoggerFromContext(r.Context()).Error("rate limiter failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				if metrics != nil {
					metrics.RateLimited.Inc()
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
				writeRPCError(w, http.StatusTooManyRequests, nil, mcp.CodeAuthError, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware authenticates the API key and stores the principal in
// the context. OPTIONS passes through for CORS preflight. Failures are
// 401 with a JSON-RPC -32000 body; the raw key is never logged.
func AuthMiddleware(gw inbound.Gateway) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			raw := rawAPIKey(r)
			if raw == "" {
				writeRPCError(w, http.StatusUnauthorized, nil, mcp.CodeAuthError, "missing API key")
				return
			}
			principal, err := gw.Authenticate(r.Context(), raw)
			if err != nil {
				writeRPCError(w, http.StatusUnauthorized, nil, mcp.CodeAuthError, "invalid API key")
				return
			}

			if override := r.Header.Get(projectIDHeader); override != "" {
				if !principal.Admin {
					writeRPCError(w, http.StatusUnauthorized, nil, mcp.CodeAuthError,
						"project override requires an admin key")
					return
				}
				principal.ProjectID = override
			}

			ctx := context.WithValue(r.Context(), ctxkey.PrincipalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rawAPIKey pulls the key from the Authorization header or, for clients
// that cannot set headers, the api_key query parameter.
func rawAPIKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("api_key")
}

// principalFromContext returns the principal stored by AuthMiddleware.
func principalFromContext(ctx context.Context) (inbound.Principal, bool) {
	p, ok := ctx.Value(ctxkey.PrincipalKey{}).(inbound.Principal)
	return p, ok
}
