package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/actionbridge/actionbridge/internal/domain/ratelimit"
	"github.com/actionbridge/actionbridge/internal/domain/session"
	"github.com/actionbridge/actionbridge/internal/port/inbound"
)

// DefaultPathPrefix is where the MCP endpoint is mounted.
const DefaultPathPrefix = "/mcp/v1"

// Transport is the inbound HTTP adapter: it mounts the MCP endpoint,
// health and metrics on one mux and owns the http.Server lifecycle.
type Transport struct {
	gw       inbound.Gateway
	sessions *session.Manager
	server   *http.Server

	addr           string
	pathPrefix     string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	metrics        *Metrics
	limiter        ratelimit.Limiter
	rateCfg        ratelimit.Config
	health         *HealthChecker
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithAddr sets the listen address. Default is localhost only.
func WithAddr(addr string) TransportOption {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithPathPrefix mounts the MCP endpoint somewhere other than /mcp/v1.
func WithPathPrefix(prefix string) TransportOption {
	return func(t *Transport) {
		t.pathPrefix = prefix
	}
}

// WithTLS enables HTTPS with the given certificate pair.
func WithTLS(certFile, keyFile string) TransportOption {
	return func(t *Transport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the Origin allowlist. Empty blocks every
// browser request that carries an Origin header.
func WithAllowedOrigins(origins []string) TransportOption {
	return func(t *Transport) {
		t.allowedOrigins = origins
	}
}

// WithTransportLogger sets the transport's logger.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithMetrics uses externally constructed metrics, typically shared
// with the upstream caller and the session manager hooks.
func WithMetrics(m *Metrics) TransportOption {
	return func(t *Transport) {
		t.metrics = m
	}
}

// WithRateLimit enables the per-key rate limit middleware.
func WithRateLimit(limiter ratelimit.Limiter, cfg ratelimit.Config) TransportOption {
	return func(t *Transport) {
		t.limiter = limiter
		t.rateCfg = cfg
	}
}

// WithHealthChecker serves component health on /health.
func WithHealthChecker(hc *HealthChecker) TransportOption {
	return func(t *Transport) {
		t.health = hc
	}
}

// NewTransport creates the HTTP transport over a gateway and its
// session manager.
func NewTransport(gw inbound.Gateway, sessions *session.Manager, opts ...TransportOption) *Transport {
	t := &Transport{
		gw:         gw,
		sessions:   sessions,
		addr:       "127.0.0.1:8080",
		pathPrefix: DefaultPathPrefix,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handler builds the full mux with the middleware chain applied to the
// MCP endpoint. Exposed for tests.
func (t *Transport) Handler() http.Handler {
	if t.metrics == nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		t.metrics = NewMetrics(reg, nil, nil)
	}

	var mcpHandler http.Handler = NewHandler(t.gw, t.sessions, WithHandlerLogger(t.logger))
	mcpHandler = AuthMiddleware(t.gw)(mcpHandler)
	if t.limiter != nil {
		mcpHandler = RateLimitMiddleware(t.limiter, t.rateCfg, t.metrics)(mcpHandler)
	}
	mcpHandler = OriginCheckMiddleware(t.allowedOrigins)(mcpHandler)
	mcpHandler = RealIPMiddleware(mcpHandler)
	mcpHandler = RequestIDMiddleware(t.logger)(mcpHandler)
	mcpHandler = MetricsMiddleware(t.metrics)(mcpHandler)

	mux := http.NewServeMux()
	if t.health != nil {
		mux.Handle("/health", t.health.Handler())
	} else {
		mux.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		}))
	}
	mux.Handle("/metrics", t.metrics.Handler())
	mux.Handle(t.pathPrefix, mcpHandler)
	mux.Handle(t.pathPrefix+"/", mcpHandler)
	return mux
}

// Start serves until the context is cancelled, then shuts down
// gracefully. Sessions are owned by the gateway and survive transport
// shutdown; closing them is the caller's job.
func (t *Transport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts derive from ctx so long-lived SSE streams
		// unwind when the transport stops.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", t.addr, "path", t.pathPrefix)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.addr, "path", t.pathPrefix)
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("shutting down HTTP server")
		return t.Close()
	case err := <-errCh:
		return err
	}
}

// Close shuts the server down gracefully with a 10 second budget.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("http server shutdown", "error", err)
		return err
	}
	return nil
}
