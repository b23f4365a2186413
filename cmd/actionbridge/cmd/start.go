package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/actionbridge/actionbridge/internal/adapter/inbound/http"
	"github.com/actionbridge/actionbridge/internal/adapter/inbound/stdio"
	trailfile "github.com/actionbridge/actionbridge/internal/adapter/outbound/audit"
	"github.com/actionbridge/actionbridge/internal/adapter/outbound/httpapi"
	"github.com/actionbridge/actionbridge/internal/adapter/outbound/memory"
	"github.com/actionbridge/actionbridge/internal/adapter/outbound/sqlite"
	"github.com/actionbridge/actionbridge/internal/adapter/outbound/state"
	"github.com/actionbridge/actionbridge/internal/config"
	"github.com/actionbridge/actionbridge/internal/domain/audit"
	"github.com/actionbridge/actionbridge/internal/domain/catalog"
	"github.com/actionbridge/actionbridge/internal/domain/credential"
	"github.com/actionbridge/actionbridge/internal/domain/ratelimit"
	"github.com/actionbridge/actionbridge/internal/domain/session"
	"github.com/actionbridge/actionbridge/internal/service"
	"github.com/actionbridge/actionbridge/internal/telemetry"
)

var (
	stdioFlag  bool
	apiKeyFlag string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the ActionBridge gateway.

The gateway serves MCP over one of two transports:

1. HTTP (default): streamable HTTP on server.addr, one session per
   Mcp-Session-Id, SSE streaming, /health and /metrics.

2. Stdio: Content-Length framed JSON-RPC on stdin/stdout, one session
   per process, authenticated with --api-key or MCP_API_KEY.

Examples:
  # HTTP gateway with config file settings
  actionbridge start

  # Stdio transport for a local agent
  actionbridge start --stdio --api-key ak_live_...

  # Specific config file
  actionbridge --config /etc/actionbridge/actionbridge.yaml start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&stdioFlag, "stdio", false, "serve MCP on stdin/stdout instead of HTTP")
	startCmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "API key for the stdio session (or MCP_API_KEY)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if stdioFlag {
		cfg.Transport = "stdio"
	}
	if apiKeyFlag != "" {
		cfg.APIKey = apiKeyFlag
	}

	// Logs go to stderr; stdout is the MCP stream in stdio mode.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if file := config.ConfigFileUsed(); file != "" {
		logger.Info("loaded config", "file", file)
	}

	// stop() restores default handling so a second Ctrl+C kills hard.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("actionbridge stopped")
	return nil
}

// run wires the stores, services and transport, then blocks until ctx is
// cancelled. Shutdown order: transport drain, session close-all, audit
// trail flush, telemetry flush.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tel, err := telemetry.Setup(cfg.Telemetry.TracingEnabled, Version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	stateStore, err := claimRuntimeState(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stateStore.Clear(); err != nil {
			logger.Warn("failed to clear runtime state", "error", err)
		}
	}()

	catalogStore, credStore, auditStore, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	if err := applySeed(ctx, cfg, catalogStore, credStore, logger); err != nil {
		return err
	}

	auditOpts := []service.AuditOption{
		service.WithAuditLogger(logger),
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(cfg.Audit.FlushIntervalDuration()),
	}
	if cfg.Audit.Trail.Enabled {
		trail, err := trailfile.NewTrail(trailfile.TrailConfig{
			Dir:           cfg.Audit.Trail.Dir,
			RetentionDays: cfg.Audit.Trail.RetentionDays,
			MaxFileSizeMB: cfg.Audit.Trail.MaxFileSizeMB,
			CacheSize:     cfg.Audit.Trail.CacheSize,
		}, logger)
		if err != nil {
			return fmt.Errorf("opening audit trail: %w", err)
		}
		defer func() { _ = trail.Close() }()
		auditOpts = append(auditOpts, service.WithTrail(trail))
	}
	audits := service.NewAuditService(auditStore, auditOpts...)
	audits.Start(ctx)
	defer audits.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := http.NewMetrics(reg, audits.Depth, audits.Dropped)

	caller := httpapi.NewCaller(
		httpapi.WithLogger(logger),
		httpapi.WithCallObserver(metrics.ObserveUpstream),
	)
	refresher := httpapi.NewOAuthRefresher(credStore, httpapi.WithRefresherLogger(logger))
	exec := service.NewExecutorService(caller, refresher, credStore,
		service.WithExecutorLogger(logger))
	registries := service.NewRegistryService(catalogStore, exec, audits,
		service.WithRegistryLogger(logger))

	gw := service.NewGatewayService(catalogStore, registries, audits,
		session.Config{
			MaxPerKey:   cfg.Sessions.MaxPerKey,
			MaxTotal:    cfg.Sessions.MaxTotal,
			IdleTimeout: cfg.Sessions.IdleTimeoutDuration(),
		},
		service.WithGatewayLogger(logger),
		service.WithGatewayVersion(Version),
		service.WithSessionHooks(metrics.SessionCreated, metrics.SessionEvicted),
		service.WithCoreOptions(service.WithToolCallObserver(metrics.ObserveToolCall)),
	)
	defer gw.Shutdown()

	if cfg.Transport == "stdio" {
		if cfg.APIKey == "" {
			return errors.New("stdio transport needs an API key: pass --api-key or set MCP_API_KEY")
		}
		tr := stdio.NewTransport(gw, cfg.APIKey, stdio.WithLogger(logger))
		logger.Info("serving MCP on stdio")
		return tr.Start(ctx)
	}

	limiter := memory.NewRateLimiterWithConfig(
		cfg.RateLimit.CleanupIntervalDuration(), cfg.RateLimit.MaxTTLDuration())
	limiter.StartCleanup(ctx)
	defer limiter.Stop()

	opts := []http.TransportOption{
		http.WithAddr(cfg.Server.Addr),
		http.WithPathPrefix(cfg.Server.PathPrefix),
		http.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		http.WithTransportLogger(logger),
		http.WithMetrics(metrics),
		http.WithHealthChecker(http.NewHealthChecker(gw.Sessions(), limiter, audits, Version)),
	}
	if cfg.RateLimit.Enabled {
		opts = append(opts, http.WithRateLimit(limiter, ratelimit.Config{
			Rate:   cfg.RateLimit.Rate,
			Burst:  cfg.RateLimit.Burst,
			Period: cfg.RateLimit.PeriodDuration(),
		}))
	}
	if cfg.Server.TLSEnabled() {
		opts = append(opts, http.WithTLS(cfg.Server.TLSCert, cfg.Server.TLSKey))
	}

	tr := http.NewTransport(gw, gw.Sessions(), opts...)
	logger.Info("gateway listening",
		"addr", cfg.Server.Addr, "path", cfg.Server.PathPrefix, "tls", cfg.Server.TLSEnabled())
	return tr.Start(ctx)
}

// claimRuntimeState records this process in the runtime state file,
// refusing to start when another live instance already owns it.
func claimRuntimeState(cfg *config.Config, logger *slog.Logger) (*state.Store, error) {
	store := state.NewStore(resolveStatePath(), logger)
	st, err := store.Load()
	if err != nil {
		return nil, err
	}
	if st.Running() {
		if proc, findErr := os.FindProcess(st.PID); findErr == nil && processIsAlive(proc) {
			return nil, fmt.Errorf("gateway already running (PID %d, state %s)", st.PID, store.Path())
		}
		logger.Warn("clearing stale runtime state", "pid", st.PID)
	}

	st.PID = os.Getpid()
	st.Transport = cfg.Transport
	st.Addr = ""
	if cfg.Transport == "http" {
		st.Addr = cfg.Server.Addr
	}
	st.StartedAt = time.Now().UTC()
	if err := store.Save(st); err != nil {
		return nil, fmt.Errorf("saving runtime state: %w", err)
	}
	return store, nil
}

// openStores builds the configured persistence backend. The returned
// close function releases the backend's resources.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (catalog.Store, credential.Store, audit.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Storage.Path)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("opening sqlite storage: %w", err)
		}
		logger.Info("storage ready", "backend", "sqlite", "path", cfg.Storage.Path)
		closeFn := func() {
			if err := db.Close(); err != nil {
				logger.Warn("closing sqlite", "error", err)
			}
		}
		return sqlite.NewCatalogStore(db), sqlite.NewCredentialStore(db), sqlite.NewAuditStore(db), closeFn, nil
	default:
		logger.Info("storage ready", "backend", "memory")
		return memory.NewCatalogStore(), memory.NewCredentialStore(), memory.NewAuditStore(), func() {}, nil
	}
}

// applySeed loads and applies the seed catalog from the config file's
// seed section and/or the seed_file.
func applySeed(ctx context.Context, cfg *config.Config, store catalog.Store, creds credential.Store, logger *slog.Logger) error {
	seed := &config.Seed{}

	inline, err := config.LoadSeedFromConfigFile(config.ConfigFileUsed())
	if err != nil {
		return err
	}
	seed.Merge(inline)

	if cfg.SeedFile != "" {
		fromFile, err := config.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		seed.Merge(fromFile)
	}

	if seed.Empty() {
		return nil
	}
	if err := seed.Apply(ctx, store, creds); err != nil {
		return err
	}
	logger.Info("catalog seeded",
		"systems", len(seed.Systems), "projects", len(seed.Projects),
		"api_keys", len(seed.APIKeys), "credentials", len(seed.Credentials))
	return nil
}
