package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/actionbridge/actionbridge/internal/domain/auth"
	"github.com/actionbridge/actionbridge/internal/domain/catalog"
	"github.com/actionbridge/actionbridge/internal/domain/category"
	"github.com/actionbridge/actionbridge/internal/domain/session"
	"github.com/actionbridge/actionbridge/internal/port/inbound"
	"github.com/actionbridge/actionbridge/pkg/mcp"
)

// classificationCacheSize bounds the shared category classification cache.
// Entries are tiny (tool name to category key), so this is generous.
const classificationCacheSize = 4096

// GatewayService is the transport-facing composition root: it
// authenticates API keys, owns the session manager, and builds one
// server core per session. HTTP and stdio transports both talk to it
// through the inbound.Gateway port.
type GatewayService struct {
	store      catalog.Store
	verifier   *auth.Verifier
	registries *RegistryService
	audits     *AuditService
	classCache *category.Cache
	sessions   *session.Manager
	logger     *slog.Logger
	version    string
	coreOpts   []CoreOption
}

var _ inbound.Gateway = (*GatewayService)(nil)

// GatewayOption configures a GatewayService.
type GatewayOption func(*GatewayService, *[]session.Option)

// WithGatewayLogger sets the logger.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *GatewayService, _ *[]session.Option) {
		g.logger = logger
	}
}

// WithGatewayVersion stamps the server version reported in the MCP
// initialize handshake.
func WithGatewayVersion(v string) GatewayOption {
	return func(g *GatewayService, _ *[]session.Option) {
		g.version = v
	}
}

// WithSessionHooks forwards create/evict callbacks to the session
// manager, typically for metrics gauges.
func WithSessionHooks(onCreate func(), onEvict func(session.EvictReason)) GatewayOption {
	return func(_ *GatewayService, opts *[]session.Option) {
		if onCreate != nil {
			*opts = append(*opts, session.WithCreateHook(onCreate))
		}
		if onEvict != nil {
			*opts = append(*opts, session.WithEvictHook(onEvict))
		}
	}
}

// WithCoreOptions forwards options to every server core the gateway
// builds, e.g. a tool-call metrics observer.
func WithCoreOptions(opts ...CoreOption) GatewayOption {
	return func(g *GatewayService, _ *[]session.Option) {
		g.coreOpts = append(g.coreOpts, opts...)
	}
}

// NewGatewayService wires the gateway and starts its session manager.
func NewGatewayService(store catalog.Store, registries *RegistryService, audits *AuditService, cfg session.Config, opts ...GatewayOption) *GatewayService {
	g := &GatewayService{
		store:      store,
		verifier:   auth.NewVerifier(store),
		registries: registries,
		audits:     audits,
		classCache: category.NewCache(classificationCacheSize),
		logger:     slog.Default(),
		version:    "dev",
	}
	var mgrOpts []session.Option
	for _, opt := range opts {
		opt(g, &mgrOpts)
	}
	g.sessions = session.NewManager(g.newCore, g.logger, cfg, mgrOpts...)
	return g
}

// Sessions exposes the session manager for transport-level operations
// (keepalive touch, DELETE teardown, shutdown ordering).
func (g *GatewayService) Sessions() *session.Manager {
	return g.sessions
}

// Shutdown closes every live session and stops the sweeper.
func (g *GatewayService) Shutdown() {
	g.sessions.Shutdown()
}

// Authenticate verifies a raw API key and resolves the effective mode:
// an active attached profile overrides the key's own mode. The raw key
// never reaches logs; failures all surface as auth.ErrInvalidKey.
func (g *GatewayService) Authenticate(ctx context.Context, rawKey string) (inbound.Principal, error) {
	key, err := g.verifier.Verify(ctx, rawKey)
	if err != nil {
		return inbound.Principal{}, err
	}
	if err := g.store.TouchKey(ctx, key.ID, time.Now().UTC()); err != nil {
		g.logger.Warn("touch key failed", "key_id", key.ID, "error", err)
	}
	return inbound.Principal{
		AccountID: key.AccountID,
		KeyID:     key.ID,
		Mode:      string(g.effectiveMode(ctx, key)),
		ProjectID: key.ProjectID,
		Admin:     key.IsAdmin,
	}, nil
}

// OpenSession creates a session bound to the principal. The server core
// is built eagerly so a broken catalog surfaces at open time, not on
// the first tool call.
func (g *GatewayService) OpenSession(ctx context.Context, p inbound.Principal, transport string) (string, error) {
	s, err := g.sessions.Create(ctx, session.Template{
		AccountID: p.AccountID,
		KeyID:     p.KeyID,
		Mode:      catalog.Mode(p.Mode),
		ProjectID: p.ProjectID,
		Transport: transport,
	})
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// Dispatch runs one raw JSON-RPC message through the session. Batches
// execute in order on the session; responses to the requests in a batch
// come back as a JSON array, and a batch of only notifications yields
// nil like a single notification does.
func (g *GatewayService) Dispatch(ctx context.Context, sessionID string, raw []byte) ([]byte, error) {
	s, err := g.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	msgs, batch, err := mcp.SplitBatch(raw)
	if err != nil {
		return mcp.NewError(nil, mcp.CodeParseError, "parse error"), nil
	}
	if !batch {
		return s.Dispatch(ctx, raw)
	}
	if len(msgs) == 0 {
		return mcp.NewError(nil, mcp.CodeInvalidRequest, "empty batch"), nil
	}

	var responses [][]byte
	for _, m := range msgs {
		resp, err := s.Dispatch(ctx, m)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range responses {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(r)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// CloseSession tears the session down explicitly.
func (g *GatewayService) CloseSession(_ context.Context, sessionID string) error {
	return g.sessions.Close(sessionID)
}

// effectiveMode returns the mode a session created for this key runs
// under. An attached profile wins only while it is active.
func (g *GatewayService) effectiveMode(ctx context.Context, key *catalog.APIKey) catalog.Mode {
	if key.ProfileID == "" {
		return key.Mode
	}
	profile, err := g.store.GetProfile(ctx, key.AccountID, key.ProfileID)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			g.logger.Warn("profile lookup failed", "key_id", key.ID, "error", err)
		}
		return key.Mode
	}
	if !profile.Active || profile.Mode == "" {
		return key.Mode
	}
	return profile.Mode
}

// newCore is the session.CoreFactory. It re-reads the key so pattern
// lists and profile changes made after authentication still apply to
// new sessions.
func (g *GatewayService) newCore(ctx context.Context, s *session.Session) (session.Core, error) {
	key, err := g.store.GetKey(ctx, s.AccountID, s.KeyID)
	if err != nil {
		return nil, fmt.Errorf("loading key: %w", err)
	}

	var profile *catalog.AgentProfile
	if key.ProfileID != "" {
		p, err := g.store.GetProfile(ctx, s.AccountID, key.ProfileID)
		if err == nil && p.Active {
			profile = p
		}
	}

	var projectIdentifier string
	if s.ProjectID != "" {
		proj, err := g.store.GetProjectByID(ctx, s.AccountID, s.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("loading project: %w", err)
		}
		projectIdentifier = proj.Slug
	}

	coreOpts := append([]CoreOption{
		WithCoreLogger(g.logger),
		WithClassificationCache(g.classCache),
	}, g.coreOpts...)

	return NewServerCore(CoreConfig{
		SessionID:         s.ID,
		AccountID:         s.AccountID,
		KeyID:             s.KeyID,
		ProjectID:         s.ProjectID,
		ProjectIdentifier: projectIdentifier,
		Transport:         s.Transport,
		Mode:              s.Mode,
		AllowedPatterns:   key.AllowedTools,
		BlockedPatterns:   key.BlockedTools,
		Profile:           profile,
		Version:           g.version,
	},
		g.registries,
		g.audits,
		g.store,
		coreOpts...,
	), nil
}
