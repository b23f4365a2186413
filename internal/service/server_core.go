package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/actionbridge/actionbridge/internal/domain/audit"
	"github.com/actionbridge/actionbridge/internal/domain/catalog"
	"github.com/actionbridge/actionbridge/internal/domain/category"
	"github.com/actionbridge/actionbridge/internal/domain/permission"
	"github.com/actionbridge/actionbridge/internal/domain/session"
	"github.com/actionbridge/actionbridge/internal/domain/tool"
	"github.com/actionbridge/actionbridge/pkg/mcp"
)

// serverName is reported in the initialize response.
const serverName = "ActionBridge"

// CoreConfig fixes a session's identity and permission layers at creation.
type CoreConfig struct {
	SessionID string
	AccountID string
	UserID    string
	KeyID     string
	// ProjectID scopes registry materialization; empty for unbound keys.
	ProjectID string
	// ProjectIdentifier is matched against project policies (may differ
	// from ProjectID, e.g. an external key like "PROJ-7").
	ProjectIdentifier string
	Transport         string
	Mode              catalog.Mode
	AllowedPatterns   []string
	BlockedPatterns   []string
	Profile           *catalog.AgentProfile
	Version           string
}

// ServerCore handles the JSON-RPC methods of one MCP session. One instance
// per session; Handle serializes through the session, so only the mutable
// slots take the core's own lock.
type ServerCore struct {
	cfg        CoreConfig
	registries *RegistryService
	audits     *AuditService
	store      catalog.Store
	classCache *category.Cache
	logger     *slog.Logger
	tracer     trace.Tracer
	// observeCall, when set, records one metrics sample per tools/call.
	observeCall ToolCallObserver

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	registry  *Registry
	record    map[string]interface{}
	reasoning *audit.ReasoningContext

	contextTools map[string]tool.Tool
	contextOrder []string
}

// CoreOption configures a ServerCore.
type CoreOption func(*ServerCore)

// WithCoreLogger sets the core's logger.
func WithCoreLogger(logger *slog.Logger) CoreOption {
	return func(c *ServerCore) {
		c.logger = logger
	}
}

// WithClassificationCache shares the category classification cache across
// sessions.
func WithClassificationCache(cache *category.Cache) CoreOption {
	return func(c *ServerCore) {
		c.classCache = cache
	}
}

// ToolCallObserver receives one sample per tools/call dispatch. status is
// "ok", "error" or "denied".
type ToolCallObserver func(toolType, status string, seconds float64)

// WithToolCallObserver registers a per-call metrics callback.
func WithToolCallObserver(fn ToolCallObserver) CoreOption {
	return func(c *ServerCore) {
		c.observeCall = fn
	}
}

// NewServerCore builds the request handler for one session.
func NewServerCore(cfg CoreConfig, registries *RegistryService, audits *AuditService, store catalog.Store, opts ...CoreOption) *ServerCore {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &ServerCore{
		cfg:        cfg,
		registries: registries,
		audits:     audits,
		store:      store,
		logger:     slog.Default(),
		tracer:     otel.Tracer("actionbridge/mcp"),
		ctx:        ctx,
		cancel:     cancel,
		record:     make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("session_id", cfg.SessionID)
	c.buildContextTools()
	return c
}

var _ session.Core = (*ServerCore)(nil)

// Handle processes one raw JSON-RPC message and returns the raw response,
// or nil for notifications.
func (c *ServerCore) Handle(ctx context.Context, raw []byte) []byte {
	msg, err := mcp.WrapMessage(raw)
	if err != nil {
		return mcp.NewError(nil, mcp.CodeInvalidRequest, "invalid JSON-RPC message")
	}
	if !msg.IsRequest() {
		return nil
	}

	ctx, release := c.inflight(ctx)
	defer release()

	id := msg.RawID()
	notification := msg.IsNotification()

	var result interface{}
	switch msg.Method() {
	case "initialize":
		result, err = c.handleInitialize(ctx)
	case "notifications/initialized", "initialized":
		return nil
	case "tools/list":
		result, err = c.handleToolsList(ctx)
	case "tools/call":
		res, errResp := c.handleToolCall(ctx, id, msg.ParseParams())
		if errResp != nil {
			if notification {
				return nil
			}
			return errResp
		}
		result = res
	case "resources/list":
		result, err = c.handleResourcesList(ctx)
	case "resources/read":
		result, err = c.handleResourceRead(ctx, msg.ParseParams())
	case "ping":
		result = map[string]interface{}{}
	default:
		if notification {
			return nil
		}
		return mcp.NewError(id, mcp.CodeMethodNotFound, fmt.Sprintf("method %q not found", msg.Method()))
	}

	if notification {
		return nil
	}
	if err != nil {
		c.logger.Error("request failed", "method", msg.Method(), "error", err)
		return mcp.NewError(id, mcp.CodeInternalError, err.Error())
	}
	out, encErr := mcp.NewResult(id, result)
	if encErr != nil {
		c.logger.Error("response encoding failed", "method", msg.Method(), "error", encErr)
		return mcp.NewError(id, mcp.CodeInternalError, "failed to encode response")
	}
	return out
}

// Close cancels in-flight work and releases the registry reference. Called
// exactly once by the session manager.
func (c *ServerCore) Close() {
	c.cancel()
	c.mu.Lock()
	c.registry = nil
	c.mu.Unlock()
}

// inflight derives a request context that is also cancelled when the core
// closes.
func (c *ServerCore) inflight(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *ServerCore) handleInitialize(ctx context.Context) (interface{}, error) {
	if _, err := c.ensureRegistry(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"protocolVersion": mcp.ProtocolVersion,
		"serverInfo": map[string]interface{}{
			"name":    serverName,
			"version": c.cfg.Version,
		},
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{"listChanged": true},
			"resources": map[string]interface{}{"subscribe": false, "listChanged": true},
			"prompts":   map[string]interface{}{"listChanged": false},
			"logging":   map[string]interface{}{},
		},
	}, nil
}

func (c *ServerCore) ensureRegistry(ctx context.Context) (*Registry, error) {
	c.mu.Lock()
	reg := c.registry
	c.mu.Unlock()
	if reg != nil {
		return reg, nil
	}
	reg, err := c.registries.Materialize(ctx, c.cfg.AccountID, c.cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("materialize tools: %w", err)
	}
	c.mu.Lock()
	c.registry = reg
	c.mu.Unlock()
	return reg, nil
}

// permissionRequest builds the caller's permission layers for one tool.
// The resolver is request-scoped; only the classification cache is shared.
func (c *ServerCore) permissionRequest(name string, typ tool.Type) permission.Request {
	return permission.Request{
		Name:            name,
		Type:            typ,
		Mode:            c.cfg.Mode,
		AllowedPatterns: c.cfg.AllowedPatterns,
		BlockedPatterns: c.cfg.BlockedPatterns,
		Profile:         c.cfg.Profile,
		Resolver: category.NewResolver(c.store, c.classCache, category.Input{
			AccountID:         c.cfg.AccountID,
			APIKeyID:          c.cfg.KeyID,
			ProjectIdentifier: c.cfg.ProjectIdentifier,
			UserID:            c.cfg.UserID,
		}),
	}
}

func (c *ServerCore) handleToolsList(ctx context.Context) (interface{}, error) {
	reg, err := c.ensureRegistry(ctx)
	if err != nil {
		return nil, err
	}

	descs := make([]tool.Descriptor, 0, len(c.contextOrder)+reg.Len())
	for _, name := range c.contextOrder {
		d := c.contextTools[name].Descriptor()
		decision, err := permission.Check(ctx, c.permissionRequest(d.Name, d.Type))
		if err != nil {
			return nil, err
		}
		if decision.Allowed {
			descs = append(descs, d)
		}
	}

	listed, err := reg.List(ctx, c.permissionRequest("", ""))
	if err != nil {
		return nil, err
	}
	descs = append(descs, listed...)

	out := make([]tool.Descriptor, len(descs))
	for i, d := range descs {
		out[i] = listedDescriptor(d)
	}
	return map[string]interface{}{"tools": out}, nil
}

// listedDescriptor renders a descriptor for tools/list: hints fold into the
// description and a missing schema becomes the empty object schema.
func listedDescriptor(d tool.Descriptor) tool.Descriptor {
	if d.LLMHints != "" {
		d.Description = strings.TrimSpace(d.Description + "\n\n" + d.LLMHints)
		d.LLMHints = ""
	}
	if d.InputSchema == nil {
		d.InputSchema = map[string]interface{}{"type": "object"}
	}
	return d
}

// handleToolCall runs the lookup → permission → audit → execute pipeline.
// The second return value, when non-nil, is a complete JSON-RPC error
// response.
func (c *ServerCore) handleToolCall(ctx context.Context, id json.RawMessage, params map[string]interface{}) (interface{}, []byte) {
	name, _ := params["name"].(string)
	if name == "" {
		return nil, mcp.NewError(id, mcp.CodeInvalidRequest, "tool name is required")
	}
	args, _ := params["arguments"].(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}

	t, ok := c.lookupTool(ctx, name)
	if !ok {
		return nil, mcp.NewError(id, mcp.CodeInternalError, fmt.Sprintf("unknown tool %q", name))
	}
	desc := t.Descriptor()

	start := time.Now()
	status := "ok"
	defer func() {
		if c.observeCall != nil {
			c.observeCall(string(desc.Type), status, time.Since(start).Seconds())
		}
	}()

	decision, err := permission.Check(ctx, c.permissionRequest(desc.Name, desc.Type))
	if err != nil {
		status = "error"
		return nil, mcp.NewError(id, mcp.CodeInternalError, err.Error())
	}
	if !decision.Allowed {
		status = "denied"
		return nil, mcp.NewError(id, mcp.CodeInternalError, decision.Reason)
	}

	reasoning := c.callReasoning(args)

	ctx, span := c.tracer.Start(ctx, "tools/call", trace.WithAttributes(
		attribute.String("tool.name", desc.Name),
		attribute.String("tool.type", string(desc.Type)),
	))
	defer span.End()

	scope := c.audits.Begin(ctx, BeginInput{
		AccountID: c.cfg.AccountID,
		UserID:    c.cfg.UserID,
		SessionID: c.cfg.SessionID,
		Transport: c.cfg.Transport,
		Mode:      c.cfg.Mode,
		Tool:      desc.Name,
		Type:      desc.Type,
		Args:      args,
		Reasoning: reasoning,
	})
	defer scope.Close(ctx)

	res, err := t.Execute(ctx, args)
	if err != nil {
		status = "error"
		scope.SetError(err)
		span.RecordError(err)
		c.logger.Error("tool execution failed", "tool", desc.Name, "error", err)
		return nil, mcp.NewError(id, mcp.CodeInternalError, fmt.Sprintf("tool %q failed: %v", desc.Name, err))
	}

	scope.SetResult(res.Payload)
	if res.IsError {
		status = "error"
		scope.SetFailure(envelopeError(res.Payload))
	}
	if res.Rollback != nil {
		scope.SetRollback(res.Rollback, true)
	}

	text, err := json.Marshal(res.Payload)
	if err != nil {
		status = "error"
		scope.SetError(err)
		return nil, mcp.NewError(id, mcp.CodeInternalError, "failed to encode tool result")
	}
	return map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": string(text)},
		},
		"isError": res.IsError,
	}, nil
}

// lookupTool resolves session-local context tools first, then the registry.
func (c *ServerCore) lookupTool(ctx context.Context, name string) (tool.Tool, bool) {
	if t, ok := c.contextTools[name]; ok {
		return t, true
	}
	reg, err := c.ensureRegistry(ctx)
	if err != nil {
		c.logger.Error("registry unavailable", "error", err)
		return nil, false
	}
	return reg.Lookup(name)
}

// callReasoning merges the session reasoning slot with per-call overrides,
// stripping the override arguments before execution.
func (c *ServerCore) callReasoning(args map[string]interface{}) *audit.ReasoningContext {
	c.mu.Lock()
	slot := c.reasoning
	c.mu.Unlock()

	var rc audit.ReasoningContext
	if slot != nil {
		rc = *slot
	}
	if v, ok := args["_reasoning"].(string); ok {
		rc.Reasoning = v
	}
	delete(args, "_reasoning")
	if v, ok := args["_intent"].(string); ok {
		rc.Intent = v
	}
	delete(args, "_intent")

	if rc == (audit.ReasoningContext{}) {
		return nil
	}
	return &rc
}

// envelopeError extracts the error message from a failure envelope.
func envelopeError(payload interface{}) string {
	if m, ok := payload.(map[string]interface{}); ok {
		if msg, ok := m["error"].(string); ok && msg != "" {
			return msg
		}
	}
	return "tool reported failure"
}
