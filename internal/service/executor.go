package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/actionbridge/actionbridge/internal/domain/action"
	"github.com/actionbridge/actionbridge/internal/domain/catalog"
	"github.com/actionbridge/actionbridge/internal/domain/credential"
	"github.com/actionbridge/actionbridge/internal/port/outbound"
)

// ExecTarget identifies one resolved action plus its project context.
type ExecTarget struct {
	System    *catalog.System
	Interface *catalog.Interface
	Action    *catalog.Action

	// ProjectID scopes credential resolution when the bound integration
	// uses project credentials.
	ProjectID *string
	// ExternalID fills the first recognized project placeholder.
	ExternalID string
	// ProjectScoped is true when the integration's credential_source is
	// project.
	ProjectScoped bool
}

// ExecutorService turns a resolved action and an argument map into an
// upstream HTTP round-trip: parameter injection, path substitution,
// credential resolution, dispatch (single or paginated), envelope. It never
// returns a Go error for upstream problems; every outcome is an envelope.
type ExecutorService struct {
	caller    outbound.Caller
	refresher outbound.TokenRefresher
	creds     credential.Store
	logger    *slog.Logger
	now       func() time.Time
}

// ExecutorOption configures ExecutorService.
type ExecutorOption func(*ExecutorService)

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *ExecutorService) {
		e.logger = logger
	}
}

// NewExecutorService creates an executor dispatching through caller and
// refreshing OAuth tokens through refresher.
func NewExecutorService(caller outbound.Caller, refresher outbound.TokenRefresher, creds credential.Store, opts ...ExecutorOption) *ExecutorService {
	e := &ExecutorService{
		caller:    caller,
		refresher: refresher,
		creds:     creds,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one action call end to end. args is consumed (placeholder
// substitution removes keys) and must not be reused by the caller.
func (e *ExecutorService) Execute(ctx context.Context, target ExecTarget, args map[string]interface{}) map[string]interface{} {
	if args == nil {
		args = map[string]interface{}{}
	}
	act := target.Action

	action.AutoInject(act.Path, args, target.ExternalID)

	fetchAll := false
	if v, ok := args[action.FetchAllKey]; ok {
		fetchAll, _ = v.(bool)
		delete(args, action.FetchAllKey)
	}

	path, err := action.SubstitutePath(act.Path, args)
	if err != nil {
		return action.ValidationEnvelope("%v", err)
	}

	headers, envErr := e.authHeaders(ctx, target)
	if envErr != nil {
		return envErr
	}
	for k, v := range act.Headers {
		headers[k] = v
	}

	callURL := e.callURL(target, path)
	contentType := act.Headers["Content-Type"]

	if pageCfg, paginates := action.ParsePageConfig(act.Pagination); fetchAll && paginates && act.IsReader() {
		pageCfg.ApplyOverrides(args)
		base := action.ShapeRequest(act.Method, args)
		fetch := func(ctx context.Context, page, size int) action.CallResult {
			query := make(map[string]string, len(base.Query)+2)
			for k, v := range base.Query {
				query[k] = v
			}
			query[pageCfg.PageParam] = action.Stringify(page)
			query[pageCfg.SizeParam] = action.Stringify(size)
			return e.caller.Call(ctx, outbound.Request{
				System:  target.System.Alias,
				Method:  act.Method,
				URL:     callURL,
				Query:   query,
				Headers: headers,
				Timeout: outbound.PageCallTimeout,
			})
		}
		return action.Collect(ctx, pageCfg, fetch)
	}

	shape := action.ShapeRequest(act.Method, args)
	res := e.caller.Call(ctx, outbound.Request{
		System:      target.System.Alias,
		Method:      act.Method,
		URL:         callURL,
		Query:       shape.Query,
		Headers:     headers,
		Body:        shape.Body,
		ContentType: contentType,
		Timeout:     outbound.SingleCallTimeout,
	})
	return res.Envelope()
}

// Rollback executes the inverse HTTP call described by a rollback payload
// carrying method and path. Payloads without both fields are descriptive
// only; executed reports whether a call was dispatched.
func (e *ExecutorService) Rollback(ctx context.Context, target ExecTarget, data map[string]interface{}) (envelope map[string]interface{}, executed bool) {
	method, _ := data["method"].(string)
	path, _ := data["path"].(string)
	if method == "" || path == "" {
		return nil, false
	}

	headers, envErr := e.authHeaders(ctx, target)
	if envErr != nil {
		return envErr, true
	}
	var body map[string]interface{}
	if b, ok := data["body"].(map[string]interface{}); ok {
		body = b
	}
	res := e.caller.Call(ctx, outbound.Request{
		System:  target.System.Alias,
		Method:  method,
		URL:     e.callURL(target, path),
		Headers: headers,
		Body:    body,
		Timeout: outbound.SingleCallTimeout,
	})
	return res.Envelope(), true
}

// callURL joins the effective base URL with the substituted path. A
// base_url system variable overrides the interface base URL.
func (e *ExecutorService) callURL(target ExecTarget, path string) string {
	baseURL := target.Interface.BaseURL
	if v, ok := target.System.Variables["base_url"]; ok && v != "" {
		baseURL = v
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(baseURL, "/") + path
}

// authHeaders resolves the credential and derives outbound auth headers for
// the interface auth mode. A non-nil envelope means failure.
func (e *ExecutorService) authHeaders(ctx context.Context, target ExecTarget) (map[string]string, map[string]interface{}) {
	cfg := target.Interface.ParsedAuth
	headers := map[string]string{}
	if cfg.Type == catalog.AuthNone || cfg.Type == "" {
		return headers, nil
	}

	var projectID *string
	if target.ProjectScoped {
		projectID = target.ProjectID
	}
	cred, err := e.creds.Get(ctx, target.System.AccountID, target.System.Alias, projectID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, action.ValidationEnvelope("no credential configured for system %q", target.System.Alias)
		}
		e.logger.Error("credential lookup failed", "system", target.System.Alias, "error", err)
		return nil, action.ValidationEnvelope("credential lookup failed for system %q", target.System.Alias)
	}

	switch cfg.Type {
	case catalog.AuthSession:
		sess, err := cred.SessionHeaders(e.now())
		if err != nil {
			return nil, action.ValidationEnvelope("no valid browser session for system %q", target.System.Alias)
		}
		for k, v := range sess {
			headers[k] = v
		}
		return headers, nil

	case catalog.AuthOAuth2Password:
		token := cred.OAuthAccessToken
		if !cred.OAuthValid(e.now()) {
			refreshed, _, err := e.refresher.Refresh(ctx, cfg, cred)
			if err != nil {
				e.logger.Warn("oauth refresh failed", "system", target.System.Alias, "error", err)
				return nil, action.ValidationEnvelope("oauth token refresh failed for system %q", target.System.Alias)
			}
			token = refreshed
		}
		headers["Authorization"] = "Bearer " + token
		return headers, nil

	case catalog.AuthAPIKey:
		if cred.APIKey == "" {
			return nil, action.ValidationEnvelope("no usable credential for system %q", target.System.Alias)
		}
		header := cred.CustomSettings["api_key_header"]
		if header == "" {
			header = cfg.Header
		}
		if header == "" {
			header = credential.DefaultAPIKeyHeader
		}
		headers[header] = cred.APIKey
		return headers, nil

	default:
		auth, err := cred.AuthHeaders(e.now())
		if errors.Is(err, credential.ErrOAuthExpired) {
			if _, _, rerr := e.refresher.Refresh(ctx, cfg, cred); rerr != nil {
				e.logger.Warn("oauth refresh failed", "system", target.System.Alias, "error", rerr)
				return nil, action.ValidationEnvelope("oauth token refresh failed for system %q", target.System.Alias)
			}
			auth, err = cred.AuthHeaders(e.now())
		}
		if err != nil {
			return nil, action.ValidationEnvelope("no usable credential for system %q", target.System.Alias)
		}
		for k, v := range auth {
			headers[k] = v
		}
		return headers, nil
	}
}
