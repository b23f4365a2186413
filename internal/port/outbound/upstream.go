// Package outbound defines the outbound port interfaces the executor
// depends on for reaching third-party systems.
package outbound

import (
	"context"
	"time"

	"github.com/actionbridge/actionbridge/internal/domain/action"
	"github.com/actionbridge/actionbridge/internal/domain/catalog"
	"github.com/actionbridge/actionbridge/internal/domain/credential"
)

// Default per-call deadlines applied by callers when Request.Timeout is zero.
const (
	// SingleCallTimeout bounds one non-paginated upstream call.
	SingleCallTimeout = 30 * time.Second
	// PageCallTimeout bounds each page of an auto-paginated call.
	PageCallTimeout = 60 * time.Second
)

// Request is one fully-resolved upstream HTTP call: URL already built,
// placeholders substituted, auth headers merged in. The caller only encodes
// and transports it.
type Request struct {
	// System is the target system alias, carried for logging and metrics
	// labels only. It never affects the wire request.
	System string
	// Method is the HTTP verb.
	Method string
	// URL is the absolute request URL without query parameters.
	URL string
	// Query carries reader-call arguments as query parameters.
	Query map[string]string
	// Headers are the merged static and auth headers.
	Headers map[string]string
	// Body is the writer-call payload; nil for readers.
	Body map[string]interface{}
	// ContentType selects the body encoding. Types containing "json"
	// (and the empty string) encode JSON; anything else form-encodes.
	ContentType string
	// Timeout overrides the caller's default per-call deadline when set.
	Timeout time.Duration
}

// Caller performs upstream HTTP calls on behalf of the executor. It never
// returns a Go error: every outcome, including network failures and
// deadline expiry, is folded into the CallResult union.
type Caller interface {
	Call(ctx context.Context, req Request) action.CallResult
}

// TokenRefresher obtains a fresh OAuth2 access token for a credential via
// the resource-owner password grant described by the interface auth config.
type TokenRefresher interface {
	// Refresh posts the password grant and returns the new access token with
	// its absolute expiry. Implementations persist the token before returning.
	Refresh(ctx context.Context, cfg catalog.AuthConfig, cred *credential.Credential) (token string, expiresAt time.Time, err error)
}
