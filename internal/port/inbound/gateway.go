// Package inbound defines the ports inbound transports (HTTP, stdio) call
// into the gateway core.
package inbound

import (
	"context"
)

// Gateway is the transport-facing surface of the gateway. A transport
// authenticates the caller, opens a session, and pumps raw JSON-RPC frames
// through it; the core owns dispatch, registry and execution.
type Gateway interface {
	// Authenticate verifies a raw API key and returns the session template
	// (account, key, mode, project scope) subsequent calls bind to.
	Authenticate(ctx context.Context, rawKey string) (Principal, error)

	// OpenSession creates a session for the principal on the given
	// transport ("http" or "stdio"). Returns the session id.
	OpenSession(ctx context.Context, p Principal, transport string) (string, error)

	// Dispatch runs one raw JSON-RPC message (single or batch) through the
	// session's core and returns the raw response. A nil response means the
	// message was a notification.
	Dispatch(ctx context.Context, sessionID string, raw []byte) ([]byte, error)

	// CloseSession tears the session down explicitly.
	CloseSession(ctx context.Context, sessionID string) error
}

// Principal is the authenticated identity a transport binds a session to.
type Principal struct {
	AccountID string
	KeyID     string
	Mode      string
	// ProjectID is the key's project scope; empty means account-wide.
	ProjectID string
	// Admin marks keys allowed to override the project scope per request.
	Admin bool
}
