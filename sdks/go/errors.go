package actionbridge

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrAuthFailed is returned when the gateway rejects the API key.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrSessionExpired is returned when the gateway no longer knows the
	// client's session. The client re-initializes automatically once per
	// call; this surfaces only when re-initialization also fails.
	ErrSessionExpired = errors.New("session expired")

	// ErrRateLimited is returned when the gateway sheds the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrServerUnreachable is returned when the gateway cannot be contacted.
	ErrServerUnreachable = errors.New("server unreachable")
)

// RPCError is a JSON-RPC error returned by the gateway.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error returns the code and message.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ToolError is returned by CallTool when the tool result carries
// isError: true, meaning an upstream or permission failure reported in-band.
type ToolError struct {
	// Tool is the tool name that failed.
	Tool string
	// Message is the result's text content.
	Message string
}

// Error returns a human-readable description of the tool failure.
func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// HTTPError is a non-2xx transport response that did not decode to a
// JSON-RPC error.
type HTTPError struct {
	// StatusCode is the HTTP status.
	StatusCode int
	// Body is the raw response body, truncated.
	Body string
}

// Error returns the status and body.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Body)
}
