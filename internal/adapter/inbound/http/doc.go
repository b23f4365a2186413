// Package http is the streamable HTTP transport for the gateway.
//
// A single endpoint (default /mcp/v1) carries the whole MCP session
// lifecycle:
//
//	POST   - authenticate, dispatch JSON-RPC (single or batch)
//	GET    - upgrade to an SSE stream with 15s keepalives
//	DELETE - terminate the session
//
// Authentication is an API key in the Authorization header (Bearer) or
// the api_key query parameter. The initialize request creates a session
// and returns its id in the Mcp-Session-Id header; every later request
// presents that header. Admin keys may override the project scope per
// request with X-Project-Id.
//
// Requests pass through middleware in this order: metrics, request id,
// real IP, origin check, rate limit, auth. /health and /metrics are
// served on the same mux, outside the MCP chain.
package http
