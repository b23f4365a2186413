package actionbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// sessionIDHeader carries the gateway session id.
const sessionIDHeader = "Mcp-Session-Id"

// errNoSession is the internal marker for a 404 on the session id,
// mapped to ErrSessionExpired after re-initialization fails.
var errNoSession = errors.New("actionbridge: session not found")

// Client is the ActionBridge MCP client. It is safe for concurrent use;
// all calls share one gateway session, established lazily on first use.
type Client struct {
	serverAddr    string
	pathPrefix    string
	apiKey        string
	projectID     string
	clientName    string
	clientVersion string
	timeout       time.Duration
	httpClient    *http.Client
	logger        *slog.Logger

	nextID atomic.Int64

	mu        sync.Mutex
	sessionID string
}

// NewClient creates a client. Configuration defaults come from the
// ACTIONBRIDGE_SERVER_ADDR and ACTIONBRIDGE_API_KEY (or MCP_API_KEY)
// environment variables; options override them.
func NewClient(opts ...Option) *Client {
	apiKey := os.Getenv("ACTIONBRIDGE_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("MCP_API_KEY")
	}
	c := &Client{
		serverAddr:    os.Getenv("ACTIONBRIDGE_SERVER_ADDR"),
		pathPrefix:    "/mcp/v1",
		apiKey:        apiKey,
		clientName:    "actionbridge-go",
		clientVersion: "0.9.0",
		timeout:       30 * time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c
}

// SessionID returns the current gateway session id, or "" before the
// first call.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Initialize opens a gateway session explicitly and returns the server's
// initialize result. Calling it is optional; every method initializes
// lazily when no session exists.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initializeLocked(ctx)
}

// initializeLocked performs the initialize handshake. Caller holds mu.
func (c *Client) initializeLocked(ctx context.Context) (*InitializeResult, error) {
	params := map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo": map[string]string{
			"name":    c.clientName,
			"version": c.clientVersion,
		},
	}
	raw, sessionID, err := c.post(ctx, "", c.envelope("initialize", params))
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, errors.New("actionbridge: initialize response carried no session id")
	}

	var result InitializeResult
	if err := decodeResult(raw, &result); err != nil {
		return nil, err
	}
	c.sessionID = sessionID

	// Fire the initialized notification; a failure here is not fatal.
	notif, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	})
	if _, _, err := c.post(ctx, sessionID, notif); err != nil {
		c.logger.Debug("initialized notification failed", "error", err)
	}
	return &result, nil
}

// ListTools returns the tools materialized for this session's key.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := c.call(ctx, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes one tool. When the gateway reports a tool-level
// failure (isError), the result is returned together with a *ToolError
// so callers can inspect the error envelope.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*CallToolResult, error) {
	params := map[string]any{"name": name}
	if arguments != nil {
		params["arguments"] = arguments
	}
	var result CallToolResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return nil, err
	}
	if result.IsError {
		return &result, &ToolError{Tool: name, Message: result.Text()}
	}
	return &result, nil
}

// ListResources returns the session's readable resources.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	var result struct {
		Resources []Resource `json:"resources"`
	}
	if err := c.call(ctx, "resources/list", nil, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ReadResource reads one systems:// resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error) {
	var result ReadResourceResult
	if err := c.call(ctx, "resources/read", map[string]any{"uri": uri}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping checks the session is alive.
func (c *Client) Ping(ctx context.Context) error {
	var result map[string]any
	return c.call(ctx, "ping", nil, &result)
}

// Close terminates the gateway session. The client may be reused; the
// next call opens a fresh session.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()
	if sessionID == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint(), nil)
	if err != nil {
		return err
	}
	c.setHeaders(req, sessionID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	// 404 means the gateway already evicted the session.
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return &HTTPError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}
	return nil
}

// call dispatches one request on the current session, initializing it if
// needed and re-initializing once when the gateway evicted it.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionID == "" {
		if _, err := c.initializeLocked(ctx); err != nil {
			return err
		}
	}

	raw, _, err := c.post(ctx, c.sessionID, c.envelope(method, params))
	if errors.Is(err, errNoSession) {
		c.logger.Debug("session evicted, re-initializing", "method", method)
		c.sessionID = ""
		if _, initErr := c.initializeLocked(ctx); initErr != nil {
			return fmt.Errorf("%w: %v", ErrSessionExpired, initErr)
		}
		raw, _, err = c.post(ctx, c.sessionID, c.envelope(method, params))
		if errors.Is(err, errNoSession) {
			return ErrSessionExpired
		}
	}
	if err != nil {
		return err
	}
	return decodeResult(raw, result)
}

// envelope builds one JSON-RPC request body.
func (c *Client) envelope(method string, params any) []byte {
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      c.nextID.Add(1),
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}
	raw, _ := json.Marshal(req)
	return raw
}

// post sends one JSON-RPC body and returns the raw response body and the
// session id header. A 202 (notification accepted) returns nil raw.
func (c *Client) post(ctx context.Context, sessionID string, body []byte) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req, sessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", fmt.Errorf("reading response: %w", err)
		}
		return raw, resp.Header.Get(sessionIDHeader), nil
	case http.StatusAccepted:
		return nil, resp.Header.Get(sessionIDHeader), nil
	case http.StatusUnauthorized:
		return nil, "", fmt.Errorf("%w: %s", ErrAuthFailed, rpcMessage(resp.Body))
	case http.StatusNotFound:
		return nil, "", errNoSession
	case http.StatusTooManyRequests:
		return nil, "", fmt.Errorf("%w: %s", ErrRateLimited, rpcMessage(resp.Body))
	default:
		return nil, "", &HTTPError{StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}
}

func (c *Client) endpoint() string {
	return strings.TrimRight(c.serverAddr, "/") + c.pathPrefix
}

func (c *Client) setHeaders(req *http.Request, sessionID string) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.projectID != "" {
		req.Header.Set("X-Project-Id", c.projectID)
	}
	if sessionID != "" {
		req.Header.Set(sessionIDHeader, sessionID)
	}
}

// decodeResult unpacks a JSON-RPC response body into result, surfacing
// the gateway's error object as *RPCError.
func decodeResult(raw []byte, result any) error {
	if raw == nil {
		return nil
	}
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil || resp.Result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}

// rpcMessage extracts the error message of a JSON-RPC error body, for
// wrapping into sentinel errors.
func rpcMessage(r io.Reader) string {
	var resp struct {
		Error *RPCError `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&resp); err != nil || resp.Error == nil {
		return "no detail"
	}
	return resp.Error.Message
}

// readBody returns up to 512 bytes of a response body for error text.
func readBody(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(raw))
}
