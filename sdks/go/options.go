package actionbridge

import (
	"log/slog"
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithServerAddr sets the gateway base address, e.g. "http://127.0.0.1:8080".
// Defaults to the ACTIONBRIDGE_SERVER_ADDR environment variable.
func WithServerAddr(addr string) Option {
	return func(c *Client) {
		c.serverAddr = addr
	}
}

// WithAPIKey sets the ak_live_ API key used on every request.
// Defaults to ACTIONBRIDGE_API_KEY, then MCP_API_KEY.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithPathPrefix overrides the MCP endpoint prefix (default "/mcp/v1").
func WithPathPrefix(prefix string) Option {
	return func(c *Client) {
		c.pathPrefix = prefix
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 seconds;
// tool calls against slow upstreams may need more.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient sets a custom http.Client, for testing or custom
// transport configuration.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithProjectID sets the X-Project-Id override header. The gateway only
// honors it for admin keys.
func WithProjectID(id string) Option {
	return func(c *Client) {
		c.projectID = id
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClientInfo sets the name/version reported in initialize.
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.clientName = name
		c.clientVersion = version
	}
}
