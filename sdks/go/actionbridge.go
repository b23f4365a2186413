// Package actionbridge is the Go client SDK for the ActionBridge MCP
// gateway. It speaks JSON-RPC 2.0 over the gateway's streamable HTTP
// endpoint, handling session establishment (Mcp-Session-Id) and
// re-initialization transparently.
//
// Basic usage:
//
//	client := actionbridge.NewClient(
//		actionbridge.WithServerAddr("http://127.0.0.1:8080"),
//		actionbridge.WithAPIKey(os.Getenv("MCP_API_KEY")),
//	)
//	defer client.Close(context.Background())
//
//	tools, err := client.ListTools(ctx)
//	result, err := client.CallTool(ctx, "crm_contacts_list", map[string]any{"limit": 10})
package actionbridge

import "encoding/json"

// ServerInfo identifies the gateway in the initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the gateway's initialize response.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ServerInfo      ServerInfo      `json:"serverInfo"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
}

// Tool describes one callable tool from tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Resource describes one readable resource from resources/list.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Content is one content block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the result of tools/call. IsError marks a tool-level
// failure carried inside a successful JSON-RPC response.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text returns the concatenated text blocks of the result.
func (r *CallToolResult) Text() string {
	out := ""
	for _, c := range r.Content {
		out += c.Text
	}
	return out
}

// ResourceContents is one entry of a resources/read result.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ReadResourceResult is the result of resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}
