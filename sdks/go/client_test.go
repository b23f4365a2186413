package actionbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// stubGateway is a minimal in-memory gateway for client tests. It
// accepts one API key, issues incrementing session ids, and serves a
// fixed tool and resource catalog.
type stubGateway struct {
	mu       sync.Mutex
	apiKey   string
	nextID   int
	sessions map[string]bool

	// evictAll drops every live session on the next request, to force
	// the client down its re-initialization path.
	evictAll bool

	initCount int
	callCount int

	rateLimited bool
	toolFails   bool
}

func newStubGateway(apiKey string) *stubGateway {
	return &stubGateway{apiKey: apiKey, sessions: make(map[string]bool)}
}

func (g *stubGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/v1", g.serve)
	return mux
}

func (g *stubGateway) serve(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+g.apiKey {
		writeRPCError(w, http.StatusUnauthorized, -32000, "authentication failed")
		return
	}
	if g.rateLimited {
		writeRPCError(w, http.StatusTooManyRequests, -32000, "rate limit exceeded")
		return
	}
	if g.evictAll {
		g.sessions = make(map[string]bool)
		g.evictAll = false
	}

	if r.Method == http.MethodDelete {
		id := r.Header.Get("Mcp-Session-Id")
		if !g.sessions[id] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(g.sessions, id)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, http.StatusOK, -32700, "parse error")
		return
	}

	if req.Method == "initialize" {
		g.initCount++
		g.nextID++
		id := "sess-" + string(rune('0'+g.nextID))
		g.sessions[id] = true
		w.Header().Set("Mcp-Session-Id", id)
		writeResult(w, req.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]string{"name": "ActionBridge", "version": "test"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		})
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if !g.sessions[sessionID] {
		writeRPCError(w, http.StatusNotFound, -32000, "session not found")
		return
	}
	if req.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	switch req.Method {
	case "ping":
		writeResult(w, req.ID, map[string]any{})
	case "tools/list":
		writeResult(w, req.ID, map[string]any{
			"tools": []map[string]any{
				{"name": "crm_contacts_list", "description": "List contacts", "inputSchema": map[string]any{"type": "object"}},
			},
		})
	case "tools/call":
		g.callCount++
		if g.toolFails {
			writeResult(w, req.ID, map[string]any{
				"content": []map[string]string{{"type": "text", "text": "upstream returned 502"}},
				"isError": true,
			})
			return
		}
		writeResult(w, req.ID, map[string]any{
			"content": []map[string]string{{"type": "text", "text": `{"ok":true}`}},
		})
	case "resources/list":
		writeResult(w, req.ID, map[string]any{
			"resources": []map[string]string{
				{"uri": "systems://crm", "name": "crm", "mimeType": "application/json"},
			},
		})
	case "resources/read":
		writeResult(w, req.ID, map[string]any{
			"contents": []map[string]string{
				{"uri": "systems://crm", "mimeType": "application/json", "text": `{"system":"crm"}`},
			},
		})
	default:
		writeRPCError(w, http.StatusOK, -32601, "method not found")
	}
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0", "id": id, "result": result,
	})
}

func writeRPCError(w http.ResponseWriter, status, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0", "id": nil,
		"error": map[string]any{"code": code, "message": msg},
	})
}

func newTestClient(t *testing.T, gw *stubGateway, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(gw.handler())
	t.Cleanup(srv.Close)
	base := []Option{WithServerAddr(srv.URL), WithAPIKey(gw.apiKey)}
	return NewClient(append(base, opts...)...)
}

func TestInitialize(t *testing.T) {
	gw := newStubGateway("ak_live_test")
	client := newTestClient(t, gw)

	result, err := client.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if result.ServerInfo.Name != "ActionBridge" {
		t.Errorf("server name = %q, want ActionBridge", result.ServerInfo.Name)
	}
	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocol version = %q", result.ProtocolVersion)
	}
	if client.SessionID() == "" {
		t.Error("SessionID() empty after Initialize")
	}
}

func TestLazyInitialization(t *testing.T) {
	gw := newStubGateway("ak_live_test")
	client := newTestClient(t, gw)

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "crm_contacts_list" {
		t.Errorf("tools = %+v", tools)
	}
	if gw.initCount != 1 {
		t.Errorf("initialize count = %d, want 1", gw.initCount)
	}

	// A second call reuses the session.
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if gw.initCount != 1 {
		t.Errorf("initialize count after second call = %d, want 1", gw.initCount)
	}
}

func TestCallTool(t *testing.T) {
	gw := newStubGateway("ak_live_test")
	client := newTestClient(t, gw)

	result, err := client.CallTool(context.Background(), "crm_contacts_list", map[string]any{"limit": 5})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if got := result.Text(); got != `{"ok":true}` {
		t.Errorf("result text = %q", got)
	}
}

func TestCallToolError(t *testing.T) {
	gw := newStubGateway("ak_live_test")
	gw.toolFails = true
	client := newTestClient(t, gw)

	result, err := client.CallTool(context.Background(), "crm_contacts_list", nil)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("CallTool() error = %v, want *ToolError", err)
	}
	if toolErr.Tool != "crm_contacts_list" {
		t.Errorf("ToolError.Tool = %q", toolErr.Tool)
	}
	if result == nil || !result.IsError {
		t.Error("expected the error result to be returned alongside the error")
	}
}

func TestReinitializesOnEvictedSession(t *testing.T) {
	gw := newStubGateway("ak_live_test")
	client := newTestClient(t, gw)

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	first := client.SessionID()

	gw.mu.Lock()
	gw.evictAll = true
	gw.mu.Unlock()

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() after eviction error = %v", err)
	}
	if client.SessionID() == first {
		t.Error("session id unchanged after eviction")
	}
	if gw.initCount != 2 {
		t.Errorf("initialize count = %d, want 2", gw.initCount)
	}
}

func TestAuthFailure(t *testing.T) {
	gw := newStubGateway("ak_live_test")
	client := newTestClient(t, gw, WithAPIKey("ak_live_wrong"))

	_, err := client.ListTools(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("error = %v, want ErrAuthFailed", err)
	}
}

func TestRateLimited(t *testing.T) {
	gw := newStubGateway("ak_live_test")
	client := newTestClient(t, gw)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	gw.mu.Lock()
	gw.rateLimited = true
	gw.mu.Unlock()

	err := client.Ping(context.Background())
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
}

func TestServerUnreachable(t *testing.T) {
	client := NewClient(WithServerAddr("http://127.0.0.1:1"), WithAPIKey("ak_live_test"))
	_, err := client.ListTools(context.Background())
	if !errors.Is(err, ErrServerUnreachable) {
		t.Fatalf("error = %v, want ErrServerUnreachable", err)
	}
}

func TestResources(t *testing.T) {
	gw := newStubGateway("ak_live_test")
	client := newTestClient(t, gw)

	resources, err := client.ListResources(context.Background())
	if err != nil {
		t.Fatalf("ListResources() error = %v", err)
	}
	if len(resources) != 1 || resources[0].URI != "systems://crm" {
		t.Errorf("resources = %+v", resources)
	}

	contents, err := client.ReadResource(context.Background(), "systems://crm")
	if err != nil {
		t.Fatalf("ReadResource() error = %v", err)
	}
	if len(contents.Contents) != 1 || contents.Contents[0].Text != `{"system":"crm"}` {
		t.Errorf("contents = %+v", contents)
	}
}

func TestClose(t *testing.T) {
	gw := newStubGateway("ak_live_test")
	client := newTestClient(t, gw)

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if err := client.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.SessionID() != "" {
		t.Error("SessionID() not cleared after Close")
	}
	if len(gw.sessions) != 0 {
		t.Errorf("gateway still holds %d sessions", len(gw.sessions))
	}

	// Closing again is a no-op.
	if err := client.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
