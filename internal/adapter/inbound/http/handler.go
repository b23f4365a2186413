package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/actionbridge/actionbridge/internal/domain/session"
	"github.com/actionbridge/actionbridge/internal/port/inbound"
	"github.com/actionbridge/actionbridge/pkg/mcp"
)

const (
	// MCPSessionIDHeader carries the session id between requests.
	MCPSessionIDHeader = "Mcp-Session-Id"

	// projectIDHeader is the admin-only per-request project override.
	projectIDHeader = "X-Project-Id"

	// maxRequestBodySize caps POST bodies at 1 MB.
	maxRequestBodySize = 1 << 20

	// defaultKeepalive is the SSE keepalive comment interval.
	defaultKeepalive = 15 * time.Second
)

// Handler serves the MCP endpoint: POST dispatches JSON-RPC, GET opens
// an SSE stream, DELETE terminates the session.
type Handler struct {
	gw        inbound.Gateway
	sessions  *session.Manager
	logger    *slog.Logger
	keepalive time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithKeepaliveInterval overrides the SSE keepalive interval.
func WithKeepaliveInterval(d time.Duration) HandlerOption {
	return func(h *Handler) {
		h.keepalive = d
	}
}

// NewHandler creates the MCP endpoint handler.
func NewHandler(gw inbound.Gateway, sessions *session.Manager, opts ...HandlerOption) *Handler {
	h := &Handler{
		gw:        gw,
		sessions:  sessions,
		logger:    slog.Default(),
		keepalive: defaultKeepalive,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	case http.MethodOptions:
		handleOptions(w)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handlePost reads one JSON-RPC payload and dispatches it. initialize
// creates the session; everything else requires the session header.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		writeRPCError(w, http.StatusUnauthorized, nil, mcp.CodeAuthError, "missing API key")
		return
	}

	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		writeRPCError(w, http.StatusOK, nil, mcp.CodeParseError, "content type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeRPCError(w, http.StatusOK, nil, mcp.CodeParseError, "request body too large (max 1MB)")
			return
		}
		writeRPCError(w, http.StatusOK, nil, mcp.CodeParseError, "failed to read request body")
		return
	}
	if len(body) == 0 || !json.Valid(body) {
		writeRPCError(w, http.StatusOK, nil, mcp.CodeParseError, "invalid JSON")
		return
	}

	sessionID := r.Header.Get(MCPSessionIDHeader)
	if sessionID == "" && isInitialize(body) {
		sessionID, err = h.gw.OpenSession(r.Context(), principal, "http")
		if err != nil {
			if errors.Is(err, session.ErrSessionLimit) {
				writeRPCError(w, http.StatusTooManyRequests, nil, mcp.CodeAuthError, "session limit reached")
				return
			}
			h.logger.Error("session open failed", "error", err)
			writeRPCError(w, http.StatusOK, nil, mcp.CodeInternalError, "failed to open session")
			return
		}
	}
	if sessionID == "" {
		writeRPCError(w, http.StatusNotFound, nil, mcp.CodeAuthError, "session required: send initialize first")
		return
	}

	resp, err := h.gw.Dispatch(r.Context(), sessionID, body)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeRPCError(w, http.StatusNotFound, nil, mcp.CodeAuthError, "unknown or expired session")
			return
		}
		h.logger.Error("dispatch failed", "session_id", sessionID, "error", err)
		writeRPCError(w, http.StatusOK, nil, mcp.CodeInternalError, "internal error")
		return
	}

	w.Header().Set(MCPSessionIDHeader, sessionID)

	// notifications only
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		writeSSEResponse(w, resp)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

// handleGet upgrades to an SSE stream: a session event, the initialized
// notification, then keepalive comments until disconnect or expiry.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	sessionID := r.Header.Get(MCPSessionIDHeader)
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header required", http.StatusBadRequest)
		return
	}
	if _, err := h.sessions.Get(sessionID); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(MCPSessionIDHeader, sessionID)

	_, _ = fmt.Fprintf(w, "event: session\ndata: {\"sessionId\":%q}\n\n", sessionID)
	_, _ = fmt.Fprintf(w, "data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/initialized\"}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := h.sessions.Touch(sessionID); err != nil {
				return
			}
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleDelete terminates the session.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(MCPSessionIDHeader)
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header required", http.StatusBadRequest)
		return
	}
	if err := h.gw.CloseSession(r.Context(), sessionID); err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOptions answers CORS preflight.
func handleOptions(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers",
		"Content-Type, Authorization, Mcp-Session-Id, X-Project-Id, X-Request-ID")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// isInitialize reports whether the payload's (first) request is the MCP
// initialize handshake.
func isInitialize(body []byte) bool {
	first := body
	if msgs, batch, err := mcp.SplitBatch(body); err == nil && batch && len(msgs) > 0 {
		first = msgs[0]
	}
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(first, &probe); err != nil {
		return false
	}
	return probe.Method == "initialize"
}

// writeSSEResponse streams the response as SSE frames, one per message.
func writeSSEResponse(w http.ResponseWriter, resp []byte) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	frames := [][]byte{resp}
	if bytes.HasPrefix(bytes.TrimSpace(resp), []byte("[")) {
		var parts []json.RawMessage
		if err := json.Unmarshal(resp, &parts); err == nil {
			frames = frames[:0]
			for _, p := range parts {
				frames = append(frames, p)
			}
		}
	}
	for _, frame := range frames {
		_, _ = fmt.Fprintf(w, "data: %s\n\n", frame)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// writeRPCError writes a JSON-RPC error body with the given HTTP status.
func writeRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(mcp.NewError(id, code, message))
}
