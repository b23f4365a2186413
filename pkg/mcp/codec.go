package mcp

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// EncodeMessage serializes a JSON-RPC message to its wire format.
// This delegates to the MCP SDK's jsonrpc package.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes JSON-RPC wire format data into a Message.
// It returns either a *jsonrpc.Request or *jsonrpc.Response based on the message content.
// This delegates to the MCP SDK's jsonrpc package.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// WrapMessage decodes raw JSON-RPC bytes and wraps them in a Message struct
// with the current timestamp.
func WrapMessage(raw []byte) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:       raw,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}

// SplitBatch splits raw bytes into individual JSON-RPC messages.
// JSON-RPC 2.0 batches arrive as a top-level array; single messages are
// returned as a one-element slice with batch=false. An empty batch is an
// invalid request per the JSON-RPC spec and is reported as an error by
// returning (nil, true, nil) for the caller to reject.
func SplitBatch(raw []byte) (msgs []json.RawMessage, batch bool, err error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return []json.RawMessage{raw}, false, nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, true, err
	}
	return parts, true, nil
}

// resultEnvelope is the wire form of a successful JSON-RPC response.
type resultEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
}

// errorEnvelope is the wire form of a JSON-RPC error response.
type errorEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   errorBody       `json:"error"`
}

type errorBody struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewResult builds a JSON-RPC result response for the given raw id.
// The id bytes are echoed verbatim so number/string ids round-trip exactly.
func NewResult(id json.RawMessage, result interface{}) ([]byte, error) {
	if id == nil {
		id = json.RawMessage("null")
	}
	return json.Marshal(resultEnvelope{JSONRPC: "2.0", ID: id, Result: result})
}

// NewError builds a JSON-RPC error response for the given raw id.
// Marshaling cannot fail for the envelope itself, so the bytes are
// returned directly.
func NewError(id json.RawMessage, code int, message string) []byte {
	return newErrorData(id, code, message, nil)
}

// NewErrorData builds a JSON-RPC error response carrying an error data payload.
func NewErrorData(id json.RawMessage, code int, message string, data interface{}) []byte {
	return newErrorData(id, code, message, data)
}

func newErrorData(id json.RawMessage, code int, message string, data interface{}) []byte {
	if id == nil {
		id = json.RawMessage("null")
	}
	out, err := json.Marshal(errorEnvelope{
		JSONRPC: "2.0",
		ID:      id,
		Error:   errorBody{Code: code, Message: message, Data: data},
	})
	if err != nil {
		// Data payload refused to marshal; drop it rather than the response.
		out, _ = json.Marshal(errorEnvelope{
			JSONRPC: "2.0",
			ID:      id,
			Error:   errorBody{Code: code, Message: message},
		})
	}
	return out
}
