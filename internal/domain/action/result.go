package action

import (
	"fmt"
)

// CallKind discriminates the upstream call result union.
type CallKind int

const (
	// CallOk is a 2xx/3xx response with parsed data.
	CallOk CallKind = iota
	// CallUpstreamErr is an HTTP >= 400 response from the remote system.
	CallUpstreamErr
	// CallTransport is a network-level failure before a response arrived.
	CallTransport
	// CallTimeout is a per-call deadline expiry.
	CallTimeout
)

// CallResult is the outcome of one upstream HTTP round-trip. Exactly one
// variant applies, selected by Kind. The executor translates results into
// client-facing envelopes; a CallResult never carries credential material.
type CallResult struct {
	Kind CallKind
	// Status is the HTTP status code (Ok and UpstreamErr).
	Status int
	// Data is the parsed JSON body, or {"text": body} when parsing failed.
	Data interface{}
	// Msg describes the failure (UpstreamErr, Transport, Timeout).
	Msg string
}

// Ok builds a success result.
func Ok(status int, data interface{}) CallResult {
	return CallResult{Kind: CallOk, Status: status, Data: data}
}

// UpstreamErr builds a remote-error result.
func UpstreamErr(status int, data interface{}, msg string) CallResult {
	return CallResult{Kind: CallUpstreamErr, Status: status, Data: data, Msg: msg}
}

// TransportErr builds a network-failure result.
func TransportErr(msg string) CallResult {
	return CallResult{Kind: CallTransport, Msg: msg}
}

// TimeoutErr builds a deadline-expiry result.
func TimeoutErr() CallResult {
	return CallResult{Kind: CallTimeout, Msg: "timeout"}
}

// Envelope renders the result as the client-facing map the executor
// returns from tool calls. The shape is stable:
//
//	success: {"success": true, "data": ...}
//	failure: {"success": false, "error": ..., "status_code"?, "error_data"?}
func (r CallResult) Envelope() map[string]interface{} {
	switch r.Kind {
	case CallOk:
		return map[string]interface{}{"success": true, "data": r.Data}
	case CallUpstreamErr:
		env := map[string]interface{}{
			"success":     false,
			"error":       r.Msg,
			"status_code": r.Status,
		}
		if r.Data != nil {
			env["error_data"] = r.Data
		}
		return env
	case CallTimeout:
		return map[string]interface{}{"success": false, "error": "timeout"}
	default:
		return map[string]interface{}{"success": false, "error": r.Msg}
	}
}

// ValidationEnvelope renders a pre-dispatch validation failure in the same
// envelope shape as upstream failures.
func ValidationEnvelope(format string, args ...interface{}) map[string]interface{} {
	return map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf(format, args...),
	}
}
