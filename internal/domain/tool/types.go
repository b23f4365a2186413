// Package tool contains the Tool abstraction every callable operation of
// the gateway implements, plus the deterministic name sanitizer used when
// materializing tools from catalog records.
package tool

import (
	"context"
)

// Type partitions tools by side-effect class for permission checks.
type Type string

const (
	// TypeSystemRead is a generated tool whose action method is a reader.
	TypeSystemRead Type = "system_read"
	// TypeSystemWrite is a generated tool whose action method mutates state.
	TypeSystemWrite Type = "system_write"
	// TypeContext covers session-local tools with no external side effects.
	TypeContext Type = "context"
	// TypeResource tags MCP resource reads in the audit log.
	TypeResource Type = "resource"
)

// IsValid returns true for the tool types the permission checker knows.
func (t Type) IsValid() bool {
	switch t {
	case TypeSystemRead, TypeSystemWrite, TypeContext, TypeResource:
		return true
	default:
		return false
	}
}

// IsWrite reports whether the type requires power mode.
func (t Type) IsWrite() bool {
	return t == TypeSystemWrite
}

// Descriptor is the static, listable view of a tool.
type Descriptor struct {
	// Name is the sanitized tool name agents call.
	Name string `json:"name"`
	// Description is the human and LLM facing description.
	Description string `json:"description,omitempty"`
	// LLMHints carries extra guidance appended to the description on listing.
	LLMHints string `json:"llm_hints,omitempty"`
	// InputSchema is the JSON Schema advertised for the tool's arguments.
	// Auto-injected path parameters are already removed.
	InputSchema map[string]interface{} `json:"inputSchema"`
	// OutputSchema optionally describes the result shape.
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`
	// Type drives the permission check for this tool.
	Type Type `json:"-"`
	// Examples are example argument sets surfaced to agents.
	Examples []map[string]interface{} `json:"examples,omitempty"`
}

// Result is what a tool execution produces. Payload is JSON-encodable;
// IsError marks result envelopes that represent a failed operation
// (surfaced to MCP clients as isError content, never as a protocol error).
type Result struct {
	Payload interface{}
	IsError bool
	// Rollback, when non-nil, is the inverse-operation payload the caller
	// records in the audit log, marking the call reversible.
	Rollback map[string]interface{}
}

// Tool is a named, schema-typed operation callable by an agent.
// Implementations never return a Go error for upstream or validation
// problems; those travel inside the Result envelope. An error return is
// reserved for gateway-internal failures.
type Tool interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, args map[string]interface{}) (Result, error)
}
