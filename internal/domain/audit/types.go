// Package audit contains the immutable audit entry written for every tool
// dispatch, the parameter sanitizer and result summarizer applied before
// persistence, and the store contract audit tools are served from.
package audit

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/actionbridge/actionbridge/internal/domain/tool"
)

// ReasoningContext is the AI-stated intent captured alongside a tool call.
// Set per session via set_reasoning_context and overridable per call.
type ReasoningContext struct {
	// Reasoning is the model's stated chain of thought for the action.
	Reasoning string `json:"reasoning,omitempty"`
	// Intent is the one-line goal of the action.
	Intent string `json:"intent,omitempty"`
	// ContextSummary describes the task the action belongs to.
	ContextSummary string `json:"context_summary,omitempty"`
	// CorrelationID groups related actions; auto-generated when empty.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// RollbackSpec is the caller-provided inverse of a write operation.
type RollbackSpec struct {
	// Reversible marks the entry as undoable.
	Reversible bool `json:"is_reversible"`
	// Data carries whatever the rollback executor needs: at minimum a
	// type tag, optionally method and path for an inverse HTTP call.
	Data map[string]interface{} `json:"rollback_data,omitempty"`
}

// Entry is one audit record. Immutable once written except for the
// rolled-back triple, which flips exactly once via MarkRolledBack.
type Entry struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	UserID    string `json:"user_id,omitempty"`
	// CorrelationID groups related entries; 8 hex characters.
	CorrelationID string `json:"correlation_id"`
	// ParentID references the entry that spawned this one, if any.
	ParentID string `json:"parent_id,omitempty"`

	ToolName string    `json:"tool_name"`
	ToolType tool.Type `json:"tool_type"`
	// Parameters are the sanitized call arguments.
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	// Result is the summarized call result.
	Result     interface{} `json:"result,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	Success    bool        `json:"success"`
	ErrorMsg   string      `json:"error_message,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	Transport string `json:"transport,omitempty"`
	Mode      string `json:"mode,omitempty"`

	// Captured reasoning triple.
	Reasoning      string `json:"reasoning,omitempty"`
	Intent         string `json:"intent,omitempty"`
	ContextSummary string `json:"context_summary,omitempty"`

	// Rollback triple. RolledBack implies Reversible and a non-empty
	// RollbackAuditID.
	Reversible      bool                   `json:"is_reversible"`
	RollbackData    map[string]interface{} `json:"rollback_data,omitempty"`
	RolledBack      bool                   `json:"rolled_back"`
	RolledBackAt    *time.Time             `json:"rolled_back_at,omitempty"`
	RollbackAuditID string                 `json:"rollback_audit_id,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewCorrelationID returns an 8-hex-character correlation id.
func NewCorrelationID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is unrecoverable for this process anyway;
		// an all-zero id still groups correctly.
		return "00000000"
	}
	return hex.EncodeToString(b)
}
