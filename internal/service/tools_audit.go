package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/actionbridge/actionbridge/internal/domain/audit"
	"github.com/actionbridge/actionbridge/internal/domain/tool"
)

// auditTool is a registry-materialized tool backed by the audit service.
type auditTool struct {
	desc tool.Descriptor
	run  func(ctx context.Context, args map[string]interface{}) (tool.Result, error)
}

func (t *auditTool) Descriptor() tool.Descriptor {
	return t.desc
}

func (t *auditTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	return t.run(ctx, args)
}

var _ tool.Tool = (*auditTool)(nil)

func failureResult(format string, args ...interface{}) tool.Result {
	return tool.Result{
		Payload: map[string]interface{}{"success": false, "error": fmt.Sprintf(format, args...)},
		IsError: true,
	}
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

// buildAuditTools materializes the audit tool family for one account.
func (s *RegistryService) buildAuditTools(accountID, projectID string) []tool.Tool {
	return []tool.Tool{
		s.explainActionTool(accountID),
		s.relatedActionsTool(accountID),
		s.rollbackActionTool(accountID, projectID),
		s.queryAuditTool(accountID),
	}
}

func (s *RegistryService) explainActionTool(accountID string) tool.Tool {
	return &auditTool{
		desc: tool.Descriptor{
			Name:        "explain_action",
			Description: "Explain a recorded action: what ran, the stated reasoning and intent, and whether it can be undone.",
			Type:        tool.TypeContext,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"audit_id": stringProp("Audit entry id to explain"),
				},
				"required": []interface{}{"audit_id"},
			},
		},
		run: func(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
			id, _ := args["audit_id"].(string)
			if id == "" {
				return failureResult("audit_id is required"), nil
			}
			e, err := s.audits.GetEntry(ctx, accountID, id)
			if err != nil {
				if errors.Is(err, audit.ErrNotFound) {
					return failureResult("audit entry %q not found", id), nil
				}
				return tool.Result{}, err
			}
			return tool.Result{Payload: map[string]interface{}{
				"success":     true,
				"what":        e.ToolName,
				"parameters":  e.Parameters,
				"why":         e.Reasoning,
				"intent":      e.Intent,
				"context":     e.ContextSummary,
				"reversible":  e.Reversible,
				"rolled_back": e.RolledBack,
				"timestamp":   e.Timestamp,
				"success_was": e.Success,
			}}, nil
		},
	}
}

func (s *RegistryService) relatedActionsTool(accountID string) tool.Tool {
	return &auditTool{
		desc: tool.Descriptor{
			Name:        "get_related_actions",
			Description: "List all actions sharing a correlation id, oldest first.",
			Type:        tool.TypeContext,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"correlation_id": stringProp("Correlation id grouping the actions"),
				},
				"required": []interface{}{"correlation_id"},
			},
		},
		run: func(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
			cid, _ := args["correlation_id"].(string)
			if cid == "" {
				return failureResult("correlation_id is required"), nil
			}
			entries, err := s.audits.ListByCorrelation(ctx, accountID, cid)
			if err != nil {
				return tool.Result{}, err
			}
			out := make([]interface{}, 0, len(entries))
			for _, e := range entries {
				out = append(out, entrySummary(e, true))
			}
			return tool.Result{Payload: map[string]interface{}{
				"success":        true,
				"correlation_id": cid,
				"actions":        out,
			}}, nil
		},
	}
}

func (s *RegistryService) queryAuditTool(accountID string) tool.Tool {
	return &auditTool{
		desc: tool.Descriptor{
			Name:        "query_audit",
			Description: "Query the audit log by tool name and outcome. Returns at most 100 entries, newest first.",
			Type:        tool.TypeContext,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"tool_name": stringProp("Filter by exact tool name"),
					"success": map[string]interface{}{
						"type": "boolean", "description": "Filter by outcome",
					},
					"limit": map[string]interface{}{
						"type": "integer", "description": "Maximum entries to return (max 100)",
					},
					"include_reasoning": map[string]interface{}{
						"type": "boolean", "description": "Include the reasoning fields",
					},
				},
			},
		},
		run: func(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
			filter := audit.QueryFilter{AccountID: accountID}
			if v, ok := args["tool_name"].(string); ok {
				filter.ToolName = v
			}
			if v, ok := args["success"].(bool); ok {
				filter.Success = &v
			}
			if v, ok := args["limit"]; ok {
				filter.Limit = toLimit(v)
			}
			includeReasoning, _ := args["include_reasoning"].(bool)

			entries, err := s.audits.Query(ctx, filter)
			if err != nil {
				return tool.Result{}, err
			}
			out := make([]interface{}, 0, len(entries))
			for _, e := range entries {
				out = append(out, entrySummary(e, includeReasoning))
			}
			return tool.Result{Payload: map[string]interface{}{
				"success": true,
				"count":   len(out),
				"entries": out,
			}}, nil
		},
	}
}

func (s *RegistryService) rollbackActionTool(accountID, projectID string) tool.Tool {
	return &auditTool{
		desc: tool.Descriptor{
			Name:        "rollback_action",
			Description: "Undo a recorded reversible action. Without confirm this previews the rollback; with confirm=true it executes.",
			Type:        tool.TypeContext,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"audit_id": stringProp("Audit entry id to roll back"),
					"confirm": map[string]interface{}{
						"type":        "boolean",
						"description": "Execute the rollback instead of previewing it",
					},
				},
				"required": []interface{}{"audit_id"},
			},
		},
		run: func(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
			id, _ := args["audit_id"].(string)
			if id == "" {
				return failureResult("audit_id is required"), nil
			}
			confirm, _ := args["confirm"].(bool)

			entry, err := s.audits.GetEntry(ctx, accountID, id)
			if err != nil {
				if errors.Is(err, audit.ErrNotFound) {
					return failureResult("audit entry %q not found", id), nil
				}
				return tool.Result{}, err
			}
			if !entry.Reversible {
				return failureResult("action %q is not reversible", entry.ToolName), nil
			}
			if entry.RolledBack {
				return failureResult("action %q was already rolled back", entry.ToolName), nil
			}

			if !confirm {
				return tool.Result{Payload: map[string]interface{}{
					"success":       true,
					"preview":       true,
					"audit_id":      entry.ID,
					"tool_name":     entry.ToolName,
					"rollback_data": entry.RollbackData,
					"hint":          "call again with confirm=true to execute",
				}}, nil
			}

			return s.executeRollback(ctx, accountID, projectID, entry)
		},
	}
}

// executeRollback runs a confirmed rollback: inverse HTTP call when the
// payload describes one, compare-and-set on the original entry, and a
// dedicated rollback audit entry.
func (s *RegistryService) executeRollback(ctx context.Context, accountID, projectID string, entry *audit.Entry) (tool.Result, error) {
	scope := s.audits.Begin(ctx, BeginInput{
		AccountID: accountID,
		SessionID: entry.SessionID,
		Tool:      "rollback:" + entry.ToolName,
		Type:      tool.TypeSystemWrite,
		Args:      map[string]interface{}{"audit_id": entry.ID},
		ParentID:  entry.ID,
		Reasoning: &audit.ReasoningContext{CorrelationID: entry.CorrelationID},
	})
	defer scope.Close(ctx)

	var inverse map[string]interface{}
	if target, ok := s.rollbackTarget(ctx, accountID, projectID, entry.RollbackData); ok {
		env, executed := s.executor.Rollback(ctx, target, entry.RollbackData)
		if executed {
			inverse = env
			scope.SetResult(env)
			if success, _ := env["success"].(bool); !success {
				msg, _ := env["error"].(string)
				scope.SetFailure(msg)
				return tool.Result{Payload: map[string]interface{}{
					"success":  false,
					"error":    "rollback call failed: " + msg,
					"audit_id": entry.ID,
				}, IsError: true}, nil
			}
		}
	}

	err := s.audits.MarkRolledBack(ctx, accountID, entry.ID, scope.EntryID())
	if err != nil {
		scope.SetError(err)
		if errors.Is(err, audit.ErrAlreadyRolledBack) {
			return failureResult("action %q was already rolled back", entry.ToolName), nil
		}
		return tool.Result{}, err
	}

	payload := map[string]interface{}{
		"success":           true,
		"rolled_back":       true,
		"audit_id":          entry.ID,
		"rollback_audit_id": scope.EntryID(),
	}
	if inverse != nil {
		payload["result"] = inverse
	}
	return tool.Result{Payload: payload}, nil
}

// rollbackTarget resolves the upstream target for an inverse HTTP call.
// The rollback payload names the system by alias; without one, or when the
// payload carries no method+path, nothing is dispatched.
func (s *RegistryService) rollbackTarget(ctx context.Context, accountID, projectID string, data map[string]interface{}) (ExecTarget, bool) {
	method, _ := data["method"].(string)
	path, _ := data["path"].(string)
	if method == "" || path == "" {
		return ExecTarget{}, false
	}
	alias, _ := data["system"].(string)
	if alias == "" {
		return ExecTarget{}, false
	}

	sys, err := s.store.GetSystem(ctx, accountID, alias)
	if err != nil || len(sys.Interfaces) == 0 {
		s.logger.Warn("rollback target unresolvable", "system", alias, "error", err)
		return ExecTarget{}, false
	}

	iface := &sys.Interfaces[0]
	if want, _ := data["interface"].(string); want != "" {
		for i := range sys.Interfaces {
			if sys.Interfaces[i].Alias == want {
				iface = &sys.Interfaces[i]
				break
			}
		}
	}

	target := ExecTarget{System: sys, Interface: iface}
	if projectID != "" {
		id := projectID
		target.ProjectID = &id
	}
	return target, true
}

// entrySummary renders one audit entry for tool output.
func entrySummary(e *audit.Entry, includeReasoning bool) map[string]interface{} {
	out := map[string]interface{}{
		"id":             e.ID,
		"correlation_id": e.CorrelationID,
		"tool_name":      e.ToolName,
		"tool_type":      string(e.ToolType),
		"success":        e.Success,
		"duration_ms":    e.DurationMS,
		"timestamp":      e.Timestamp,
		"reversible":     e.Reversible,
		"rolled_back":    e.RolledBack,
	}
	if e.ErrorMsg != "" {
		out["error"] = e.ErrorMsg
	}
	if includeReasoning {
		out["reasoning"] = e.Reasoning
		out["intent"] = e.Intent
		out["context_summary"] = e.ContextSummary
	}
	return out
}

func toLimit(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}
