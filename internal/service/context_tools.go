package service

import (
	"context"

	"github.com/actionbridge/actionbridge/internal/domain/audit"
	"github.com/actionbridge/actionbridge/internal/domain/tool"
)

// contextTool is a session-local tool closed over the server core. No
// external side effects; state lives in the core's record and reasoning
// slots.
type contextTool struct {
	desc tool.Descriptor
	run  func(ctx context.Context, args map[string]interface{}) (tool.Result, error)
}

func (t *contextTool) Descriptor() tool.Descriptor {
	return t.desc
}

func (t *contextTool) Execute(ctx context.Context, args map[string]interface{}) (tool.Result, error) {
	return t.run(ctx, args)
}

var _ tool.Tool = (*contextTool)(nil)

func (c *ServerCore) buildContextTools() {
	tools := []*contextTool{
		{
			desc: tool.Descriptor{
				Name:        "set_context",
				Description: "Store key/value pairs in the session context record. Keys merge over previous calls.",
				Type:        tool.TypeContext,
				InputSchema: map[string]interface{}{
					"type":                 "object",
					"additionalProperties": true,
				},
			},
			run: c.setContext,
		},
		{
			desc: tool.Descriptor{
				Name:        "get_context",
				Description: "Return the session context record.",
				Type:        tool.TypeContext,
				InputSchema: map[string]interface{}{"type": "object"},
			},
			run: c.getContext,
		},
		{
			desc: tool.Descriptor{
				Name:        "set_reasoning_context",
				Description: "Set the reasoning captured with subsequent tool calls: reasoning, intent, context summary and an optional correlation id grouping related actions.",
				Type:        tool.TypeContext,
				InputSchema: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"reasoning":       map[string]interface{}{"type": "string"},
						"intent":          map[string]interface{}{"type": "string"},
						"context_summary": map[string]interface{}{"type": "string"},
						"correlation_id":  map[string]interface{}{"type": "string"},
					},
				},
			},
			run: c.setReasoningContext,
		},
	}

	c.contextTools = make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		c.contextTools[t.desc.Name] = t
		c.contextOrder = append(c.contextOrder, t.desc.Name)
	}
}

func (c *ServerCore) setContext(_ context.Context, args map[string]interface{}) (tool.Result, error) {
	c.mu.Lock()
	for k, v := range args {
		c.record[k] = v
	}
	size := len(c.record)
	c.mu.Unlock()
	return tool.Result{Payload: map[string]interface{}{
		"success": true,
		"keys":    size,
	}}, nil
}

func (c *ServerCore) getContext(_ context.Context, _ map[string]interface{}) (tool.Result, error) {
	c.mu.Lock()
	snapshot := make(map[string]interface{}, len(c.record))
	for k, v := range c.record {
		snapshot[k] = v
	}
	c.mu.Unlock()
	return tool.Result{Payload: map[string]interface{}{
		"success": true,
		"context": snapshot,
	}}, nil
}

func (c *ServerCore) setReasoningContext(_ context.Context, args map[string]interface{}) (tool.Result, error) {
	rc := &audit.ReasoningContext{}
	if v, ok := args["reasoning"].(string); ok {
		rc.Reasoning = v
	}
	if v, ok := args["intent"].(string); ok {
		rc.Intent = v
	}
	if v, ok := args["context_summary"].(string); ok {
		rc.ContextSummary = v
	}
	if v, ok := args["correlation_id"].(string); ok {
		rc.CorrelationID = v
	}

	c.mu.Lock()
	c.reasoning = rc
	c.mu.Unlock()
	return tool.Result{Payload: map[string]interface{}{"success": true}}, nil
}
