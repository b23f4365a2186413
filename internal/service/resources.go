package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/actionbridge/actionbridge/internal/domain/catalog"
	"github.com/actionbridge/actionbridge/internal/domain/tool"
)

// systemsScheme is the URI scheme of the catalog resources.
const systemsScheme = "systems://"

func (c *ServerCore) handleResourcesList(ctx context.Context) (interface{}, error) {
	systems, err := c.store.ListSystems(ctx, c.cfg.AccountID)
	if err != nil {
		return nil, fmt.Errorf("list systems: %w", err)
	}

	resources := []map[string]interface{}{{
		"uri":         systemsScheme,
		"name":        "Connected systems",
		"description": "All systems configured for this account",
		"mimeType":    "application/json",
	}}
	for _, sys := range systems {
		resources = append(resources,
			map[string]interface{}{
				"uri":         systemsScheme + sys.Alias,
				"name":        sys.Name,
				"description": fmt.Sprintf("Details of the %s system", sys.Name),
				"mimeType":    "application/json",
			},
			map[string]interface{}{
				"uri":         systemsScheme + sys.Alias + "/schema",
				"name":        sys.Name + " schema",
				"description": fmt.Sprintf("Actions exposed by the %s system", sys.Name),
				"mimeType":    "application/json",
			},
		)
	}
	return map[string]interface{}{"resources": resources}, nil
}

// handleResourceRead resolves a systems:// URI and records the access in the
// audit log.
func (c *ServerCore) handleResourceRead(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	uri, _ := params["uri"].(string)
	if uri == "" {
		return nil, fmt.Errorf("resource uri is required")
	}

	scope := c.audits.Begin(ctx, BeginInput{
		AccountID: c.cfg.AccountID,
		UserID:    c.cfg.UserID,
		SessionID: c.cfg.SessionID,
		Transport: c.cfg.Transport,
		Mode:      c.cfg.Mode,
		Tool:      uri,
		Type:      tool.TypeResource,
	})
	defer scope.Close(ctx)

	payload, err := c.readResource(ctx, uri)
	if err != nil {
		scope.SetError(err)
		return nil, err
	}
	scope.SetResult(payload)

	text, err := json.Marshal(payload)
	if err != nil {
		scope.SetError(err)
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	return map[string]interface{}{
		"contents": []map[string]interface{}{{
			"uri":      uri,
			"mimeType": "application/json",
			"text":     string(text),
		}},
	}, nil
}

func (c *ServerCore) readResource(ctx context.Context, uri string) (interface{}, error) {
	rest, ok := strings.CutPrefix(uri, systemsScheme)
	if !ok {
		return nil, fmt.Errorf("unknown resource %q", uri)
	}

	if rest == "" {
		return c.readSystemsIndex(ctx)
	}

	alias, sub, _ := strings.Cut(rest, "/")
	sys, err := c.store.GetSystem(ctx, c.cfg.AccountID, alias)
	if err != nil {
		return nil, fmt.Errorf("unknown system %q", alias)
	}

	switch sub {
	case "":
		return systemDetails(sys), nil
	case "schema":
		return systemSchema(sys), nil
	default:
		return nil, fmt.Errorf("unknown resource %q", uri)
	}
}

func (c *ServerCore) readSystemsIndex(ctx context.Context) (interface{}, error) {
	systems, err := c.store.ListSystems(ctx, c.cfg.AccountID)
	if err != nil {
		return nil, fmt.Errorf("list systems: %w", err)
	}
	out := make([]map[string]interface{}, 0, len(systems))
	for _, sys := range systems {
		out = append(out, map[string]interface{}{
			"alias":   sys.Alias,
			"name":    sys.Name,
			"type":    sys.Type,
			"enabled": sys.Enabled,
		})
	}
	return map[string]interface{}{"systems": out}, nil
}

func systemDetails(sys *catalog.System) map[string]interface{} {
	interfaces := make([]map[string]interface{}, 0, len(sys.Interfaces))
	for i := range sys.Interfaces {
		iface := &sys.Interfaces[i]
		auth := iface.ParsedAuth.Type
		if auth == "" {
			auth = catalog.AuthNone
		}
		interfaces = append(interfaces, map[string]interface{}{
			"alias":    iface.Alias,
			"type":     string(iface.Type),
			"base_url": iface.BaseURL,
			"auth":     string(auth),
		})
	}
	return map[string]interface{}{
		"alias":         sys.Alias,
		"name":          sys.Name,
		"type":          sys.Type,
		"industry":      sys.Industry,
		"enabled":       sys.Enabled,
		"schema_digest": sys.SchemaDigest,
		"interfaces":    interfaces,
	}
}

func systemSchema(sys *catalog.System) map[string]interface{} {
	var actions []map[string]interface{}
	for i := range sys.Interfaces {
		iface := &sys.Interfaces[i]
		for j := range iface.Resources {
			res := &iface.Resources[j]
			for k := range res.Actions {
				act := &res.Actions[k]
				if !act.MCPEnabled {
					continue
				}
				actions = append(actions, map[string]interface{}{
					"tool":              tool.SystemToolName(sys.Alias, res.Alias, act.Alias),
					"resource":          res.Alias,
					"action":            act.Alias,
					"method":            act.Method,
					"path":              act.Path,
					"description":       act.Description,
					"parameters_schema": act.ParametersSchema,
				})
			}
		}
	}
	return map[string]interface{}{
		"alias":   sys.Alias,
		"actions": actions,
	}
}
