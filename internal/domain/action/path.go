// Package action holds the pure logic of executing a catalog action:
// path placeholder substitution, project parameter auto-injection, request
// shaping, the upstream call result union, and the auto-pagination loop.
package action

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholderPattern matches {name} segments inside an action path.
var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// projectParams is the recognized set of path parameter names that may be
// auto-resolved from a project's external mapping for the target system.
var projectParams = map[string]struct{}{
	"project_id":     {},
	"projectId":      {},
	"project_key":    {},
	"projectKey":     {},
	"projectIdOrKey": {},
	"project":        {},
	"workspace_id":   {},
	"workspaceId":    {},
	"repo":           {},
	"repository":     {},
	"repo_slug":      {},
}

// Placeholders returns the placeholder names in path, in order of appearance.
func Placeholders(path string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(path, -1)
	if len(matches) == 0 {
		return nil
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// InjectableParam returns the first placeholder in path that belongs to the
// recognized project-parameter set, or "" when none does.
func InjectableParam(path string) string {
	for _, name := range Placeholders(path) {
		if _, ok := projectParams[name]; ok {
			return name
		}
	}
	return ""
}

// AutoInject fills the first recognized project placeholder from externalID
// unless the client already supplied a value for it. It mutates args and
// returns the injected parameter name, or "" when nothing was injected.
// Injection is additive: client-supplied values always win.
func AutoInject(path string, args map[string]interface{}, externalID string) string {
	if externalID == "" {
		return ""
	}
	name := InjectableParam(path)
	if name == "" {
		return ""
	}
	if _, supplied := args[name]; supplied {
		return ""
	}
	args[name] = externalID
	return name
}

// SubstitutePath replaces every {name} placeholder with the stringified
// argument value and removes consumed keys from args. An unreplaced
// placeholder is a validation error.
func SubstitutePath(path string, args map[string]interface{}) (string, error) {
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(path, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := args[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		delete(args, name)
		return Stringify(v)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing path parameter %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Stringify renders an argument value for use in a URL path or query.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		// JSON numbers decode as float64; render integers without a dot.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// PruneSchema returns a copy of a JSON Schema with the named property
// removed from properties and required. Used to hide auto-injected
// parameters from the advertised input schema.
func PruneSchema(schema map[string]interface{}, param string) map[string]interface{} {
	if schema == nil || param == "" {
		return schema
	}

	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		out[k] = v
	}

	if props, ok := out["properties"].(map[string]interface{}); ok {
		if _, present := props[param]; present {
			pruned := make(map[string]interface{}, len(props)-1)
			for k, v := range props {
				if k != param {
					pruned[k] = v
				}
			}
			out["properties"] = pruned
		}
	}

	switch req := out["required"].(type) {
	case []interface{}:
		kept := make([]interface{}, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok && s == param {
				continue
			}
			kept = append(kept, r)
		}
		out["required"] = kept
	case []string:
		kept := make([]string, 0, len(req))
		for _, r := range req {
			if r != param {
				kept = append(kept, r)
			}
		}
		out["required"] = kept
	}

	return out
}
