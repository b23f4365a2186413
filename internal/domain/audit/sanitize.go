package audit

import (
	"fmt"
	"strings"
)

const (
	// maxValueLen is the cutoff beyond which string values are truncated
	// before storage.
	maxValueLen = 1000
	// redacted replaces values of sensitive keys.
	redacted = "[REDACTED]"

	summaryMaxDepth   = 3
	summaryMaxKeys    = 20
	summaryMaxString  = 500
	summaryListSample = 3
)

// sensitiveMarkers flag a key as secret-bearing when any appears as a
// substring of the lowercased key name.
var sensitiveMarkers = []string{
	"password", "token", "api_key", "secret",
	"credential", "auth", "authorization", "cookie", "session",
}

// SensitiveKey reports whether a parameter name should be redacted.
func SensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, m := range sensitiveMarkers {
		if strings.Contains(k, m) {
			return true
		}
	}
	return false
}

// SanitizeParams returns a deep copy of params with sensitive values
// replaced by [REDACTED] and long strings truncated. The input is never
// mutated. Sanitizing an already-sanitized map is a no-op.
func SanitizeParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		if SensitiveKey(k) {
			out[k] = redacted
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return truncate(t, maxValueLen)
	case map[string]interface{}:
		return SanitizeParams(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = sanitizeValue(e)
		}
		return out
	default:
		return v
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... (truncated)"
}

// SummarizeResult compresses a tool result for storage: maps are limited
// to 20 keys and 3 levels of nesting, lists collapse to a type/count/sample
// descriptor, and long strings become previews. Scalars pass through.
func SummarizeResult(result interface{}) interface{} {
	return summarize(result, 0)
}

func summarize(v interface{}, depth int) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if depth >= summaryMaxDepth {
			return fmt.Sprintf("{object: %d keys}", len(t))
		}
		out := make(map[string]interface{}, len(t))
		n := 0
		for k, e := range t {
			if n >= summaryMaxKeys {
				out["_truncated"] = fmt.Sprintf("%d more keys", len(t)-summaryMaxKeys)
				break
			}
			out[k] = summarize(e, depth+1)
			n++
		}
		return out
	case []interface{}:
		sample := make([]interface{}, 0, summaryListSample)
		for i := 0; i < len(t) && i < summaryListSample; i++ {
			sample = append(sample, summarize(t[i], depth+1))
		}
		return map[string]interface{}{
			"type":   "list",
			"count":  len(t),
			"sample": sample,
		}
	case string:
		if len(t) > summaryMaxString {
			return map[string]interface{}{
				"type":    "string",
				"length":  len(t),
				"preview": t[:summaryMaxString],
			}
		}
		return t
	default:
		return v
	}
}
