package action

import (
	"strings"
)

// BodyKey is the argument key whose value, when present, becomes the
// request body verbatim.
const BodyKey = "data"

// Shape describes how one call's remaining arguments map onto the wire.
type Shape struct {
	// Query carries the remaining arguments of a reader call.
	Query map[string]string
	// Body is the request body of a writer call (JSON or form-encoded
	// per the Content-Type header).
	Body map[string]interface{}
}

// ShapeRequest splits the post-substitution argument map into query
// parameters or a body, depending on the method. Reader methods
// (GET/HEAD/OPTIONS) send everything as query parameters. Writer methods
// take the "data" argument as the body when present; otherwise the entire
// remaining argument map serves as the body.
func ShapeRequest(method string, args map[string]interface{}) Shape {
	if isReader(method) {
		query := make(map[string]string, len(args))
		for k, v := range args {
			query[k] = Stringify(v)
		}
		return Shape{Query: query}
	}

	if raw, ok := args[BodyKey]; ok {
		if body, ok := raw.(map[string]interface{}); ok {
			return Shape{Body: body}
		}
		// Non-map data payloads wrap under the key so they stay JSON-encodable.
		return Shape{Body: map[string]interface{}{BodyKey: raw}}
	}
	return Shape{Body: args}
}

// IsJSONContent reports whether the content type wants a JSON body.
// Absent content types default to JSON.
func IsJSONContent(contentType string) bool {
	if contentType == "" {
		return true
	}
	return strings.Contains(strings.ToLower(contentType), "json")
}

func isReader(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "OPTIONS":
		return true
	}
	return false
}
