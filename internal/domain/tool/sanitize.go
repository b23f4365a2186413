package tool

import (
	"strings"
)

// SanitizeName normalizes a generated tool name so it matches ^[a-z0-9_]+$.
//
// Steps, in order:
//  1. Replace any character outside [A-Za-z0-9_] with an underscore.
//  2. Collapse runs of underscores.
//  3. Trim leading and trailing underscores.
//  4. Lowercase.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	prevUnderscore := false
	for _, r := range name {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			if prevUnderscore {
				continue
			}
			b.WriteByte('_')
			prevUnderscore = true
			continue
		}
		b.WriteRune(r)
		prevUnderscore = r == '_'
	}

	out := strings.Trim(b.String(), "_")
	return strings.ToLower(out)
}

// SystemToolName builds the canonical name of a generated system tool.
func SystemToolName(systemAlias, resourceAlias, actionAlias string) string {
	return SanitizeName(systemAlias + "_" + resourceAlias + "_" + actionAlias)
}

// BusinessToolName builds the canonical name of a capability-pack tool.
func BusinessToolName(packAlias, toolName string) string {
	return SanitizeName(packAlias + "_" + toolName)
}
