package catalog

import "path/filepath"

// GlobMatch reports whether name matches the shell-style pattern.
// A bare "*" matches everything; otherwise filepath.Match semantics apply
// and malformed patterns never match.
func GlobMatch(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	matched, err := filepath.Match(pattern, name)
	return err == nil && matched
}

// MatchAny reports whether name matches at least one of the patterns.
func MatchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if GlobMatch(p, name) {
			return true
		}
	}
	return false
}
