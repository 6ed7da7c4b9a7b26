package pattern

import "strings"

// MatchesGlob checks if a string matches a glob pattern with * wildcard
// support. Rate limit rules and whitelists use this for endpoint and
// identifier matching; comparison is case-insensitive.
func MatchesGlob(s, pattern string) bool {
	pattern = strings.ToLower(pattern)
	s = strings.ToLower(s)

	switch {
	case pattern == "*":
		return true
	case strings.Contains(pattern, "*"):
		switch {
		case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
			// *text* - contains
			core := strings.Trim(pattern, "*")
			return strings.Contains(s, core)
		case strings.HasPrefix(pattern, "*"):
			// *text - ends with
			suffix := strings.TrimPrefix(pattern, "*")
			return strings.HasSuffix(s, suffix)
		case strings.HasSuffix(pattern, "*"):
			// text* - starts with
			prefix := strings.TrimSuffix(pattern, "*")
			return strings.HasPrefix(s, prefix)
		default:
			// middle wildcard: match prefix and suffix around it
			parts := strings.SplitN(pattern, "*", 2)
			return strings.HasPrefix(s, parts[0]) && strings.HasSuffix(s, parts[1]) &&
				len(s) >= len(parts[0])+len(parts[1])
		}
	default:
		return s == pattern
	}
}
