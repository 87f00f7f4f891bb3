package util

import (
	"path"
	"strings"
)

// MatchPath reports whether p matches any of the configured patterns.
// Supported forms: exact path, shell globs per path.Match ("/health*",
// "/api/*/status"), and a trailing "/**" for whole-subtree prefixes.
func MatchPath(patterns []string, p string) bool {
	for _, pat := range patterns {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}
		if pat == p || pat == "*" {
			return true
		}
		if strings.HasSuffix(pat, "/**") {
			prefix := strings.TrimSuffix(pat, "/**")
			if p == prefix || strings.HasPrefix(p, prefix+"/") {
				return true
			}
			continue
		}
		if ok, err := path.Match(pat, p); err == nil && ok {
			return true
		}
	}
	return false
}
