package app

import (
	"net/url"
	"strings"
)

// allowOrigin builds a CORS origin check from host patterns:
// "confesso.app", "*.confesso.app" (any subdomain) or "localhost:*" (any
// port).
func allowOrigin(patterns []string) func(origin string) bool {
	return func(origin string) bool {
		host := origin
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			host = u.Host
		}
		for _, p := range patterns {
			if hostMatches(p, host) {
				return true
			}
		}
		return false
	}
}

func hostMatches(pattern, host string) bool {
	switch {
	case pattern == host:
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(host, pattern[1:])
	case strings.HasSuffix(pattern, ":*"):
		return strings.HasPrefix(host, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
