package auth

import (
	"net/http"
	"strings"
)

// Policy lists the routes that skip bearer authentication. Paths ending in
// "/" match every path below them.
type Policy struct {
	exact    map[string]struct{}
	prefixes []string
}

// NewPolicy builds a policy from public paths.
func NewPolicy(public ...string) Policy {
	p := Policy{exact: make(map[string]struct{}, len(public))}
	for _, path := range public {
		if strings.HasSuffix(path, "/") {
			p.prefixes = append(p.prefixes, path)
			continue
		}
		p.exact[path] = struct{}{}
	}
	return p
}

// IsExempt reports whether r skips authentication. CORS preflights always do.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil || r.Method == http.MethodOptions {
		return true
	}
	if _, ok := p.exact[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}
