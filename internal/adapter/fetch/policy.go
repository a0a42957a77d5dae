package fetch

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// URLPolicy decides which URLs may be fetched. Patterns are doublestar
// globs matched against "host/path", e.g. "docs.example.com/**" or
// "**/*.pdf". Excludes win over includes; no includes means everything.
type URLPolicy struct {
	includes []string
	excludes []string
}

// NewURLPolicy compiles include and exclude patterns.
func NewURLPolicy(includes, excludes []string) (*URLPolicy, error) {
	for _, p := range append(append([]string{}, includes...), excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid url pattern: %q", p)
		}
	}
	return &URLPolicy{includes: includes, excludes: excludes}, nil
}

// Allowed reports whether u passes the policy.
func (p *URLPolicy) Allowed(u *url.URL) bool {
	if p == nil {
		return true
	}
	target := strings.ToLower(u.Hostname()) + "/" + strings.TrimPrefix(u.EscapedPath(), "/")

	for _, pattern := range p.excludes {
		if match(pattern, target) {
			return false
		}
	}
	if len(p.includes) == 0 {
		return true
	}
	for _, pattern := range p.includes {
		if match(pattern, target) {
			return true
		}
	}
	return false
}

func match(pattern, target string) bool {
	ok, err := doublestar.Match(pattern, target)
	if err != nil {
		return false
	}
	if ok {
		return true
	}
	// "host/**" should also match the bare host.
	ok, _ = doublestar.Match(pattern, strings.TrimSuffix(target, "/"))
	return ok
}
