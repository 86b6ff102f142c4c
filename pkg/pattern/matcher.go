// Package pattern implements glob matching for route strings such as
// "https://*.example.com:443".
package pattern

import (
	"regexp"
	"strings"
	"sync"
)

// Matcher caches compiled patterns. It is safe for concurrent use.
type Matcher struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

func NewMatcher() *Matcher {
	return &Matcher{compiled: make(map[string]*regexp.Regexp)}
}

// Match reports whether s matches pattern. Supported wildcards:
//
//	*     any sequence of characters
//	?     any single character
//	[...] any character in the set, [^...] negates
//	\x    the literal x
//
// A malformed pattern matches nothing.
func Match(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	re, err := compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// Match is like the package-level Match but reuses compiled patterns.
func (m *Matcher) Match(pattern, s string) bool {
	if pattern == "*" {
		return true
	}

	m.mu.RLock()
	re, ok := m.compiled[pattern]
	m.mu.RUnlock()
	if !ok {
		var err error
		if re, err = compile(pattern); err != nil {
			return false
		}
		m.mu.Lock()
		m.compiled[pattern] = re
		m.mu.Unlock()
	}
	return re.MatchString(s)
}

// MatchAny reports whether s matches at least one of patterns.
func (m *Matcher) MatchAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if m.Match(p, s) {
			return true
		}
	}
	return false
}

// IsPattern reports whether s contains unescaped wildcards.
func IsPattern(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '*', '?', '[':
			return true
		}
	}
	return false
}

func compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^" + toRegexp(pattern) + "$")
}

func toRegexp(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) * 2)

	inClass := false
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch {
		case ch == '\\' && i+1 < len(pattern):
			i++
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
		case inClass:
			if ch == ']' {
				inClass = false
			}
			if ch == '\\' {
				b.WriteString(`\\`)
				continue
			}
			b.WriteByte(ch)
		case ch == '*':
			b.WriteString(".*")
		case ch == '?':
			b.WriteByte('.')
		case ch == '[':
			inClass = true
			b.WriteByte(ch)
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	return b.String()
}
