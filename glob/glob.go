// Package glob implements GlobMatcher (spec.md §4's pattern-matching
// component for catalog/extract filters) on top of
// github.com/bmatcuk/doublestar/v4, the library mutagen-io/mutagen's
// go.mod carries for exactly this purpose: "**"-aware path globbing
// that doesn't require a real filesystem to walk.
package glob

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher matches extended-archive-internal paths against a set of shell
// glob patterns.
type Matcher struct {
	patterns      []string
	caseSensitive bool
}

// New compiles patterns into a Matcher. An invalid pattern is reported
// immediately rather than at the first Match call.
func New(patterns []string, caseSensitive bool) (*Matcher, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p}
		}
	}
	out := make([]string, len(patterns))
	copy(out, patterns)
	return &Matcher{patterns: out, caseSensitive: caseSensitive}, nil
}

// PatternError reports a malformed glob pattern.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string { return "glob: invalid pattern " + e.Pattern }

// Match reports whether path satisfies any configured pattern. An empty
// Matcher (no patterns) matches everything, matching the "no filter
// configured" default a catalog/extract command falls back to.
func (m *Matcher) Match(path string) bool {
	if len(m.patterns) == 0 {
		return true
	}
	candidate := path
	if !m.caseSensitive {
		candidate = strings.ToLower(candidate)
	}
	for _, p := range m.patterns {
		pat := p
		if !m.caseSensitive {
			pat = strings.ToLower(pat)
		}
		if ok, _ := doublestar.Match(pat, candidate); ok {
			return true
		}
	}
	return false
}

// Patterns returns the compiled pattern set, for logging/diagnostics.
func (m *Matcher) Patterns() []string { return append([]string(nil), m.patterns...) }
