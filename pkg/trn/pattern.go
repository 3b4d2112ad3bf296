package trn

import (
	"regexp"
	"strings"
)

// Pattern is a compiled TRN pattern: each of the 9 fixed components may be a
// literal, empty (matches only an empty component), or `*` (matches any
// value, including empty). A component regex is built once and reused for
// every Matches call, per §4.1's "compiles pattern to regex on first use".
type Pattern struct {
	original string
	regex    *regexp.Regexp
}

// componentRegexFragment turns one pattern component into a regex fragment.
// `*` anywhere in the component is translated to `.*`; everything else is
// matched literally.
func componentRegexFragment(component string) string {
	if component == "*" {
		return ".*"
	}
	parts := strings.Split(component, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, ".*")
}

// CompilePattern compiles a 9-component TRN pattern string (same shape as a
// concrete TRN, but any component may contain `*`) into a reusable Pattern.
func CompilePattern(pattern string) (*Pattern, error) {
	body := pattern
	hashFragment := ""
	if idx := strings.IndexByte(pattern, '@'); idx >= 0 {
		body = pattern[:idx]
		hashFragment = componentRegexFragment(pattern[idx+1:])
	}

	if !strings.HasPrefix(body, prefix+":") {
		return nil, &ParseError{Component: "trn", Reason: "missing trn: prefix"}
	}

	parts := strings.Split(body, ":")
	if len(parts) != fixedComponent {
		return nil, &ParseError{Component: "trn", Reason: "pattern must have exactly 9 components"}
	}

	fragments := make([]string, fixedComponent-1)
	for i, p := range parts[1:] {
		fragments[i] = componentRegexFragment(p)
	}

	expr := "^" + prefix + ":" + strings.Join(fragments, ":")
	if hashFragment != "" {
		expr += "@" + hashFragment
	} else {
		expr += "(@.*)?"
	}
	expr += "$"

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, &ParseError{Component: "trn", Reason: "pattern does not compile: " + err.Error()}
	}
	return &Pattern{original: pattern, regex: re}, nil
}

// Matches reports whether the concrete TRN string satisfies the pattern.
func (p *Pattern) Matches(concrete string) bool {
	return p.regex.MatchString(concrete)
}

// String returns the original pattern text.
func (p *Pattern) String() string {
	return p.original
}

// Matches compiles pattern and evaluates it against concrete in one call.
// Prefer CompilePattern + Pattern.Matches when evaluating the same pattern
// against many TRNs.
func Matches(pattern, concrete string) (bool, error) {
	p, err := CompilePattern(pattern)
	if err != nil {
		return false, err
	}
	return p.Matches(concrete), nil
}

// Matcher holds a set of compiled patterns and answers whether a TRN matches
// any of them, mirroring the originating library's TrnMatcher.
type Matcher struct {
	patterns []*Pattern
}

// NewMatcher creates a Matcher from zero or more initial patterns.
func NewMatcher(patterns ...string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range patterns {
		if err := m.Add(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add compiles and appends a pattern.
func (m *Matcher) Add(pattern string) error {
	p, err := CompilePattern(pattern)
	if err != nil {
		return err
	}
	m.patterns = append(m.patterns, p)
	return nil
}

// Matches reports whether concrete matches any pattern in the set. An empty
// matcher matches nothing.
func (m *Matcher) Matches(concrete string) bool {
	for _, p := range m.patterns {
		if p.Matches(concrete) {
			return true
		}
	}
	return false
}

// MatchingPatterns returns the original text of every pattern that matches concrete.
func (m *Matcher) MatchingPatterns(concrete string) []string {
	var out []string
	for _, p := range m.patterns {
		if p.Matches(concrete) {
			out = append(out, p.original)
		}
	}
	return out
}

// Filter returns the subset of trns that match any pattern in the set.
func (m *Matcher) Filter(trns []string) []string {
	out := make([]string, 0, len(trns))
	for _, t := range trns {
		if m.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of compiled patterns held by the matcher.
func (m *Matcher) Len() int {
	return len(m.patterns)
}

// Clear removes all patterns from the matcher.
func (m *Matcher) Clear() {
	m.patterns = nil
}
