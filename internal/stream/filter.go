package stream

import (
	"regexp"
	"strings"
)

// Filter removes stop literals from a generation buffer.
type Filter struct {
	re *regexp.Regexp
}

// NewFilter compiles stops plus the given speaker labels into one alternation.
// Empty entries are ignored; a filter with nothing to match is a no-op.
func NewFilter(stops []string, labels ...string) *Filter {
	var alts []string
	seen := make(map[string]bool)
	for _, s := range append(append([]string(nil), stops...), labels...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		alts = append(alts, regexp.QuoteMeta(s))
	}
	if len(alts) == 0 {
		return &Filter{}
	}
	return &Filter{re: regexp.MustCompile(strings.Join(alts, "|"))}
}

// Apply strips every stop literal from text, repeating until no match remains
// so removals cannot splice a new occurrence together.
func (f *Filter) Apply(text string) string {
	if f == nil || f.re == nil {
		return text
	}
	for {
		out := f.re.ReplaceAllLiteralString(text, "")
		if out == text {
			return out
		}
		text = out
	}
}

// Match reports whether text contains any stop literal.
func (f *Filter) Match(text string) bool {
	return f != nil && f.re != nil && f.re.MatchString(text)
}
