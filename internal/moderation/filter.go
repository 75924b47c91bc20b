// Package moderation provides content filtering and moderation capabilities.
// It masks denylisted words in relayed text, accumulates user reports and
// deactivates users who cross the auto-ban threshold.
package moderation

import (
	"strings"
	"unicode"
)

// MaskRune replaces every character of a matched term.
const MaskRune = '*'

// DefaultTerms is the fixed denylist. Matching is a case-insensitive
// substring check, so "Scammer" is masked to "****mer".
var DefaultTerms = []string{"spam", "scam", "porn", "xxx", "sex", "nude", "drugs"}

// FilterResult is the outcome of Check.
type FilterResult struct {
	Clean bool     // no term matched
	Text  string   // display text with every match masked
	Terms []string // matched terms in denylist order
}

// Filter masks denylisted terms in message text. It holds no mutable state
// and is safe for concurrent use.
type Filter struct {
	terms [][]rune
}

// NewFilter creates a Filter with DefaultTerms.
func NewFilter() *Filter {
	return NewFilterWithTerms(DefaultTerms)
}

// NewFilterWithTerms creates a Filter with a custom term list. Terms are
// lowercased; empty terms are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{}
	for _, t := range terms {
		t = strings.TrimSpace(strings.ToLower(t))
		if t == "" {
			continue
		}
		f.terms = append(f.terms, []rune(t))
	}
	return f
}

// Check masks each occurrence of each term with an equal-length run of
// MaskRune. Terms are applied in order against the progressively masked
// text. This is advisory: callers still deliver Text.
func (f *Filter) Check(text string) FilterResult {
	if text == "" {
		return FilterResult{Clean: true}
	}

	runes := []rune(text)
	lower := make([]rune, len(runes))
	for i, r := range runes {
		lower[i] = unicode.ToLower(r)
	}

	var matched []string
	for _, term := range f.terms {
		if maskTerm(runes, lower, term) {
			matched = append(matched, string(term))
		}
	}

	if len(matched) == 0 {
		return FilterResult{Clean: true, Text: text}
	}
	return FilterResult{Clean: false, Text: string(runes), Terms: matched}
}

// maskTerm masks every non-overlapping occurrence of term in place. lower is
// the lowercased view of runes and is masked alongside so later terms never
// match across an earlier mask.
func maskTerm(runes, lower, term []rune) bool {
	found := false
	n := len(term)
	for i := 0; i+n <= len(lower); {
		if !equalRunes(lower[i:i+n], term) {
			i++
			continue
		}
		for j := i; j < i+n; j++ {
			runes[j] = MaskRune
			lower[j] = MaskRune
		}
		found = true
		i += n
	}
	return found
}

func equalRunes(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
