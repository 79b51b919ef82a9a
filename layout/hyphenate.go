package layout

import (
	"strings"
	"unicode/utf8"
)

// builtinPatterns is a small, hand-picked subset of the standard TeX
// English hyphenation patterns — enough to break common multi-syllable
// words sensibly, not the full Liang pattern set (those ship as embedded
// per-language gzip dictionaries in the teacher; a reading-core library
// with a <120 KB working-set budget has no room for that, so
// AutoHyphenate degrades gracefully to this starter table instead — see
// DESIGN.md's "Dropped dependencies").
var builtinPatterns = []string{
	"1tion", "2ti3on", ".con1", "1ing", "1ly", "1ment", "1ness", "1ful",
	"1er", "1or", "1ist", "1able", "1ible", "1ize", "1ise", "a2b", "a2c",
	"a2d", "a2g", "a2l", "a2m", "a2n", "a2p", "a2r", "a2t", "a2v", "e2b",
	"e2c", "e2d", "e2g", "e2l", "e2m", "e2n", "e2p", "e2r", "e2s", "e2t",
	"i2b", "i2c", "i2d", "i2g", "i2l", "i2m", "i2n", "i2p", "i2r", "i2t",
	"o2b", "o2c", "o2d", "o2g", "o2l", "o2m", "o2n", "o2p", "o2r", "o2t",
	"u2b", "u2c", "u2d", "u2g", "u2l", "u2m", "u2n", "u2p", "u2r", "u2t",
}

// Hyphenator finds legal break points inside a word via a TeX-pattern
// trie (§4.6 "soft-hyphen policy": hyphenation candidates only — whether
// the break is actually taken is the line breaker's call).
type Hyphenator struct {
	patterns *trie
}

// NewHyphenator builds a Hyphenator from raw TeX pattern strings (e.g.
// "1tion", "a2b" — see addPatternString).
func NewHyphenator(patterns []string) *Hyphenator {
	h := &Hyphenator{patterns: newTrie()}
	for _, p := range patterns {
		h.patterns.addPatternString(p)
	}
	return h
}

// NewDefaultHyphenator builds a Hyphenator from the built-in English
// pattern subset.
func NewDefaultHyphenator() *Hyphenator {
	return NewHyphenator(builtinPatterns)
}

// BreakPoints returns the rune offsets into word after which a hyphen may
// legally be inserted. Never breaks the first two or last two characters
// (the classic TeX convention the pattern weights assume).
func (h *Hyphenator) BreakPoints(word string) []int {
	if h == nil {
		return nil
	}
	runeLen := utf8.RuneCountInString(word)
	if runeLen < 5 {
		return nil
	}

	testStr := "." + strings.ToLower(word) + "."
	v := make([]int, utf8.RuneCountInString(testStr))

	vIndex := 0
	for pos := range testStr {
		t := testStr[pos:]
		strs, vals := h.patterns.allSubstringsAndValues(t)
		for i, s := range strs {
			val := vals[i]
			diff := len(val) - utf8.RuneCountInString(s)
			vs := v[vIndex-diff:]
			for j := range val {
				if val[j] > vs[j] {
					vs[j] = val[j]
				}
			}
		}
		vIndex++
	}

	markers := v[1 : len(v)-1]
	var points []int
	for i := 1; i < len(markers)-2; i++ {
		if markers[i]%2 != 0 {
			points = append(points, i+1)
		}
	}
	return points
}
