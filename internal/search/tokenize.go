package search

import (
	"strings"
	"unicode"
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "all": true, "any": true, "can": true, "had": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "has": true, "him": true,
	"his": true, "how": true, "its": true, "may": true, "new": true, "now": true,
	"old": true, "see": true, "two": true, "way": true, "who": true, "did": true,
	"get": true, "let": true, "say": true, "she": true, "too": true, "use": true,
	"with": true, "this": true, "that": true, "from": true, "have": true, "they": true,
	"will": true, "your": true, "what": true, "when": true, "were": true, "been": true,
	"into": true, "than": true, "them": true, "then": true, "there": true, "their": true,
	"these": true, "those": true, "which": true, "would": true, "about": true, "could": true,
	"should": true, "where": true, "while": true, "some": true, "also": true, "just": true,
	"over": true, "only": true, "very": true, "more": true, "most": true, "such": true,
}

// Tokenize lowercases text, strips characters that are not letters or
// digits, and drops stop words and tokens of two characters or fewer.
// Tokens are returned once each, in first-seen order.
func Tokenize(text string) []string {
	var sb strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			sb.WriteByte(' ')
		}
	}

	seen := map[string]bool{}
	var out []string
	for _, w := range strings.Fields(sb.String()) {
		if len([]rune(w)) <= 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

type tokenSet map[string]struct{}

func newTokenSet(tokens []string) tokenSet {
	s := make(tokenSet, len(tokens))
	for _, t := range tokens {
		s[t] = struct{}{}
	}
	return s
}

// jaccard is |a∩b| / |a∪b|, 0 when both are empty.
func jaccard(a, b tokenSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func overlaps(a, b tokenSet) bool {
	for t := range a {
		if _, ok := b[t]; ok {
			return true
		}
	}
	return false
}
