package semantic

import (
	"strings"
	"unicode"
)

// stopWords is a fixed English stop-word set: articles, auxiliaries,
// modals, and common fillers. Tokens in this set never enter the index.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "have": {}, "been": {},
	"were": {}, "will": {}, "with": {}, "this": {}, "that": {}, "they": {},
	"them": {}, "then": {}, "than": {}, "from": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "would": {}, "could": {}, "should": {},
	"there": {}, "their": {}, "about": {}, "into": {}, "over": {},
	"does": {}, "did": {}, "its": {}, "his": {}, "she": {}, "him": {},
}

// tokenize lowercases, replaces non-word characters with spaces, and
// drops short tokens and stop words.
func tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// ngrams returns contiguous n-token sequences joined by spaces.
func ngrams(tokens []string, n int) []string {
	if n <= 0 || len(tokens) < n {
		return nil
	}
	grams := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		grams = append(grams, strings.Join(tokens[i:i+n], " "))
	}
	return grams
}

// jaccard computes |A∩B| / |A∪B| over two gram slices.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, g := range a {
		setA[g] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, g := range b {
		setB[g] = struct{}{}
	}

	intersection := 0
	for g := range setA {
		if _, ok := setB[g]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
