package dedup

import (
	"strings"
	"unicode"
)

// tokenOverlap computes intersection/union over lowercase word sets,
// boosted when domain-significant terms are shared. It is the degraded
// scoring path and cannot fail.
func tokenOverlap(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	score := float64(intersection) / float64(union)

	// Shared significant terms (proper nouns, long tokens) count for
	// more than common words; each adds a small boost.
	sigA := significantTerms(a)
	for term := range significantTerms(b) {
		if sigA[term] {
			score += 0.05
		}
	}
	return clamp01(score)
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range tokenize(text) {
		set[w] = true
	}
	return set
}

// significantTerms returns lowercase forms of tokens that look
// domain-significant: capitalized in the original text, or 8+ runes.
func significantTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})
	for _, w := range words {
		runes := []rune(w)
		if len(runes) < 2 {
			continue
		}
		if unicode.IsUpper(runes[0]) || len(runes) >= 8 {
			terms[strings.ToLower(w)] = true
		}
	}
	return terms
}

// tokenize splits text into lowercase word tokens, dropping single
// characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-'
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len(w) > 1 {
			result = append(result, w)
		}
	}
	return result
}
