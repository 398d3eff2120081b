package analysis

import (
	"strings"
	"unicode"
)

// Heuristic builds a neutral analysis for content when no provider is
// reachable. The memory path must keep working during an outage, so the
// result carries middling importance and concepts lifted straight from
// the text.
func Heuristic(content string) *Result {
	result := &Result{
		Sentiment: "neutral",
		Intent:    "statement",
		Importance: Importance{
			Score:     5,
			Reasoning: "heuristic fallback, no provider available",
		},
		TemporalContext: "none",
		Concepts:        keywords(content, 5),
	}
	if strings.HasSuffix(strings.TrimSpace(content), "?") {
		result.Intent = "question"
	}
	return result
}

// HeuristicIntent is the search-side fallback: assume a recall query
// answered by plain semantic search.
func HeuristicIntent(query string) *IntentResult {
	return &IntentResult{
		IntentType:     "recall",
		EntitiesSought: keywords(query, 3),
		TemporalScope:  "all",
		SearchStrategy: "semantic",
	}
}

// keywords picks up to limit distinctive tokens: capitalized words and
// long words, in order of appearance, deduplicated case-insensitively.
func keywords(content string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range strings.FieldsFunc(content, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(out) >= limit {
			break
		}
		runes := []rune(tok)
		if len(runes) < 2 {
			continue
		}
		if !unicode.IsUpper(runes[0]) && len(runes) < 6 {
			continue
		}
		key := strings.ToLower(tok)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tok)
	}
	return out
}
