// Package analysis defines the semantic analysis provider contract and
// ships an LLM-backed implementation. Every call site must treat the
// provider as possibly unavailable; callers fall back to heuristics
// rather than fail.
package analysis

import "context"

// Entity is a named thing extracted from content.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Relationship links two extracted entities.
type Relationship struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation"`
}

// Importance scores a piece of content for retention priority.
type Importance struct {
	Score     float64 `json:"score"` // 1..10
	Reasoning string  `json:"reasoning"`
}

// Result is the full semantic analysis of one piece of content.
type Result struct {
	Entities        []Entity       `json:"entities"`
	Relationships   []Relationship `json:"relationships"`
	Sentiment       string         `json:"sentiment"`
	Importance      Importance     `json:"importance"`
	TemporalContext string         `json:"temporal_context"`
	Intent          string         `json:"intent"`
	Concepts        []string       `json:"concepts"`
}

// SimilarityResult scores how much two contents overlap.
type SimilarityResult struct {
	OverallSimilarity float64            `json:"overall_similarity"` // 0..1
	Breakdown         map[string]float64 `json:"breakdown,omitempty"`
	RecommendedAction string             `json:"recommended_action,omitempty"`
	MergeStrategy     string             `json:"merge_strategy,omitempty"`
}

// IntentResult describes what a search query is after.
type IntentResult struct {
	IntentType     string   `json:"intent_type"`
	EntitiesSought []string `json:"entities_sought"`
	TemporalScope  string   `json:"temporal_scope"`
	SearchStrategy string   `json:"search_strategy"`
}

// Provider performs semantic analysis. Implementations may fail at any
// call; callers own the fallback behavior.
type Provider interface {
	Analyze(ctx context.Context, content, userID string) (*Result, error)
	Similarity(ctx context.Context, a, b string) (*SimilarityResult, error)
	SearchIntent(ctx context.Context, query, userID string) (*IntentResult, error)
}
