// Package dedup decides whether new content duplicates stored records:
// provider-scored similarity with a token-overlap fallback, classified
// against configurable policy thresholds. Evaluation never fails; a
// provider outage degrades the scores, not the decision.
package dedup

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/virek/engram/internal/analysis"
	"github.com/virek/engram/internal/metrics"
)

// Action is the recommended handling for new content.
type Action string

const (
	ActionStoreNew Action = "store_new"
	ActionUpdate   Action = "update_existing"
	ActionMerge    Action = "merge"
)

// Candidate is one prior record scored against the new content.
type Candidate struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Result is the full deduplication outcome.
type Result struct {
	Candidates        []Candidate `json:"candidates"`
	MergeCandidates   []Candidate `json:"merge_candidates"`
	RecommendedAction Action      `json:"recommended_action"`
	HighestSimilarity float64     `json:"highest_similarity"`
	Degraded          bool        `json:"degraded"`
}

// Prior is an existing record offered for comparison.
type Prior struct {
	ID      string
	Content string
}

// Policy holds the decision thresholds. The defaults preserve the
// original behavior; deployments may tune them.
type Policy struct {
	// MergeCandidate marks a candidate for merging when its similarity
	// exceeds this value.
	MergeCandidate float64 `json:"merge_candidate_threshold"`
	// Merge recommends merging when the maximum similarity exceeds it.
	Merge float64 `json:"merge_threshold"`
	// Update recommends updating when the maximum similarity exceeds it
	// but stays at or below Merge.
	Update float64 `json:"update_threshold"`
	// MaxCandidates bounds how many priors are scored.
	MaxCandidates int `json:"max_candidates"`
}

// DefaultPolicy returns the source-faithful thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MergeCandidate: 0.8,
		Merge:          0.9,
		Update:         0.7,
		MaxCandidates:  10,
	}
}

// Engine scores candidates and classifies the outcome. Pair scores are
// cached so re-evaluating identical content does not re-hit the
// provider.
type Engine struct {
	provider analysis.Provider
	policy   Policy
	cache    *ristretto.Cache
	metrics  *metrics.Manager
	logger   *zap.Logger
}

// NewEngine creates a dedup engine. provider may be nil, in which case
// every score comes from the token-overlap fallback.
func NewEngine(provider analysis.Provider, policy Policy, mets *metrics.Manager, logger *zap.Logger) *Engine {
	if policy.MaxCandidates <= 0 {
		policy.MaxCandidates = DefaultPolicy().MaxCandidates
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		// Only reachable with invalid static parameters.
		logger.Warn("dedup cache unavailable", zap.Error(err))
	}
	return &Engine{
		provider: provider,
		policy:   policy,
		cache:    cache,
		metrics:  mets,
		logger:   logger,
	}
}

// Evaluate scores the new content against the candidate priors and
// returns the decision. It never returns an error: provider failures
// switch that pair to the fallback score and set Degraded.
func (e *Engine) Evaluate(ctx context.Context, content string, priors []Prior) Result {
	if len(priors) > e.policy.MaxCandidates {
		priors = priors[:e.policy.MaxCandidates]
	}

	result := Result{RecommendedAction: ActionStoreNew}
	for _, prior := range priors {
		score, degraded := e.score(ctx, content, prior.Content)
		cand := Candidate{ID: prior.ID, Similarity: score}
		result.Candidates = append(result.Candidates, cand)
		if degraded {
			result.Degraded = true
		}
		if score > e.policy.MergeCandidate {
			result.MergeCandidates = append(result.MergeCandidates, cand)
		}
		if score > result.HighestSimilarity {
			result.HighestSimilarity = score
		}
	}

	switch s := result.HighestSimilarity; {
	case s > e.policy.Merge:
		result.RecommendedAction = ActionMerge
	case s > e.policy.Update:
		result.RecommendedAction = ActionUpdate
	default:
		result.RecommendedAction = ActionStoreNew
	}

	e.metrics.RecordDedupDecision(string(result.RecommendedAction))
	return result
}

type cachedScore struct {
	score    float64
	degraded bool
}

// score returns the similarity for one pair plus whether the fallback
// produced it.
func (e *Engine) score(ctx context.Context, a, b string) (float64, bool) {
	key := pairKey(a, b)
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			if cs, ok := v.(cachedScore); ok {
				return cs.score, cs.degraded
			}
		}
	}

	score, degraded := e.scoreUncached(ctx, a, b)
	if e.cache != nil {
		e.cache.SetWithTTL(key, cachedScore{score: score, degraded: degraded}, 1, 10*time.Minute)
	}
	return score, degraded
}

func (e *Engine) scoreUncached(ctx context.Context, a, b string) (float64, bool) {
	if e.provider != nil {
		res, err := e.provider.Similarity(ctx, a, b)
		if err == nil && res != nil {
			return clamp01(res.OverallSimilarity), false
		}
		if err != nil {
			e.logger.Debug("similarity provider failed, using token overlap", zap.Error(err))
		}
	}
	return tokenOverlap(a, b), true
}

func pairKey(a, b string) string {
	h := sha1.New()
	h.Write([]byte(a))
	h.Write([]byte{0})
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
