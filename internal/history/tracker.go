// Package history keeps a bounded rolling log of per-user analysis
// snapshots and derives trend insights from it.
package history

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/virek/engram/internal/analysis"
	"github.com/virek/engram/internal/clock"
)

const (
	minCapacity     = 50
	maxCapacity     = 100
	defaultMaxUsers = 10_000
	trendSlice      = 5
	trendDeadBand   = 0.25
)

// Snapshot is one recorded analysis for a user.
type Snapshot struct {
	Timestamp time.Time       `json:"timestamp"`
	Analysis  analysis.Result `json:"analysis"`
}

// buffer is a per-user capped ring; oldest entries are evicted on
// overflow.
type buffer struct {
	mu      sync.Mutex
	entries []Snapshot
	cap     int
}

func (b *buffer) add(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, s)
	if len(b.entries) > b.cap {
		b.entries = b.entries[len(b.entries)-b.cap:]
	}
}

func (b *buffer) snapshot() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Snapshot, len(b.entries))
	copy(out, b.entries)
	return out
}

// ConceptCount pairs a concept with how often it appeared.
type ConceptCount struct {
	Concept string `json:"concept"`
	Count   int    `json:"count"`
}

// Insights aggregates a user's buffer.
type Insights struct {
	Snapshots         int            `json:"snapshots"`
	TopIntent         string         `json:"top_intent,omitempty"`
	TopSentiment      string         `json:"top_sentiment,omitempty"`
	TopConcepts       []ConceptCount `json:"top_concepts,omitempty"`
	AverageImportance float64        `json:"average_importance"`
	Trend             string         `json:"trend"` // rising, declining, stable
}

// Tracker holds per-user ring buffers behind an LRU bound on the number
// of concurrently tracked users. Evicting a user drops their buffer.
type Tracker struct {
	users    *lru.Cache[string, *buffer]
	capacity int
	clk      clock.Clock
	logger   *zap.Logger
}

// NewTracker creates a tracker. capacity is clamped to [50,100];
// maxUsers <= 0 uses the default bound.
func NewTracker(capacity, maxUsers int, clk clock.Clock, logger *zap.Logger) (*Tracker, error) {
	if capacity < minCapacity {
		if capacity != 0 {
			logger.Warn("history capacity below minimum, clamping",
				zap.Int("requested", capacity), zap.Int("min", minCapacity))
		}
		capacity = minCapacity
	}
	if capacity > maxCapacity {
		capacity = maxCapacity
	}
	if maxUsers <= 0 {
		maxUsers = defaultMaxUsers
	}

	users, err := lru.New[string, *buffer](maxUsers)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		users:    users,
		capacity: capacity,
		clk:      clk,
		logger:   logger,
	}, nil
}

// Record appends an analysis snapshot to the user's buffer.
func (t *Tracker) Record(userID string, result analysis.Result) {
	buf, ok := t.users.Get(userID)
	if !ok {
		buf = &buffer{cap: t.capacity}
		t.users.Add(userID, buf)
	}
	buf.add(Snapshot{Timestamp: t.clk.Now(), Analysis: result})
}

// Snapshots returns a copy of the user's buffer, oldest first.
func (t *Tracker) Snapshots(userID string) []Snapshot {
	buf, ok := t.users.Get(userID)
	if !ok {
		return nil
	}
	return buf.snapshot()
}

// Insights derives aggregates over the user's buffer: most frequent
// intent and sentiment, top concepts, mean importance, and a trend
// direction comparing the last few snapshots against the whole buffer.
func (t *Tracker) Insights(userID string) (Insights, bool) {
	entries := t.Snapshots(userID)
	if len(entries) == 0 {
		return Insights{}, false
	}

	intents := make(map[string]int)
	sentiments := make(map[string]int)
	concepts := make(map[string]int)
	var totalImportance float64
	for _, s := range entries {
		if s.Analysis.Intent != "" {
			intents[s.Analysis.Intent]++
		}
		if s.Analysis.Sentiment != "" {
			sentiments[s.Analysis.Sentiment]++
		}
		for _, c := range s.Analysis.Concepts {
			concepts[c]++
		}
		totalImportance += s.Analysis.Importance.Score
	}

	mean := totalImportance / float64(len(entries))
	ins := Insights{
		Snapshots:         len(entries),
		TopIntent:         mostFrequent(intents),
		TopSentiment:      mostFrequent(sentiments),
		TopConcepts:       topConcepts(concepts, 5),
		AverageImportance: mean,
		Trend:             trend(entries, mean),
	}
	return ins, true
}

// trend compares the mean importance of the most recent slice against
// the full-buffer mean, with a dead band around equality.
func trend(entries []Snapshot, fullMean float64) string {
	n := trendSlice
	if len(entries) < n {
		n = len(entries)
	}
	var recent float64
	for _, s := range entries[len(entries)-n:] {
		recent += s.Analysis.Importance.Score
	}
	recent /= float64(n)

	switch {
	case recent > fullMean+trendDeadBand:
		return "rising"
	case recent < fullMean-trendDeadBand:
		return "declining"
	default:
		return "stable"
	}
}

func mostFrequent(counts map[string]int) string {
	best := ""
	bestN := 0
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}

func topConcepts(counts map[string]int, limit int) []ConceptCount {
	out := make([]ConceptCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, ConceptCount{Concept: c, Count: n})
	}
	// Insertion sort by count desc, name asc; concept maps stay small.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			a, b := out[j-1], out[j]
			if b.Count > a.Count || (b.Count == a.Count && b.Concept < a.Concept) {
				out[j-1], out[j] = b, a
			} else {
				break
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
