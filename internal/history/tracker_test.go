package history

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/analysis"
	"github.com/virek/engram/internal/clock"
)

func newTestTracker(t *testing.T, capacity int) *Tracker {
	t.Helper()
	clk := clock.NewVirtual(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	tr, err := NewTracker(capacity, 100, clk, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tr
}

func result(importance float64, intent, sentiment string, concepts ...string) analysis.Result {
	return analysis.Result{
		Intent:     intent,
		Sentiment:  sentiment,
		Concepts:   concepts,
		Importance: analysis.Importance{Score: importance},
	}
}

func TestCapacityClamped(t *testing.T) {
	tr := newTestTracker(t, 10)
	for i := 0; i < 200; i++ {
		tr.Record("u1", result(5, "statement", "neutral"))
	}
	if got := len(tr.Snapshots("u1")); got != minCapacity {
		t.Errorf("snapshots = %d, want clamped capacity %d", got, minCapacity)
	}

	tr = newTestTracker(t, 500)
	for i := 0; i < 200; i++ {
		tr.Record("u1", result(5, "statement", "neutral"))
	}
	if got := len(tr.Snapshots("u1")); got != maxCapacity {
		t.Errorf("snapshots = %d, want clamped capacity %d", got, maxCapacity)
	}
}

func TestOldestEvictedOnOverflow(t *testing.T) {
	tr := newTestTracker(t, 50)
	for i := 0; i < 55; i++ {
		tr.Record("u1", result(float64(i%10)+1, fmt.Sprintf("intent-%d", i), "neutral"))
	}

	snaps := tr.Snapshots("u1")
	if len(snaps) != 50 {
		t.Fatalf("snapshots = %d, want 50", len(snaps))
	}
	// Entries 0..4 were evicted; the oldest survivor is entry 5.
	if snaps[0].Analysis.Intent != "intent-5" {
		t.Errorf("oldest survivor = %q, want intent-5", snaps[0].Analysis.Intent)
	}
	if snaps[len(snaps)-1].Analysis.Intent != "intent-54" {
		t.Errorf("newest = %q, want intent-54", snaps[len(snaps)-1].Analysis.Intent)
	}
}

func TestInsightsAggregates(t *testing.T) {
	tr := newTestTracker(t, 50)
	tr.Record("u1", result(4, "preference", "positive", "pizza", "food"))
	tr.Record("u1", result(6, "preference", "positive", "pizza"))
	tr.Record("u1", result(5, "question", "negative", "work"))

	ins, ok := tr.Insights("u1")
	if !ok {
		t.Fatalf("Insights: no data")
	}
	if ins.Snapshots != 3 {
		t.Errorf("Snapshots = %d, want 3", ins.Snapshots)
	}
	if ins.TopIntent != "preference" {
		t.Errorf("TopIntent = %q, want preference", ins.TopIntent)
	}
	if ins.TopSentiment != "positive" {
		t.Errorf("TopSentiment = %q, want positive", ins.TopSentiment)
	}
	if len(ins.TopConcepts) == 0 || ins.TopConcepts[0].Concept != "pizza" || ins.TopConcepts[0].Count != 2 {
		t.Errorf("TopConcepts = %+v, want pizza x2 first", ins.TopConcepts)
	}
	if ins.AverageImportance != 5 {
		t.Errorf("AverageImportance = %v, want 5", ins.AverageImportance)
	}
}

func TestTrendDirections(t *testing.T) {
	// Ten flat entries then five high ones: recent mean clearly above.
	tr := newTestTracker(t, 50)
	for i := 0; i < 10; i++ {
		tr.Record("u1", result(3, "statement", "neutral"))
	}
	for i := 0; i < 5; i++ {
		tr.Record("u1", result(9, "statement", "neutral"))
	}
	if ins, _ := tr.Insights("u1"); ins.Trend != "rising" {
		t.Errorf("Trend = %q, want rising", ins.Trend)
	}

	tr = newTestTracker(t, 50)
	for i := 0; i < 10; i++ {
		tr.Record("u2", result(9, "statement", "neutral"))
	}
	for i := 0; i < 5; i++ {
		tr.Record("u2", result(3, "statement", "neutral"))
	}
	if ins, _ := tr.Insights("u2"); ins.Trend != "declining" {
		t.Errorf("Trend = %q, want declining", ins.Trend)
	}

	// Constant importance sits inside the dead band.
	tr = newTestTracker(t, 50)
	for i := 0; i < 15; i++ {
		tr.Record("u3", result(5, "statement", "neutral"))
	}
	if ins, _ := tr.Insights("u3"); ins.Trend != "stable" {
		t.Errorf("Trend = %q, want stable", ins.Trend)
	}
}

func TestUnknownUser(t *testing.T) {
	tr := newTestTracker(t, 50)
	if _, ok := tr.Insights("nobody"); ok {
		t.Errorf("Insights returned data for an unknown user")
	}
	if snaps := tr.Snapshots("nobody"); snaps != nil {
		t.Errorf("Snapshots = %v, want nil", snaps)
	}
}

func TestUserBoundEvictsBuffers(t *testing.T) {
	clk := clock.NewVirtual(time.Now())
	tr, err := NewTracker(50, 2, clk, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	tr.Record("a", result(5, "statement", "neutral"))
	tr.Record("b", result(5, "statement", "neutral"))
	tr.Record("c", result(5, "statement", "neutral")) // evicts a

	if snaps := tr.Snapshots("a"); snaps != nil {
		t.Errorf("evicted user still has %d snapshots", len(snaps))
	}
	if snaps := tr.Snapshots("c"); len(snaps) != 1 {
		t.Errorf("retained user snapshots = %d, want 1", len(snaps))
	}
}
