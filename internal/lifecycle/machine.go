package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/clock"
	"github.com/virek/engram/internal/events"
	"github.com/virek/engram/internal/fault"
	"github.com/virek/engram/internal/metrics"
)

// Policy holds the lifecycle constants. Defaults preserve the source
// behavior; deployments may tune them.
type Policy struct {
	FirstCheck            time.Duration // delay before the first scheduled check
	RecheckDelta          float64       // importance movement that forces a re-check
	ArchiveImportance     float64       // archive when importance below this...
	ArchiveAge            time.Duration // ...and the record is older than this
	ConsolidateImportance float64       // consolidate when importance above this...
	ConsolidateEvolutions int           // ...and evolution events exceed this
	PromoteAccesses       int           // promote when accesses exceed this
	AccessWindow          time.Duration // trailing window for access counting
	AccessBoostCount      int           // accesses in window above which importance rises
}

// DefaultPolicy returns the source-faithful constants.
func DefaultPolicy() Policy {
	return Policy{
		FirstCheck:            24 * time.Hour,
		RecheckDelta:          2.0,
		ArchiveImportance:     3,
		ArchiveAge:            90 * 24 * time.Hour,
		ConsolidateImportance: 8,
		ConsolidateEvolutions: 3,
		PromoteAccesses:       20,
		AccessWindow:          30 * 24 * time.Hour,
		AccessBoostCount:      5,
	}
}

// Consolidator executes the merge work when a record enters the
// consolidated state. Failure leaves the consolidation pending.
type Consolidator interface {
	Consolidate(ctx context.Context, memoryID, userID string) error
}

// Machine is the memory lifecycle state machine. One mutex per record,
// one RWMutex for the registry map.
type Machine struct {
	mu      sync.RWMutex
	records map[string]*Record

	policy       Policy
	clk          clock.Clock
	sched        *Scheduler
	consolidator Consolidator
	emitter      *events.Emitter
	metrics      *metrics.Manager
	logger       *zap.Logger
}

// NewMachine creates a lifecycle machine. Attach its Scheduler to a
// clock.Ticker to drive scheduled checks.
func NewMachine(policy Policy, clk clock.Clock, emitter *events.Emitter, mets *metrics.Manager, logger *zap.Logger) *Machine {
	m := &Machine{
		records: make(map[string]*Record),
		policy:  policy,
		clk:     clk,
		emitter: emitter,
		metrics: mets,
		logger:  logger,
	}
	m.sched = NewScheduler(m.runCheck, logger)
	return m
}

// Scheduler returns the machine's check scheduler for ticker wiring.
func (m *Machine) Scheduler() *Scheduler { return m.sched }

// SetConsolidator wires the collaborator that performs consolidation
// merges. Without one, consolidations stay pending.
func (m *Machine) SetConsolidator(c Consolidator) { m.consolidator = c }

// Init creates an active record for a newly stored memory and schedules
// its first check.
func (m *Machine) Init(memoryID, userID string, importance float64) Snapshot {
	now := m.clk.Now()
	rec := &Record{
		MemoryID:            memoryID,
		UserID:              userID,
		CreatedAt:           now,
		state:               StateActive,
		importance:          clampImportance(importance),
		importanceEvolution: []float64{clampImportance(importance)},
		checkedImportance:   clampImportance(importance),
		evolutionHistory: []EvolutionEvent{{
			Timestamp: now,
			Type:      "created",
		}},
	}

	m.mu.Lock()
	m.records[memoryID] = rec
	m.mu.Unlock()

	m.sched.Schedule(memoryID, now.Add(m.policy.FirstCheck))
	m.logger.Debug("lifecycle record initialized",
		zap.String("memory", memoryID),
		zap.Float64("importance", rec.importance))
	return rec.snapshot()
}

// Get returns a record's snapshot.
func (m *Machine) Get(memoryID string) (Snapshot, bool) {
	rec, ok := m.get(memoryID)
	if !ok {
		return Snapshot{}, false
	}
	return rec.snapshot(), true
}

// Forget drops a record, for deleted memories. Unknown ids are a no-op.
func (m *Machine) Forget(memoryID string) {
	m.mu.Lock()
	delete(m.records, memoryID)
	m.mu.Unlock()
}

// TrackAccess records one access and updates importance from the
// trailing-window access count. The count is taken before the new
// access is recorded: more than AccessBoostCount raises importance by
// one (capped at 10), zero lowers it by half a point (floored at 1).
// The resulting importance is appended to the evolution log either way.
func (m *Machine) TrackAccess(memoryID, kind string) error {
	rec, ok := m.get(memoryID)
	if !ok {
		return fault.NotFound("memory %q has no lifecycle record", memoryID)
	}
	now := m.clk.Now()

	rec.mu.Lock()
	cutoff := now.Add(-m.policy.AccessWindow)
	recent := 0
	for _, a := range rec.accessPatterns {
		if a.Timestamp.After(cutoff) {
			recent++
		}
	}

	switch {
	case recent > m.policy.AccessBoostCount:
		rec.importance = minFloat(10, rec.importance+1)
	case recent == 0:
		rec.importance = maxFloat(1, rec.importance-0.5)
	}
	rec.accessPatterns = append(rec.accessPatterns, AccessEvent{Timestamp: now, Kind: kind})
	rec.importanceEvolution = append(rec.importanceEvolution, rec.importance)

	delta := rec.importance - rec.checkedImportance
	if delta < 0 {
		delta = -delta
	}
	recheck := delta > m.policy.RecheckDelta
	rec.mu.Unlock()

	if recheck {
		m.sched.Schedule(memoryID, now)
	}
	return nil
}

// RecordEvolution appends an event to a record's history. Dedup-applied
// updates and merges land here.
func (m *Machine) RecordEvolution(memoryID, eventType, detail string) error {
	rec, ok := m.get(memoryID)
	if !ok {
		return fault.NotFound("memory %q has no lifecycle record", memoryID)
	}
	rec.mu.Lock()
	rec.evolutionHistory = append(rec.evolutionHistory, EvolutionEvent{
		Timestamp: m.clk.Now(),
		Type:      eventType,
		Detail:    detail,
	})
	rec.mu.Unlock()
	return nil
}

// SetImportance replaces a record's importance, appending to the
// evolution log, and forces a re-check when the movement exceeds the
// policy delta. Used when fresh analysis re-scores stored content.
func (m *Machine) SetImportance(memoryID string, importance float64) error {
	rec, ok := m.get(memoryID)
	if !ok {
		return fault.NotFound("memory %q has no lifecycle record", memoryID)
	}
	importance = clampImportance(importance)

	rec.mu.Lock()
	rec.importance = importance
	rec.importanceEvolution = append(rec.importanceEvolution, importance)
	delta := importance - rec.checkedImportance
	if delta < 0 {
		delta = -delta
	}
	recheck := delta > m.policy.RecheckDelta
	rec.mu.Unlock()

	if recheck {
		m.sched.Schedule(memoryID, m.clk.Now())
	}
	return nil
}

// CompleteConsolidation books a pending consolidation as completed.
func (m *Machine) CompleteConsolidation(memoryID string) error {
	rec, ok := m.get(memoryID)
	if !ok {
		return fault.NotFound("memory %q has no lifecycle record", memoryID)
	}

	rec.mu.Lock()
	if rec.consolidation != ConsolidationPending {
		status := rec.consolidation
		rec.mu.Unlock()
		return fault.Validation("memory %q consolidation status is %q, not pending", memoryID, status)
	}
	rec.consolidation = ConsolidationCompleted
	rec.evolutionHistory = append(rec.evolutionHistory, EvolutionEvent{
		Timestamp: m.clk.Now(),
		Type:      "consolidation",
		Detail:    "completed",
	})
	rec.mu.Unlock()

	m.emitter.Emit(events.Event{
		Type:    events.TypeConsolidationCompleted,
		Subject: memoryID,
	})
	return nil
}

// Check evaluates the transition rules for one record immediately.
func (m *Machine) Check(memoryID string) (Snapshot, error) {
	rec, ok := m.get(memoryID)
	if !ok {
		return Snapshot{}, fault.NotFound("memory %q has no lifecycle record", memoryID)
	}
	m.evaluate(rec, m.clk.Now())
	return rec.snapshot(), nil
}

// runCheck is the scheduler's callback.
func (m *Machine) runCheck(memoryID string, now time.Time) {
	rec, ok := m.get(memoryID)
	if !ok {
		return // record deleted between scheduling and firing
	}
	m.evaluate(rec, now)
}

// evaluate applies the transition rules in order; the first match wins.
func (m *Machine) evaluate(rec *Record, now time.Time) {
	rec.mu.Lock()
	if rec.state != StateActive {
		rec.checkedImportance = rec.importance
		rec.mu.Unlock()
		return
	}

	age := now.Sub(rec.CreatedAt)
	var target State
	switch {
	case rec.importance < m.policy.ArchiveImportance && age > m.policy.ArchiveAge:
		target = StateArchived
	case rec.importance > m.policy.ConsolidateImportance && len(rec.evolutionHistory) > m.policy.ConsolidateEvolutions:
		target = StateConsolidated
	case len(rec.accessPatterns) > m.policy.PromoteAccesses:
		target = StatePromoted
	}

	rec.checkedImportance = rec.importance
	if target == "" {
		rec.mu.Unlock()
		return
	}

	from := rec.state
	rec.state = target
	rec.evolutionHistory = append(rec.evolutionHistory, EvolutionEvent{
		Timestamp: now,
		Type:      "transition",
		Detail:    string(from) + " -> " + string(target),
	})
	if target == StateConsolidated {
		rec.consolidation = ConsolidationPending
	}
	memoryID, userID := rec.MemoryID, rec.UserID
	rec.mu.Unlock()

	m.metrics.RecordLifecycleTransition(string(from), string(target))
	m.emitter.Emit(events.Event{
		Type:    events.TypeLifecycleTransition,
		Subject: memoryID,
		Fields:  map[string]any{"from": string(from), "to": string(target)},
	})
	m.logger.Info("lifecycle transition",
		zap.String("memory", memoryID),
		zap.String("from", string(from)),
		zap.String("to", string(target)))

	if target == StateConsolidated {
		m.requestConsolidation(memoryID, userID)
	}
}

// requestConsolidation hands the merge work to the collaborator. A
// failure surfaces as an event and leaves the status pending.
func (m *Machine) requestConsolidation(memoryID, userID string) {
	m.emitter.Emit(events.Event{
		Type:    events.TypeConsolidationRequested,
		Subject: memoryID,
	})
	if m.consolidator == nil {
		m.logger.Warn("no consolidator wired, consolidation stays pending",
			zap.String("memory", memoryID))
		return
	}

	go func() {
		if err := m.consolidator.Consolidate(context.Background(), memoryID, userID); err != nil {
			wrapped := fault.Wrap(fault.KindConsolidation, err, "consolidate memory %q", memoryID)
			m.logger.Error("consolidation failed", zap.String("memory", memoryID), zap.Error(wrapped))
			m.emitter.Emit(events.Event{
				Type:     events.TypeConsolidationRequested,
				Subject:  memoryID,
				Severity: events.SeverityError,
				Fields:   map[string]any{"error": wrapped.Error()},
			})
		}
	}()
}

func (m *Machine) get(memoryID string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[memoryID]
	return rec, ok
}

func clampImportance(v float64) float64 {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
