// Package lifecycle tracks each memory record's retention state,
// importance trend, and access history, and triggers archive,
// consolidate, and promote transitions on scheduled checks.
package lifecycle

import (
	"sync"
	"time"
)

// State is a record's retention state. Archived, consolidated, and
// promoted are terminal for this machine's rules.
type State string

const (
	StateActive       State = "active"
	StateArchived     State = "archived"
	StateConsolidated State = "consolidated"
	StatePromoted     State = "promoted"
)

// ConsolidationStatus tracks a requested consolidation. The merge work
// itself belongs to a collaborator; the machine only books pending and
// completed.
type ConsolidationStatus string

const (
	ConsolidationNone      ConsolidationStatus = ""
	ConsolidationPending   ConsolidationStatus = "pending"
	ConsolidationCompleted ConsolidationStatus = "completed"
)

// AccessEvent is one tracked access.
type AccessEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"` // search, read, tool
}

// EvolutionEvent is one entry in a record's append-only history.
type EvolutionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"` // created, updated, merged, transition, consolidation
	Detail    string    `json:"detail,omitempty"`
}

// Record is the lifecycle state of one memory. The mutex guards all
// mutable fields; the three histories are append-only.
type Record struct {
	MemoryID  string
	UserID    string
	CreatedAt time.Time

	mu                  sync.Mutex
	state               State
	importance          float64
	evolutionHistory    []EvolutionEvent
	accessPatterns      []AccessEvent
	importanceEvolution []float64
	consolidation       ConsolidationStatus

	// importance at the last completed check, for recheck triggering
	checkedImportance float64
}

// Snapshot is a copy of a record's state safe to hand to callers.
type Snapshot struct {
	MemoryID            string              `json:"memory_id"`
	UserID              string              `json:"user_id"`
	CreatedAt           time.Time           `json:"created_at"`
	State               State               `json:"state"`
	Importance          float64             `json:"importance"`
	EvolutionHistory    []EvolutionEvent    `json:"evolution_history"`
	AccessPatterns      []AccessEvent       `json:"access_patterns"`
	ImportanceEvolution []float64           `json:"importance_evolution"`
	ConsolidationStatus ConsolidationStatus `json:"consolidation_status,omitempty"`
}

func (r *Record) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		MemoryID:            r.MemoryID,
		UserID:              r.UserID,
		CreatedAt:           r.CreatedAt,
		State:               r.state,
		Importance:          r.importance,
		ConsolidationStatus: r.consolidation,
	}
	s.EvolutionHistory = append(s.EvolutionHistory, r.evolutionHistory...)
	s.AccessPatterns = append(s.AccessPatterns, r.accessPatterns...)
	s.ImportanceEvolution = append(s.ImportanceEvolution, r.importanceEvolution...)
	return s
}
