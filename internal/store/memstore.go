package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/virek/engram/internal/fault"
)

// Ephemeral is an in-memory metadata store with the same contract as the
// Postgres-backed one. It exists so the system can boot and serve
// traffic when Postgres is down; nothing survives a restart.
type Ephemeral struct {
	mu   sync.RWMutex
	rows map[string]*Memory
}

// NewEphemeral creates an empty in-memory store.
func NewEphemeral() *Ephemeral {
	return &Ephemeral{rows: make(map[string]*Memory)}
}

func (e *Ephemeral) AddMemory(_ context.Context, userID, content string, metadata map[string]any) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.NewString()
	now := time.Now()
	e.rows[id] = &Memory{
		ID:        id,
		UserID:    userID,
		Content:   content,
		Metadata:  metadata,
		State:     "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id, nil
}

func (e *Ephemeral) GetMemory(_ context.Context, id string) (*Memory, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	m, ok := e.rows[id]
	if !ok {
		return nil, fault.NotFound("memory %q not found", id)
	}
	cp := *m
	return &cp, nil
}

func (e *Ephemeral) ListMemories(_ context.Context, f Filters) ([]*Memory, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	out := make([]*Memory, 0, len(e.rows))
	for _, m := range e.rows {
		if f.UserID != "" && m.UserID != f.UserID {
			continue
		}
		if f.State != "" && m.State != f.State {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (e *Ephemeral) UpdateMemory(_ context.Context, id, content string, metadata map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.rows[id]
	if !ok {
		return fault.NotFound("memory %q not found", id)
	}
	m.Content = content
	m.Metadata = metadata
	m.UpdatedAt = time.Now()
	return nil
}

func (e *Ephemeral) SetState(_ context.Context, id, state string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.rows[id]
	if !ok {
		return fault.NotFound("memory %q not found", id)
	}
	m.State = state
	m.UpdatedAt = time.Now()
	return nil
}

func (e *Ephemeral) DeleteMemory(_ context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.rows[id]; !ok {
		return fault.NotFound("memory %q not found", id)
	}
	delete(e.rows, id)
	return nil
}
