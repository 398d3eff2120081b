package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/virek/engram/internal/fault"
)

// Memory is one persisted memory row.
type Memory struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	State     string         `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Filters narrows ListMemories.
type Filters struct {
	UserID string
	State  string
	Limit  int
}

// AddMemory inserts a new active memory and returns its id.
func (s *Store) AddMemory(ctx context.Context, userID, content string, metadata map[string]any) (string, error) {
	if content == "" {
		return "", fault.Validation("store: content is required")
	}
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `
		INSERT INTO memories (id, user_id, content, metadata, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'active', now(), now())`,
		id, userID, content, metadata)
	if err != nil {
		return "", fault.Wrap(fault.KindProvider, err, "store: insert memory")
	}
	return id, nil
}

// GetMemory fetches one memory by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*Memory, error) {
	var m Memory
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, content, metadata, state, created_at, updated_at
		FROM memories WHERE id = $1`, id).
		Scan(&m.ID, &m.UserID, &m.Content, &m.Metadata, &m.State, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("store: memory %q not found", id)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "store: get memory %q", id)
	}
	return &m, nil
}

// ListMemories returns memories matching the filters, newest first.
func (s *Store) ListMemories(ctx context.Context, f Filters) ([]*Memory, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, content, metadata, state, created_at, updated_at
		FROM memories
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR state = $2)
		ORDER BY created_at DESC
		LIMIT $3`,
		f.UserID, f.State, limit)
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "store: list memories")
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.Metadata, &m.State, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fault.Wrap(fault.KindProvider, err, "store: scan memory row")
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "store: iterate memories")
	}
	return out, nil
}

// UpdateMemory replaces a memory's content and metadata.
func (s *Store) UpdateMemory(ctx context.Context, id, content string, metadata map[string]any) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE memories SET content = $2, metadata = $3, updated_at = now()
		WHERE id = $1`, id, content, metadata)
	if err != nil {
		return fault.Wrap(fault.KindProvider, err, "store: update memory %q", id)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("store: memory %q not found", id)
	}
	return nil
}

// SetState updates a memory's lifecycle state column.
func (s *Store) SetState(ctx context.Context, id, state string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE memories SET state = $2, updated_at = now()
		WHERE id = $1`, id, state)
	if err != nil {
		return fault.Wrap(fault.KindProvider, err, "store: set state on %q", id)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("store: memory %q not found", id)
	}
	return nil
}

// DeleteMemory removes a memory row.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return fault.Wrap(fault.KindProvider, err, "store: delete memory %q", id)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("store: memory %q not found", id)
	}
	return nil
}
