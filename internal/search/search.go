// Package search indexes memory content and retrieves it by semantic
// similarity. Two backends ship: qdrant over gRPC and an embedded
// chromem index for deployments without one.
package search

import "context"

// Hit is one ranked search result.
type Hit struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"` // 0..1, higher is closer
}

// Searcher indexes and retrieves content per user.
type Searcher interface {
	Index(ctx context.Context, id, userID, content string) error
	Search(ctx context.Context, query, userID string, limit int) ([]Hit, error)
	Remove(ctx context.Context, id string) error
}
