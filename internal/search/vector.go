package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/embedding"
	"github.com/virek/engram/internal/fault"
	"github.com/virek/engram/internal/vectorstore"
)

// Vector is the qdrant-backed Searcher. All users share one collection;
// isolation comes from a user_id payload filter.
type Vector struct {
	embedder   embedding.Provider
	store      *vectorstore.Client
	collection string
	logger     *zap.Logger
}

// NewVector creates the searcher and ensures its collection exists.
func NewVector(ctx context.Context, embedder embedding.Provider, store *vectorstore.Client, collection string, logger *zap.Logger) (*Vector, error) {
	if collection == "" {
		collection = "memories"
	}
	dim := embedder.Dimension()
	if dim <= 0 {
		return nil, fault.Validation("search: embedder reports dimension %d", dim)
	}
	if err := store.EnsureCollection(ctx, collection, uint64(dim)); err != nil {
		return nil, err
	}
	return &Vector{
		embedder:   embedder,
		store:      store,
		collection: collection,
		logger:     logger,
	}, nil
}

// Index embeds the content and upserts it with its owner in the
// payload.
func (v *Vector) Index(ctx context.Context, id, userID, content string) error {
	vecs, err := v.embedder.Embed(ctx, []string{content})
	if err != nil {
		return err
	}
	return v.store.Upsert(ctx, v.collection, id, vecs[0], map[string]string{
		"content": content,
		"user_id": userID,
	})
}

// Search embeds the query and returns the user's nearest memories.
func (v *Vector) Search(ctx context.Context, query, userID string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	vecs, err := v.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	results, err := v.store.Search(ctx, v.collection, vecs[0], uint64(limit), userID)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:      r.ID,
			Content: r.Payload["content"],
			Score:   float64(r.Score),
		})
	}
	return hits, nil
}

// Remove deletes the point.
func (v *Vector) Remove(ctx context.Context, id string) error {
	return v.store.Delete(ctx, v.collection, id)
}
