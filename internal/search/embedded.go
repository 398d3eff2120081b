package search

import (
	"context"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/virek/engram/internal/embedding"
	"github.com/virek/engram/internal/fault"
)

// Embedded is the in-process Searcher backed by chromem. Each user gets
// their own collection for isolation. Used when no qdrant instance is
// configured.
type Embedded struct {
	db       *chromem.DB
	embedder embedding.Provider
	logger   *zap.Logger

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	owners      map[string]string // memory id -> user id, for Remove
}

// NewEmbedded creates an embedded searcher.
func NewEmbedded(embedder embedding.Provider, logger *zap.Logger) *Embedded {
	return &Embedded{
		db:          chromem.NewDB(),
		embedder:    embedder,
		logger:      logger,
		collections: make(map[string]*chromem.Collection),
		owners:      make(map[string]string),
	}
}

func (e *Embedded) collection(userID string) (*chromem.Collection, error) {
	e.mu.RLock()
	col, ok := e.collections[userID]
	e.mu.RUnlock()
	if ok {
		return col, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if col, ok := e.collections[userID]; ok {
		return col, nil
	}

	name := "user_" + userID
	if userID == "" {
		name = "global"
	}
	col, err := e.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "search: create collection %s", name)
	}
	e.collections[userID] = col
	return col, nil
}

// Index embeds the content and adds it to the user's collection.
func (e *Embedded) Index(ctx context.Context, id, userID, content string) error {
	col, err := e.collection(userID)
	if err != nil {
		return err
	}
	vecs, err := e.embedder.Embed(ctx, []string{content})
	if err != nil {
		return err
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: vecs[0],
		Metadata:  map[string]string{"user_id": userID},
	})
	if err != nil {
		return fault.Wrap(fault.KindProvider, err, "search: index document %s", id)
	}

	e.mu.Lock()
	e.owners[id] = userID
	e.mu.Unlock()
	return nil
}

// Search returns the user's nearest memories. The result count is
// clamped to the collection size, which chromem requires.
func (e *Embedded) Search(ctx context.Context, query, userID string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	col, err := e.collection(userID)
	if err != nil {
		return nil, err
	}
	if n := col.Count(); n < limit {
		if n == 0 {
			return nil, nil
		}
		limit = n
	}

	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	results, err := col.QueryEmbedding(ctx, vecs[0], limit, nil, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "search: query collection")
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:      r.ID,
			Content: r.Content,
			Score:   float64(r.Similarity),
		})
	}
	return hits, nil
}

// Remove deletes the document from its owner's collection. Unknown ids
// are a no-op.
func (e *Embedded) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	userID, ok := e.owners[id]
	if ok {
		delete(e.owners, id)
	}
	col := e.collections[userID]
	e.mu.Unlock()
	if !ok || col == nil {
		return nil
	}

	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fault.Wrap(fault.KindProvider, err, "search: delete document %s", id)
	}
	return nil
}
