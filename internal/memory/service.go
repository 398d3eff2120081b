// Package memory composes the core registries into the store, search,
// delete, and insight flows the surfaces expose. Collaborators arrive
// as interfaces; optional ones may be nil and degrade the flow instead
// of failing it.
package memory

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/analysis"
	"github.com/virek/engram/internal/clock"
	"github.com/virek/engram/internal/dedup"
	"github.com/virek/engram/internal/events"
	"github.com/virek/engram/internal/fault"
	"github.com/virek/engram/internal/graph"
	"github.com/virek/engram/internal/history"
	"github.com/virek/engram/internal/lifecycle"
	"github.com/virek/engram/internal/metrics"
	"github.com/virek/engram/internal/search"
	"github.com/virek/engram/internal/store"
)

// MetadataStore is the persistence the service needs. store.Store
// implements it; tests use an in-memory fake.
type MetadataStore interface {
	AddMemory(ctx context.Context, userID, content string, metadata map[string]any) (string, error)
	GetMemory(ctx context.Context, id string) (*store.Memory, error)
	ListMemories(ctx context.Context, f store.Filters) ([]*store.Memory, error)
	UpdateMemory(ctx context.Context, id, content string, metadata map[string]any) error
	SetState(ctx context.Context, id, state string) error
	DeleteMemory(ctx context.Context, id string) error
}

// RelationGraph is the relationship layer. graph.Graph implements it;
// it is optional at runtime.
type RelationGraph interface {
	AddMemory(ctx context.Context, memoryID, userID, content string, entities []analysis.Entity) error
	Relate(ctx context.Context, fromID, toID, relation string) error
	Neighborhood(ctx context.Context, memoryID string) ([]graph.Neighbor, error)
	DeleteMemory(ctx context.Context, memoryID string) error
}

// Deps carries the service's collaborators. Store, Searcher, Dedup,
// Lifecycle, and History are required; Provider and Graph may be nil.
type Deps struct {
	Store     MetadataStore
	Graph     RelationGraph
	Searcher  search.Searcher
	Provider  analysis.Provider
	Dedup     *dedup.Engine
	Lifecycle *lifecycle.Machine
	History   *history.Tracker
	Emitter   *events.Emitter
	Metrics   *metrics.Manager
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Service is the memory orchestrator.
type Service struct {
	deps Deps
}

// NewService creates the service.
func NewService(deps Deps) *Service {
	return &Service{deps: deps}
}

// Degradation flags which optional steps of a flow fell back or were
// skipped. Steps stay independent; one failing never rolls back the
// others.
type Degradation struct {
	Analysis bool `json:"analysis,omitempty"`
	Search   bool `json:"search,omitempty"`
	Index    bool `json:"index,omitempty"`
	Graph    bool `json:"graph,omitempty"`
}

// StoreResult reports what happened to stored content.
type StoreResult struct {
	MemoryID string           `json:"memory_id"`
	Action   dedup.Action     `json:"action"`
	MergedID string           `json:"merged_id,omitempty"`
	Analysis *analysis.Result `json:"analysis"`
	Dedup    dedup.Result     `json:"dedup"`
	Degraded Degradation      `json:"degraded,omitempty"`
}

// StoreMemory runs the full store flow: analyze, find candidates,
// decide deduplication, apply, snapshot history.
func (s *Service) StoreMemory(ctx context.Context, userID, content string, metadata map[string]any) (*StoreResult, error) {
	if userID == "" {
		return nil, fault.Validation("user_id is required")
	}
	if content == "" {
		return nil, fault.Validation("content is required")
	}

	result := &StoreResult{}

	// Analysis. A provider failure downgrades to the heuristic result
	// rather than failing the store.
	ar := s.analyze(ctx, content, userID, &result.Degraded)
	result.Analysis = ar

	// Candidate retrieval feeds dedup; search failure means dedup sees
	// no priors and recommends store_new.
	priors := s.candidates(ctx, content, userID, &result.Degraded)
	result.Dedup = s.deps.Dedup.Evaluate(ctx, content, priors)
	result.Action = result.Dedup.RecommendedAction

	s.deps.Emitter.Emit(events.Event{
		Type:    events.TypeDedupDecision,
		Subject: userID,
		Fields: map[string]any{
			"action":     string(result.Action),
			"similarity": result.Dedup.HighestSimilarity,
			"degraded":   result.Dedup.Degraded,
		},
	})

	var err error
	switch result.Action {
	case dedup.ActionUpdate:
		err = s.applyUpdate(ctx, result, userID, content, metadata, ar)
	case dedup.ActionMerge:
		err = s.applyMerge(ctx, result, userID, content, metadata, ar)
	default:
		err = s.applyStoreNew(ctx, result, userID, content, metadata, ar)
	}
	if err != nil {
		return nil, err
	}

	s.deps.History.Record(userID, *ar)
	s.deps.Emitter.Emit(events.Event{
		Type:    events.TypeMemoryStored,
		Subject: result.MemoryID,
		Fields: map[string]any{
			"user":   userID,
			"action": string(result.Action),
		},
	})
	return result, nil
}

func (s *Service) analyze(ctx context.Context, content, userID string, deg *Degradation) *analysis.Result {
	if s.deps.Provider != nil {
		if ar, err := s.deps.Provider.Analyze(ctx, content, userID); err == nil && ar != nil {
			return ar
		} else if err != nil {
			s.deps.Logger.Warn("analysis failed, using heuristic", zap.Error(err))
		}
	}
	deg.Analysis = true
	return analysis.Heuristic(content)
}

func (s *Service) candidates(ctx context.Context, content, userID string, deg *Degradation) []dedup.Prior {
	hits, err := s.deps.Searcher.Search(ctx, content, userID, dedup.DefaultPolicy().MaxCandidates)
	if err != nil {
		s.deps.Logger.Warn("candidate search failed, skipping dedup priors", zap.Error(err))
		deg.Search = true
		return nil
	}
	priors := make([]dedup.Prior, 0, len(hits))
	for _, h := range hits {
		priors = append(priors, dedup.Prior{ID: h.ID, Content: h.Content})
	}
	return priors
}

func (s *Service) applyStoreNew(ctx context.Context, result *StoreResult, userID, content string, metadata map[string]any, ar *analysis.Result) error {
	id, err := s.deps.Store.AddMemory(ctx, userID, content, metadata)
	if err != nil {
		return err
	}
	result.MemoryID = id

	if err := s.deps.Searcher.Index(ctx, id, userID, content); err != nil {
		s.deps.Logger.Warn("index failed", zap.String("memory", id), zap.Error(err))
		result.Degraded.Index = true
	}
	s.addToGraph(ctx, result, id, userID, content, ar.Entities)

	s.deps.Lifecycle.Init(id, userID, ar.Importance.Score)
	return nil
}

// applyUpdate folds the new content into the winning candidate.
func (s *Service) applyUpdate(ctx context.Context, result *StoreResult, userID, content string, metadata map[string]any, ar *analysis.Result) error {
	target := best(result.Dedup.Candidates)
	if err := s.deps.Store.UpdateMemory(ctx, target, content, metadata); err != nil {
		if fault.IsKind(err, fault.KindNotFound) {
			// The index knew an id the store no longer has; store fresh.
			return s.applyStoreNew(ctx, result, userID, content, metadata, ar)
		}
		return err
	}
	result.MemoryID = target

	if err := s.deps.Searcher.Index(ctx, target, userID, content); err != nil {
		s.deps.Logger.Warn("reindex failed", zap.String("memory", target), zap.Error(err))
		result.Degraded.Index = true
	}
	if err := s.deps.Lifecycle.RecordEvolution(target, "updated", "dedup update"); err != nil {
		s.deps.Lifecycle.Init(target, userID, ar.Importance.Score)
	} else {
		s.deps.Lifecycle.SetImportance(target, ar.Importance.Score)
	}
	return nil
}

// applyMerge stores the new content and links the winning candidate
// into it.
func (s *Service) applyMerge(ctx context.Context, result *StoreResult, userID, content string, metadata map[string]any, ar *analysis.Result) error {
	if err := s.applyStoreNew(ctx, result, userID, content, metadata, ar); err != nil {
		return err
	}
	winner := best(result.Dedup.MergeCandidates)
	if winner == "" {
		winner = best(result.Dedup.Candidates)
	}
	result.MergedID = winner

	if s.deps.Graph != nil && winner != "" {
		if err := s.deps.Graph.Relate(ctx, winner, result.MemoryID, "MERGED_INTO"); err != nil {
			s.deps.Logger.Warn("merge link failed", zap.String("from", winner), zap.Error(err))
			result.Degraded.Graph = true
		}
	}
	if winner != "" {
		s.deps.Lifecycle.RecordEvolution(winner, "merged", "merged into "+result.MemoryID)
	}
	return nil
}

func (s *Service) addToGraph(ctx context.Context, result *StoreResult, id, userID, content string, entities []analysis.Entity) {
	if s.deps.Graph == nil {
		return
	}
	if err := s.deps.Graph.AddMemory(ctx, id, userID, content, entities); err != nil {
		s.deps.Logger.Warn("graph write failed", zap.String("memory", id), zap.Error(err))
		result.Degraded.Graph = true
	}
}

// best returns the highest-similarity candidate id.
func best(candidates []dedup.Candidate) string {
	id, top := "", -1.0
	for _, c := range candidates {
		if c.Similarity > top {
			id, top = c.ID, c.Similarity
		}
	}
	return id
}

// SearchHit is one ranked search result with its lifecycle context.
type SearchHit struct {
	ID         string          `json:"id"`
	Content    string          `json:"content"`
	Score      float64         `json:"score"`
	Similarity float64         `json:"similarity"`
	Importance float64         `json:"importance,omitempty"`
	State      lifecycle.State `json:"state,omitempty"`
}

// SearchResponse carries the ranked hits plus the query's classified
// intent.
type SearchResponse struct {
	Hits     []SearchHit             `json:"hits"`
	Intent   *analysis.IntentResult  `json:"intent,omitempty"`
	Degraded Degradation             `json:"degraded,omitempty"`
}

// Ranking weights: similarity dominates, retention priority and
// freshness break ties.
const (
	weightSimilarity = 0.7
	weightImportance = 0.2
	weightRecency    = 0.1
)

// SearchMemories runs the search flow: classify intent, retrieve, rank
// by blended score, and track the access on every returned record.
func (s *Service) SearchMemories(ctx context.Context, userID, query string, limit int) (*SearchResponse, error) {
	if userID == "" {
		return nil, fault.Validation("user_id is required")
	}
	if query == "" {
		return nil, fault.Validation("query is required")
	}
	if limit <= 0 {
		limit = 10
	}

	resp := &SearchResponse{}
	if s.deps.Provider != nil {
		intent, err := s.deps.Provider.SearchIntent(ctx, query, userID)
		if err != nil {
			s.deps.Logger.Warn("intent analysis failed", zap.Error(err))
			resp.Degraded.Analysis = true
			intent = analysis.HeuristicIntent(query)
		}
		resp.Intent = intent
	} else {
		resp.Degraded.Analysis = true
		resp.Intent = analysis.HeuristicIntent(query)
	}

	hits, err := s.deps.Searcher.Search(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}

	now := s.deps.Clock.Now()
	for _, h := range hits {
		sh := SearchHit{
			ID:         h.ID,
			Content:    h.Content,
			Similarity: h.Score,
		}
		importance, recency := 0.5, 0.5
		if snap, ok := s.deps.Lifecycle.Get(h.ID); ok {
			sh.Importance = snap.Importance
			sh.State = snap.State
			importance = snap.Importance / 10
			age := now.Sub(snap.CreatedAt)
			recency = math.Exp(-age.Hours() / (30 * 24))
		}
		sh.Score = weightSimilarity*h.Score + weightImportance*importance + weightRecency*recency
		resp.Hits = append(resp.Hits, sh)
	}
	sort.SliceStable(resp.Hits, func(i, j int) bool {
		return resp.Hits[i].Score > resp.Hits[j].Score
	})

	for _, h := range resp.Hits {
		if err := s.deps.Lifecycle.TrackAccess(h.ID, "search"); err != nil && !fault.IsKind(err, fault.KindNotFound) {
			s.deps.Logger.Warn("access tracking failed", zap.String("memory", h.ID), zap.Error(err))
		}
	}
	return resp, nil
}

// GetMemory fetches one memory row.
func (s *Service) GetMemory(ctx context.Context, id string) (*store.Memory, error) {
	return s.deps.Store.GetMemory(ctx, id)
}

// ListMemories lists memory rows by filter.
func (s *Service) ListMemories(ctx context.Context, f store.Filters) ([]*store.Memory, error) {
	return s.deps.Store.ListMemories(ctx, f)
}

// DeleteMemory removes a memory everywhere. The store row is
// authoritative; index and graph cleanup failures are logged, not
// returned.
func (s *Service) DeleteMemory(ctx context.Context, id string) error {
	if err := s.deps.Store.DeleteMemory(ctx, id); err != nil {
		return err
	}
	if err := s.deps.Searcher.Remove(ctx, id); err != nil {
		s.deps.Logger.Warn("index cleanup failed", zap.String("memory", id), zap.Error(err))
	}
	if s.deps.Graph != nil {
		if err := s.deps.Graph.DeleteMemory(ctx, id); err != nil {
			s.deps.Logger.Warn("graph cleanup failed", zap.String("memory", id), zap.Error(err))
		}
	}
	s.deps.Lifecycle.Forget(id)
	s.deps.Emitter.Emit(events.Event{
		Type:    events.TypeMemoryDeleted,
		Subject: id,
	})
	return nil
}

// Insights aggregates a user's recent analysis history.
func (s *Service) Insights(userID string) (history.Insights, error) {
	ins, ok := s.deps.History.Insights(userID)
	if !ok {
		return history.Insights{}, fault.NotFound("no history for user %q", userID)
	}
	return ins, nil
}

// LifecycleStatus returns a memory's lifecycle snapshot.
func (s *Service) LifecycleStatus(memoryID string) (lifecycle.Snapshot, error) {
	snap, ok := s.deps.Lifecycle.Get(memoryID)
	if !ok {
		return lifecycle.Snapshot{}, fault.NotFound("memory %q has no lifecycle record", memoryID)
	}
	return snap, nil
}

// Consolidate performs the merge work for a consolidated memory:
// gather linked neighbors, fold their ids into the memory's metadata,
// and book the consolidation completed.
func (s *Service) Consolidate(ctx context.Context, memoryID, userID string) error {
	mem, err := s.deps.Store.GetMemory(ctx, memoryID)
	if err != nil {
		return err
	}

	var sources []string
	if s.deps.Graph != nil {
		neighbors, err := s.deps.Graph.Neighborhood(ctx, memoryID)
		if err != nil {
			s.deps.Logger.Warn("neighborhood lookup failed", zap.String("memory", memoryID), zap.Error(err))
		}
		for _, n := range neighbors {
			sources = append(sources, n.ID)
		}
	}

	metadata := mem.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata["consolidated_at"] = s.deps.Clock.Now().Format(time.RFC3339)
	if len(sources) > 0 {
		metadata["consolidation_sources"] = sources
	}
	if err := s.deps.Store.UpdateMemory(ctx, memoryID, mem.Content, metadata); err != nil {
		return err
	}
	if err := s.deps.Store.SetState(ctx, memoryID, string(lifecycle.StateConsolidated)); err != nil {
		s.deps.Logger.Warn("state persist failed", zap.String("memory", memoryID), zap.Error(err))
	}
	return s.deps.Lifecycle.CompleteConsolidation(memoryID)
}
