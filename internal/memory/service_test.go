package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/agent"
	"github.com/virek/engram/internal/clock"
	"github.com/virek/engram/internal/dedup"
	"github.com/virek/engram/internal/embedding"
	"github.com/virek/engram/internal/events"
	"github.com/virek/engram/internal/fault"
	"github.com/virek/engram/internal/history"
	"github.com/virek/engram/internal/lifecycle"
	"github.com/virek/engram/internal/metrics"
	"github.com/virek/engram/internal/search"
	"github.com/virek/engram/internal/store"
	"github.com/virek/engram/internal/tool"
)

// fakeStore is an in-memory MetadataStore.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]*store.Memory
	seq  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*store.Memory)}
}

func (f *fakeStore) AddMemory(_ context.Context, userID, content string, metadata map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("mem-%d", f.seq)
	now := time.Now()
	f.rows[id] = &store.Memory{
		ID: id, UserID: userID, Content: content, Metadata: metadata,
		State: "active", CreatedAt: now, UpdatedAt: now,
	}
	return id, nil
}

func (f *fakeStore) GetMemory(_ context.Context, id string) (*store.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return nil, fault.NotFound("memory %q not found", id)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) ListMemories(_ context.Context, flt store.Filters) ([]*store.Memory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Memory
	for _, m := range f.rows {
		if flt.UserID != "" && m.UserID != flt.UserID {
			continue
		}
		if flt.State != "" && m.State != flt.State {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) UpdateMemory(_ context.Context, id, content string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return fault.NotFound("memory %q not found", id)
	}
	m.Content = content
	m.Metadata = metadata
	m.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) SetState(_ context.Context, id, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return fault.NotFound("memory %q not found", id)
	}
	m.State = state
	return nil
}

func (f *fakeStore) DeleteMemory(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return fault.NotFound("memory %q not found", id)
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type testEnv struct {
	svc     *Service
	store   *fakeStore
	machine *lifecycle.Machine
	clk     *clock.Virtual
}

// newTestEnv builds a service over deterministic collaborators: the
// embedded searcher with hash embeddings, no analysis provider, no
// graph.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewVirtual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	mets := metrics.NoOp()
	emitter := events.NewEmitter()
	machine := lifecycle.NewMachine(lifecycle.DefaultPolicy(), clk, emitter, mets, logger)
	tracker, err := history.NewTracker(50, 100, clk, logger)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	fs := newFakeStore()

	svc := NewService(Deps{
		Store:     fs,
		Searcher:  search.NewEmbedded(embedding.NewHash(128), logger),
		Dedup:     dedup.NewEngine(nil, dedup.DefaultPolicy(), mets, logger),
		Lifecycle: machine,
		History:   tracker,
		Emitter:   emitter,
		Metrics:   mets,
		Clock:     clk,
		Logger:    logger,
	})
	return &testEnv{svc: svc, store: fs, machine: machine, clk: clk}
}

func TestStoreAndSearchRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.StoreMemory(ctx, "u1", "I love pizza", nil)
	if err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}
	if res.Action != dedup.ActionStoreNew {
		t.Errorf("Action = %s, want store_new", res.Action)
	}
	if !res.Degraded.Analysis {
		t.Errorf("expected degraded analysis with no provider wired")
	}
	if _, err := env.svc.StoreMemory(ctx, "u1", "the quarterly report is due on friday", nil); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}

	resp, err := env.svc.SearchMemories(ctx, "u1", "pizza", 5)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(resp.Hits) == 0 {
		t.Fatalf("no hits for pizza")
	}
	if resp.Hits[0].Content != "I love pizza" {
		t.Errorf("top hit = %q, want the pizza memory", resp.Hits[0].Content)
	}
	if resp.Intent == nil || resp.Intent.IntentType != "recall" {
		t.Errorf("Intent = %+v, want heuristic recall", resp.Intent)
	}

	// Returned records count as accessed.
	snap, ok := env.machine.Get(resp.Hits[0].ID)
	if !ok {
		t.Fatalf("top hit has no lifecycle record")
	}
	if len(snap.AccessPatterns) != 1 || snap.AccessPatterns[0].Kind != "search" {
		t.Errorf("AccessPatterns = %+v, want one search access", snap.AccessPatterns)
	}
}

func TestDuplicateContentMerges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.svc.StoreMemory(ctx, "u1", "I love pizza with extra cheese", nil)
	if err != nil {
		t.Fatalf("first StoreMemory: %v", err)
	}
	second, err := env.svc.StoreMemory(ctx, "u1", "I love pizza with extra cheese", nil)
	if err != nil {
		t.Fatalf("second StoreMemory: %v", err)
	}

	if second.Action != dedup.ActionMerge {
		t.Fatalf("Action = %s, want merge for identical content", second.Action)
	}
	if second.MergedID != first.MemoryID {
		t.Errorf("MergedID = %q, want %q", second.MergedID, first.MemoryID)
	}
	if second.MemoryID == first.MemoryID {
		t.Errorf("merge should store a new record, got the old id back")
	}

	// The winning candidate's history records the merge.
	snap, _ := env.machine.Get(first.MemoryID)
	found := false
	for _, ev := range snap.EvolutionHistory {
		if ev.Type == "merged" {
			found = true
		}
	}
	if !found {
		t.Errorf("no merged event on the prior record: %+v", snap.EvolutionHistory)
	}
}

func TestNearDuplicateUpdatesInPlace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Token overlap 4/5 = 0.8: above the update threshold, at or below
	// the merge thresholds.
	first, err := env.svc.StoreMemory(ctx, "u1", "sarah enjoys pizza nights", nil)
	if err != nil {
		t.Fatalf("first StoreMemory: %v", err)
	}
	second, err := env.svc.StoreMemory(ctx, "u1", "sarah enjoys pizza nights downtown", nil)
	if err != nil {
		t.Fatalf("second StoreMemory: %v", err)
	}

	if second.Action != dedup.ActionUpdate {
		t.Fatalf("Action = %s (similarity %v), want update_existing",
			second.Action, second.Dedup.HighestSimilarity)
	}
	if second.MemoryID != first.MemoryID {
		t.Errorf("update targeted %q, want existing %q", second.MemoryID, first.MemoryID)
	}
	if env.store.count() != 1 {
		t.Errorf("store rows = %d, want 1 after in-place update", env.store.count())
	}
	mem, err := env.svc.GetMemory(ctx, first.MemoryID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if mem.Content != "sarah enjoys pizza nights downtown" {
		t.Errorf("content = %q, want the newer text", mem.Content)
	}
}

func TestDeleteMemoryEverywhere(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, _ := env.svc.StoreMemory(ctx, "u1", "forget this soon", nil)
	if err := env.svc.DeleteMemory(ctx, res.MemoryID); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}

	if _, err := env.svc.GetMemory(ctx, res.MemoryID); !fault.IsKind(err, fault.KindNotFound) {
		t.Errorf("GetMemory error = %v, want not_found", err)
	}
	if _, ok := env.machine.Get(res.MemoryID); ok {
		t.Errorf("lifecycle record survived deletion")
	}
	resp, err := env.svc.SearchMemories(ctx, "u1", "forget", 5)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	for _, h := range resp.Hits {
		if h.ID == res.MemoryID {
			t.Errorf("deleted memory still in the index")
		}
	}

	if err := env.svc.DeleteMemory(ctx, "ghost"); !fault.IsKind(err, fault.KindNotFound) {
		t.Errorf("deleting unknown memory = %v, want not_found", err)
	}
}

func TestStoreValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.StoreMemory(ctx, "", "content", nil); !fault.IsKind(err, fault.KindValidation) {
		t.Errorf("missing user error = %v, want validation", err)
	}
	if _, err := env.svc.StoreMemory(ctx, "u1", "", nil); !fault.IsKind(err, fault.KindValidation) {
		t.Errorf("missing content error = %v, want validation", err)
	}
	if _, err := env.svc.SearchMemories(ctx, "u1", "", 5); !fault.IsKind(err, fault.KindValidation) {
		t.Errorf("missing query error = %v, want validation", err)
	}
}

func TestInsights(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.svc.StoreMemory(ctx, "u1", "pizza with friends on friday", nil)
	env.svc.StoreMemory(ctx, "u1", "pizza again for lunch today", nil)

	ins, err := env.svc.Insights("u1")
	if err != nil {
		t.Fatalf("Insights: %v", err)
	}
	if ins.Snapshots != 2 {
		t.Errorf("Snapshots = %d, want 2", ins.Snapshots)
	}

	if _, err := env.svc.Insights("stranger"); !fault.IsKind(err, fault.KindNotFound) {
		t.Errorf("unknown user error = %v, want not_found", err)
	}
}

func TestConsolidationViaAgentRegistry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	logger := zap.NewNop()
	mets := metrics.NoOp()
	emitter := events.NewEmitter()

	types := agent.NewTypeRegistry(logger)
	if err := RegisterBuiltinAgentTypes(types, env.svc, logger); err != nil {
		t.Fatalf("RegisterBuiltinAgentTypes: %v", err)
	}
	agents := agent.NewRegistry(types, emitter, mets, logger)

	res, err := env.svc.StoreMemory(ctx, "u1", "pizza is the best food", nil)
	if err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}

	// Drive the record into the consolidated state.
	for i := 0; i < 3; i++ {
		env.machine.RecordEvolution(res.MemoryID, "updated", "")
	}
	env.machine.SetImportance(res.MemoryID, 9)
	snap, err := env.machine.Check(res.MemoryID)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if snap.State != lifecycle.StateConsolidated || snap.ConsolidationStatus != lifecycle.ConsolidationPending {
		t.Fatalf("state/status = %s/%s, want consolidated/pending", snap.State, snap.ConsolidationStatus)
	}

	// The merge work flows through the routed curator task.
	tc := NewTaskConsolidator(agents)
	if err := tc.Consolidate(ctx, res.MemoryID, "u1"); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	snap, _ = env.machine.Get(res.MemoryID)
	if snap.ConsolidationStatus != lifecycle.ConsolidationCompleted {
		t.Errorf("ConsolidationStatus = %q, want completed", snap.ConsolidationStatus)
	}
	mem, _ := env.svc.GetMemory(ctx, res.MemoryID)
	if mem.Metadata["consolidated_at"] == nil {
		t.Errorf("metadata = %+v, want consolidated_at set", mem.Metadata)
	}
	if mem.State != string(lifecycle.StateConsolidated) {
		t.Errorf("persisted state = %q, want consolidated", mem.State)
	}
}

func TestBuiltinToolsExerciseTheService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	logger := zap.NewNop()
	mets := metrics.NoOp()
	emitter := events.NewEmitter()

	types := agent.NewTypeRegistry(logger)
	if err := RegisterBuiltinAgentTypes(types, env.svc, logger); err != nil {
		t.Fatalf("RegisterBuiltinAgentTypes: %v", err)
	}
	agents := agent.NewRegistry(types, emitter, mets, logger)

	reg := tool.NewRegistry(env.clk, emitter, mets, logger)
	if err := RegisterBuiltinTools(reg, env.svc, agents); err != nil {
		t.Fatalf("RegisterBuiltinTools: %v", err)
	}

	out, err := reg.Execute(ctx, "memory_store", map[string]any{
		"user_id": "u1",
		"content": "I love pizza",
	})
	if err != nil {
		t.Fatalf("memory_store: %v", err)
	}
	stored, ok := out.(*StoreResult)
	if !ok {
		t.Fatalf("memory_store output = %T, want *StoreResult", out)
	}

	out, err = reg.Execute(ctx, "memory_search", map[string]any{
		"user_id": "u1",
		"query":   "pizza",
	})
	if err != nil {
		t.Fatalf("memory_search: %v", err)
	}
	resp, ok := out.(*SearchResponse)
	if !ok {
		t.Fatalf("memory_search output = %T, want *SearchResponse", out)
	}
	if len(resp.Hits) == 0 || resp.Hits[0].Content != "I love pizza" {
		t.Fatalf("hits = %+v, want the pizza memory first", resp.Hits)
	}

	if _, err := reg.Execute(ctx, "memory_search", map[string]any{"user_id": "u1"}); !fault.IsKind(err, fault.KindValidation) {
		t.Errorf("missing query error = %v, want validation from the schema", err)
	}

	out, err = reg.Execute(ctx, "lifecycle_status", map[string]any{"memory_id": stored.MemoryID})
	if err != nil {
		t.Fatalf("lifecycle_status: %v", err)
	}
	if snap, ok := out.(lifecycle.Snapshot); !ok || snap.State != lifecycle.StateActive {
		t.Errorf("lifecycle_status output = %+v, want active snapshot", out)
	}

	if _, err := reg.Execute(ctx, "memory_delete", map[string]any{"memory_id": stored.MemoryID}); err != nil {
		t.Fatalf("memory_delete: %v", err)
	}
	if _, err := env.svc.GetMemory(ctx, stored.MemoryID); !fault.IsKind(err, fault.KindNotFound) {
		t.Errorf("memory survived memory_delete: %v", err)
	}
}
