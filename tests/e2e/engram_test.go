package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/analysis"
	"github.com/virek/engram/internal/clock"
	"github.com/virek/engram/internal/dedup"
	"github.com/virek/engram/internal/embedding"
	"github.com/virek/engram/internal/events"
	"github.com/virek/engram/internal/fault"
	"github.com/virek/engram/internal/graph"
	"github.com/virek/engram/internal/history"
	"github.com/virek/engram/internal/lifecycle"
	"github.com/virek/engram/internal/memory"
	"github.com/virek/engram/internal/metrics"
	"github.com/virek/engram/internal/search"
	"github.com/virek/engram/internal/store"
	"github.com/virek/engram/internal/vectorstore"
)

func TestMain(m *testing.M) {
	if os.Getenv("ENGRAM_E2E") == "" {
		fmt.Println("ENGRAM_E2E not set, skipping container tests")
		os.Exit(0)
	}

	ctx := context.Background()
	testLogger, _ = zap.NewDevelopment()

	pgDSN, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres: %v\n", err)
		os.Exit(1)
	}
	defer pgCleanup()

	testStore, err = store.New(ctx, pgDSN, testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store: %v\n", err)
		os.Exit(1)
	}
	defer testStore.Close()

	if err := testStore.Migrate(ctx, "../../migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	neo4jURI, neo4jCleanup, err := startNeo4j(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "neo4j: %v\n", err)
		os.Exit(1)
	}
	defer neo4jCleanup()

	testGraph, err = graph.New(neo4jURI, "", "", testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "graph: %v\n", err)
		os.Exit(1)
	}
	defer testGraph.Close(ctx)
	if err := testGraph.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "graph ping: %v\n", err)
		os.Exit(1)
	}

	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer redisCleanup()
	testRedisURL = redisURL

	qdrantConf, qdrantCleanup, err := startQdrant(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qdrant: %v\n", err)
		os.Exit(1)
	}
	defer qdrantCleanup()
	testQdrantConf = qdrantConf

	os.Exit(m.Run())
}

func TestVectorSearchAgainstQdrant(t *testing.T) {
	ctx := context.Background()

	qc, err := vectorstore.NewClient(testQdrantConf)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer qc.Close()

	searcher, err := search.NewVector(ctx, embedding.NewHash(128), qc, "e2e_memories", testLogger)
	if err != nil {
		t.Fatalf("NewVector: %v", err)
	}

	docs := map[string]string{
		"q-mem-1": "I love pizza with extra cheese",
		"q-mem-2": "The quarterly report is due Friday",
		"q-mem-3": "Pizza night is every Thursday",
	}
	for id, content := range docs {
		if err := searcher.Index(ctx, id, "alice", content); err != nil {
			t.Fatalf("Index %s: %v", id, err)
		}
	}
	if err := searcher.Index(ctx, "q-mem-4", "bob", "bob also likes pizza"); err != nil {
		t.Fatalf("Index bob: %v", err)
	}

	hits, err := searcher.Search(ctx, "pizza", "alice", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits")
	}
	for _, h := range hits {
		if h.ID == "q-mem-4" {
			t.Errorf("bob's memory leaked into alice's results: %+v", hits)
		}
	}
	if hits[0].ID == "q-mem-2" {
		t.Errorf("report memory ranked first for pizza query: %+v", hits)
	}

	if err := searcher.Remove(ctx, "q-mem-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	hits, err = searcher.Search(ctx, "pizza", "alice", 10)
	if err != nil {
		t.Fatalf("Search after remove: %v", err)
	}
	for _, h := range hits {
		if h.ID == "q-mem-1" {
			t.Errorf("removed memory still returned: %+v", hits)
		}
	}
}

func TestPostgresMemoryLifetime(t *testing.T) {
	ctx := context.Background()

	id, err := testStore.AddMemory(ctx, "e2e-user", "I visited Lisbon last spring", map[string]any{"source": "e2e"})
	if err != nil {
		t.Fatalf("AddMemory: %v", err)
	}

	mem, err := testStore.GetMemory(ctx, id)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if mem.Content != "I visited Lisbon last spring" || mem.State != "active" {
		t.Errorf("memory = %+v, want stored content in active state", mem)
	}

	if err := testStore.UpdateMemory(ctx, id, "I visited Lisbon in April", mem.Metadata); err != nil {
		t.Fatalf("UpdateMemory: %v", err)
	}
	if err := testStore.SetState(ctx, id, "archived"); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	archived, err := testStore.ListMemories(ctx, store.Filters{UserID: "e2e-user", State: "archived"})
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	found := false
	for _, m := range archived {
		if m.ID == id {
			found = true
			if m.Content != "I visited Lisbon in April" {
				t.Errorf("content = %q, want the updated text", m.Content)
			}
		}
	}
	if !found {
		t.Fatalf("archived list missing %s", id)
	}

	if err := testStore.DeleteMemory(ctx, id); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if _, err := testStore.GetMemory(ctx, id); !fault.IsKind(err, fault.KindNotFound) {
		t.Errorf("get after delete = %v, want not_found", err)
	}
}

func TestGraphRelations(t *testing.T) {
	ctx := context.Background()

	entities := []analysis.Entity{{Name: "Lisbon", Type: "place"}}
	if err := testGraph.AddMemory(ctx, "g-mem-1", "e2e-user", "I visited Lisbon", entities); err != nil {
		t.Fatalf("AddMemory g-mem-1: %v", err)
	}
	if err := testGraph.AddMemory(ctx, "g-mem-2", "e2e-user", "Lisbon has great food", entities); err != nil {
		t.Fatalf("AddMemory g-mem-2: %v", err)
	}
	if err := testGraph.Relate(ctx, "g-mem-1", "g-mem-2", "MERGED_INTO"); err != nil {
		t.Fatalf("Relate: %v", err)
	}
	if err := testGraph.Relate(ctx, "g-mem-1", "g-mem-2", "DROP TABLE"); !fault.IsKind(err, fault.KindValidation) {
		t.Errorf("bad relation = %v, want validation fault", err)
	}

	neighbors, err := testGraph.Neighborhood(ctx, "g-mem-2")
	if err != nil {
		t.Fatalf("Neighborhood: %v", err)
	}
	found := false
	for _, n := range neighbors {
		if n.ID == "g-mem-1" && n.Relation == "MERGED_INTO" {
			found = true
		}
	}
	if !found {
		t.Errorf("neighbors = %+v, want g-mem-1 via MERGED_INTO", neighbors)
	}

	if err := testGraph.DeleteMemory(ctx, "g-mem-1"); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	neighbors, err = testGraph.Neighborhood(ctx, "g-mem-2")
	if err != nil {
		t.Fatalf("Neighborhood after delete: %v", err)
	}
	for _, n := range neighbors {
		if n.ID == "g-mem-1" {
			t.Errorf("g-mem-1 still present after delete")
		}
	}
}

func TestEventStreamRoundTrip(t *testing.T) {
	bus, err := events.NewStreamBus(testRedisURL, "engram:test-events", testLogger)
	if err != nil {
		t.Fatalf("NewStreamBus: %v", err)
	}
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tail := bus.Subscribe(ctx)

	// Give the XREAD loop a moment to register before writing.
	time.Sleep(200 * time.Millisecond)

	bus.Emit(events.Event{
		Type:     events.TypeMemoryStored,
		Subject:  "stream-mem-1",
		Severity: events.SeverityInfo,
		Fields:   map[string]any{"user_id": "e2e-user"},
	})

	select {
	case ev := <-tail:
		if ev.Type != events.TypeMemoryStored || ev.Subject != "stream-mem-1" {
			t.Errorf("event = %+v, want the stored-memory event", ev)
		}
	case <-ctx.Done():
		t.Fatal("no event arrived on the stream")
	}
}

// TestServiceAgainstContainers drives the full store→dedup→search flow
// with the real Postgres metadata store and Neo4j graph behind it.
func TestServiceAgainstContainers(t *testing.T) {
	ctx := context.Background()
	clk := clock.System{}
	mets := metrics.NoOp()
	emitter := events.NewEmitter()

	machine := lifecycle.NewMachine(lifecycle.DefaultPolicy(), clk, emitter, mets, testLogger)
	tracker, err := history.NewTracker(50, 100, clk, testLogger)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	svc := memory.NewService(memory.Deps{
		Store:     testStore,
		Graph:     testGraph,
		Searcher:  search.NewEmbedded(embedding.NewHash(128), testLogger),
		Dedup:     dedup.NewEngine(nil, dedup.DefaultPolicy(), mets, testLogger),
		Lifecycle: machine,
		History:   tracker,
		Emitter:   emitter,
		Metrics:   mets,
		Clock:     clk,
		Logger:    testLogger,
	})

	res, err := svc.StoreMemory(ctx, "svc-user", "My favorite dish is ramen", nil)
	if err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}
	if res.Action != "store_new" {
		t.Errorf("action = %q, want store_new", res.Action)
	}

	dup, err := svc.StoreMemory(ctx, "svc-user", "My favorite dish is ramen", nil)
	if err != nil {
		t.Fatalf("StoreMemory duplicate: %v", err)
	}
	if dup.Action != "merge" {
		t.Errorf("duplicate action = %q, want merge", dup.Action)
	}

	found, err := svc.SearchMemories(ctx, "svc-user", "ramen", 5)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(found.Hits) == 0 {
		t.Fatal("no hits for stored memory")
	}

	if err := svc.DeleteMemory(ctx, res.MemoryID); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if err := svc.DeleteMemory(ctx, dup.MemoryID); err != nil {
		t.Fatalf("DeleteMemory merged: %v", err)
	}
}
