package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/virek/engram/internal/agent"
	"github.com/virek/engram/internal/alert"
	"github.com/virek/engram/internal/analysis"
	"github.com/virek/engram/internal/api"
	"github.com/virek/engram/internal/clock"
	"github.com/virek/engram/internal/config"
	"github.com/virek/engram/internal/dedup"
	"github.com/virek/engram/internal/embedding"
	"github.com/virek/engram/internal/events"
	"github.com/virek/engram/internal/graph"
	"github.com/virek/engram/internal/history"
	"github.com/virek/engram/internal/lifecycle"
	"github.com/virek/engram/internal/mcp"
	"github.com/virek/engram/internal/memory"
	"github.com/virek/engram/internal/metrics"
	"github.com/virek/engram/internal/search"
	"github.com/virek/engram/internal/store"
	"github.com/virek/engram/internal/tool"
	"github.com/virek/engram/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Engram...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/engram.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	mets := metrics.NewManager()
	emitter := events.NewEmitter(events.NewLogSink(logger))
	clk := clock.System{}

	// Mirror events onto a Redis stream for external observers.
	var bus *events.StreamBus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewStreamBus(cfg.Database.Redis.URL, cfg.Database.Redis.Stream, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(busErr))
		} else {
			bus = b
			emitter.Attach(bus)
		}
	}

	// Alert notifiers fan out failures and lifecycle transitions.
	var notifiers []alert.Notifier
	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.BotToken != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.BotToken, cfg.Alerts.Slack.Channel))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.BotToken != "" {
		d, dErr := alert.NewDiscord(cfg.Alerts.Discord.BotToken, cfg.Alerts.Discord.ChannelID)
		if dErr != nil {
			logger.Warn("Discord notifier unavailable", zap.Error(dErr))
		} else {
			notifiers = append(notifiers, d)
		}
	}
	if len(notifiers) > 0 {
		emitter.Attach(alert.NewDispatcher(logger, notifiers...))
		logger.Info("Alert notifiers attached", zap.Int("count", len(notifiers)))
	}

	// Semantic analysis provider. Without an endpoint the service runs
	// on heuristic fallbacks.
	var provider analysis.Provider
	if cfg.Analysis.Endpoint != "" {
		llm := analysis.NewLLM(analysis.LLMConfig{
			Endpoint: cfg.Analysis.Endpoint,
			Model:    cfg.Analysis.Model,
			APIKey:   cfg.Analysis.APIKey,
		}, logger)
		provider = analysis.NewCached(llm, 5*time.Minute, logger)
		logger.Info("Analysis provider configured", zap.String("model", cfg.Analysis.Model))
	} else {
		logger.Warn("No analysis endpoint configured, using heuristic fallbacks")
	}

	embedder, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		logger.Fatal("embedding config invalid", zap.Error(err))
	}

	// Similarity search: qdrant when configured and reachable, embedded
	// in-process index otherwise.
	var searcher search.Searcher
	var qdrantClient *vectorstore.Client
	if cfg.Database.Qdrant.Host != "" {
		qc, qErr := vectorstore.NewClient(vectorstore.QdrantConfig{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if qErr == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			vs, vErr := search.NewVector(ctx, embedder, qc, "memories", logger)
			cancel()
			if vErr != nil {
				logger.Warn("qdrant unavailable, using embedded search", zap.Error(vErr))
				qc.Close()
			} else {
				searcher = vs
				qdrantClient = qc
			}
		} else {
			logger.Warn("qdrant unavailable, using embedded search", zap.Error(qErr))
		}
	}
	if searcher == nil {
		searcher = search.NewEmbedded(embedder, logger)
	}

	// Metadata store: Postgres when reachable, ephemeral otherwise.
	var metaStore memory.MetadataStore
	var pgStore *store.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := store.New(context.Background(), cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pgStore = ps
			metaStore = ps
		}
	}
	if metaStore == nil {
		logger.Warn("Using in-memory metadata store, records will not survive restart")
		metaStore = store.NewEphemeral()
	}

	// Relation graph requires Neo4j; the service runs without it.
	var relations memory.RelationGraph
	var neoGraph *graph.Graph
	if cfg.Database.Neo4j.URI != "" {
		g, gErr := graph.New(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if gErr != nil {
			logger.Warn("Neo4j unavailable, running without relation graph", zap.Error(gErr))
		} else {
			neoGraph = g
			relations = g
		}
	}

	machine := lifecycle.NewMachine(lifecyclePolicy(cfg.Lifecycle), clk, emitter, mets, logger)
	tracker, err := history.NewTracker(cfg.History.Capacity, cfg.History.MaxUsers, clk, logger)
	if err != nil {
		logger.Fatal("history tracker", zap.Error(err))
	}

	svc := memory.NewService(memory.Deps{
		Store:     metaStore,
		Graph:     relations,
		Searcher:  searcher,
		Provider:  provider,
		Dedup:     dedup.NewEngine(provider, dedupPolicy(cfg.Dedup), mets, logger),
		Lifecycle: machine,
		History:   tracker,
		Emitter:   emitter,
		Metrics:   mets,
		Clock:     clk,
		Logger:    logger,
	})

	types := agent.NewTypeRegistry(logger)
	if err := memory.RegisterBuiltinAgentTypes(types, svc, logger); err != nil {
		logger.Fatal("register agent types", zap.Error(err))
	}
	agents := agent.NewRegistry(types, emitter, mets, logger)
	machine.SetConsolidator(memory.NewTaskConsolidator(agents))

	tools := tool.NewRegistry(clk, emitter, mets, logger)
	if err := memory.RegisterBuiltinTools(tools, svc, agents); err != nil {
		logger.Fatal("register tools", zap.Error(err))
	}

	// Bridge remote MCP tools into the registry.
	var mcpClients []*mcp.Client
	for _, sc := range cfg.MCP.Servers {
		c := mcp.NewClient(sc.Name, sc.URL, logger)
		if err := c.Connect(context.Background()); err != nil {
			logger.Warn("MCP server unavailable", zap.String("name", sc.Name), zap.Error(err))
			continue
		}
		mcpClients = append(mcpClients, c)
		n := tool.RegisterRemote(tools, c, toolDefaults(cfg.Tools), logger)
		logger.Info("Remote tools registered", zap.String("server", sc.Name), zap.Int("count", n))
	}

	// Drive scheduled lifecycle checks.
	ticker := clock.NewTicker(clk, cfg.Lifecycle.TickInterval(), logger)
	ticker.AddListener(machine.Scheduler())
	ticker.Start()

	handler := api.NewHandler(svc, tools, agents, mets, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Engram listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Engram...")
	ticker.Stop()
	ctx := context.Background()
	srv.Shutdown(ctx)
	for _, mc := range mcpClients {
		mc.Close()
	}
	if bus != nil {
		bus.Close()
	}
	if qdrantClient != nil {
		qdrantClient.Close()
	}
	if neoGraph != nil {
		neoGraph.Close(ctx)
	}
	if pgStore != nil {
		pgStore.Close()
	}
}

// dedupPolicy overlays configured thresholds on the defaults.
func dedupPolicy(c config.DedupConfig) dedup.Policy {
	p := dedup.DefaultPolicy()
	if c.MergeCandidate > 0 {
		p.MergeCandidate = c.MergeCandidate
	}
	if c.Merge > 0 {
		p.Merge = c.Merge
	}
	if c.Update > 0 {
		p.Update = c.Update
	}
	if c.MaxCandidates > 0 {
		p.MaxCandidates = c.MaxCandidates
	}
	return p
}

// lifecyclePolicy overlays configured constants on the defaults.
func lifecyclePolicy(c config.LifecycleConfig) lifecycle.Policy {
	p := lifecycle.DefaultPolicy()
	if c.FirstCheckHours > 0 {
		p.FirstCheck = time.Duration(c.FirstCheckHours) * time.Hour
	}
	if c.RecheckDelta > 0 {
		p.RecheckDelta = c.RecheckDelta
	}
	if c.ArchiveImportance > 0 {
		p.ArchiveImportance = c.ArchiveImportance
	}
	if c.ArchiveAgeDays > 0 {
		p.ArchiveAge = time.Duration(c.ArchiveAgeDays) * 24 * time.Hour
	}
	if c.ConsolidateScore > 0 {
		p.ConsolidateImportance = c.ConsolidateScore
	}
	if c.ConsolidateEvents > 0 {
		p.ConsolidateEvolutions = c.ConsolidateEvents
	}
	if c.PromoteAccesses > 0 {
		p.PromoteAccesses = c.PromoteAccesses
	}
	if c.AccessWindowDays > 0 {
		p.AccessWindow = time.Duration(c.AccessWindowDays) * 24 * time.Hour
	}
	return p
}

// toolDefaults converts configured limits for remote tools, falling back
// to conservative values when unset.
func toolDefaults(c config.ToolsConfig) tool.Defaults {
	d := tool.Defaults{
		RateLimit: tool.RateLimit{Calls: 60, Window: time.Minute},
		Timeout:   30 * time.Second,
		Retry:     tool.RetryPolicy{MaxRetries: 2, Backoff: 500 * time.Millisecond},
	}
	if c.DefaultRateCalls > 0 {
		d.RateLimit.Calls = c.DefaultRateCalls
	}
	if c.DefaultRateWindow > 0 {
		d.RateLimit.Window = time.Duration(c.DefaultRateWindow) * time.Millisecond
	}
	if c.DefaultTimeout > 0 {
		d.Timeout = time.Duration(c.DefaultTimeout) * time.Millisecond
	}
	if c.DefaultMaxRetries > 0 {
		d.Retry.MaxRetries = c.DefaultMaxRetries
	}
	if c.DefaultBackoff > 0 {
		d.Retry.Backoff = time.Duration(c.DefaultBackoff) * time.Millisecond
	}
	return d
}
