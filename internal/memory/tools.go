package memory

import (
	"context"
	"time"

	"github.com/virek/engram/internal/agent"
	"github.com/virek/engram/internal/store"
	"github.com/virek/engram/internal/tool"
)

// RegisterBuiltinTools registers the memory tools every surface calls
// through the tool registry, so they share its rate limiting, timeout,
// and usage accounting.
func RegisterBuiltinTools(reg *tool.Registry, svc *Service, agents *agent.Registry) error {
	specs := []struct {
		spec    tool.Spec
		handler tool.Handler
	}{
		{
			spec: tool.Spec{
				Name:        "memory_store",
				Description: "Store content in the user's memory, deduplicating against existing records",
				Schema: tool.ObjectSchema(map[string]tool.Property{
					"user_id":  tool.StringProperty("Owner of the memory"),
					"content":  tool.StringProperty("Content to remember"),
					"metadata": {Type: "object", Description: "Optional metadata attached to the memory"},
				}, "user_id", "content"),
				RateLimit: tool.RateLimit{Calls: 120, Window: time.Minute},
				Timeout:   30 * time.Second,
			},
			handler: func(ctx context.Context, args map[string]any) (any, error) {
				metadata, _ := args["metadata"].(map[string]any)
				return svc.StoreMemory(ctx, args["user_id"].(string), args["content"].(string), metadata)
			},
		},
		{
			spec: tool.Spec{
				Name:        "memory_search",
				Description: "Search the user's memories by semantic similarity",
				Schema: tool.ObjectSchema(map[string]tool.Property{
					"user_id": tool.StringProperty("Owner of the memories"),
					"query":   tool.StringProperty("What to look for"),
					"limit":   tool.IntegerProperty("Maximum results, default 10"),
				}, "user_id", "query"),
				RateLimit: tool.RateLimit{Calls: 300, Window: time.Minute},
				Timeout:   15 * time.Second,
			},
			handler: func(ctx context.Context, args map[string]any) (any, error) {
				return svc.SearchMemories(ctx, args["user_id"].(string), args["query"].(string), intArg(args, "limit"))
			},
		},
		{
			spec: tool.Spec{
				Name:        "memory_insights",
				Description: "Summarize a user's recent memory activity",
				Schema: tool.ObjectSchema(map[string]tool.Property{
					"user_id": tool.StringProperty("User to summarize"),
				}, "user_id"),
				RateLimit: tool.RateLimit{Calls: 60, Window: time.Minute},
				Timeout:   5 * time.Second,
			},
			handler: func(ctx context.Context, args map[string]any) (any, error) {
				return svc.Insights(args["user_id"].(string))
			},
		},
		{
			spec: tool.Spec{
				Name:        "memory_delete",
				Description: "Delete a memory from the store, the index, and the graph",
				Schema: tool.ObjectSchema(map[string]tool.Property{
					"memory_id": tool.StringProperty("Memory to delete"),
				}, "memory_id"),
				RateLimit: tool.RateLimit{Calls: 60, Window: time.Minute},
				Timeout:   10 * time.Second,
			},
			handler: func(ctx context.Context, args map[string]any) (any, error) {
				id := args["memory_id"].(string)
				if err := svc.DeleteMemory(ctx, id); err != nil {
					return nil, err
				}
				return map[string]any{"memory_id": id, "deleted": true}, nil
			},
		},
		{
			spec: tool.Spec{
				Name:        "lifecycle_status",
				Description: "Inspect a memory's lifecycle state, importance, and histories",
				Schema: tool.ObjectSchema(map[string]tool.Property{
					"memory_id": tool.StringProperty("Memory to inspect"),
				}, "memory_id"),
				Timeout: 5 * time.Second,
			},
			handler: func(ctx context.Context, args map[string]any) (any, error) {
				return svc.LifecycleStatus(args["memory_id"].(string))
			},
		},
		{
			spec: tool.Spec{
				Name:        "agent_dispatch",
				Description: "Route a task to an agent by capability",
				Schema: tool.ObjectSchema(map[string]tool.Property{
					"capability": tool.StringEnumProperty("Required capability",
						"consolidate", "archive", "reindex", "analyze"),
					"memory_id": tool.StringProperty("Memory the task concerns"),
					"user_id":   tool.StringProperty("User the task concerns"),
				}, "capability"),
				RateLimit: tool.RateLimit{Calls: 60, Window: time.Minute},
				Timeout:   60 * time.Second,
			},
			handler: func(ctx context.Context, args map[string]any) (any, error) {
				task := agent.Task{
					Capability: agent.Capability(args["capability"].(string)),
				}
				if v, ok := args["memory_id"].(string); ok {
					task.MemoryID = v
				}
				if v, ok := args["user_id"].(string); ok {
					task.UserID = v
				}
				return agents.ExecuteTask(ctx, task)
			},
		},
		{
			spec: tool.Spec{
				Name:        "memory_list",
				Description: "List a user's memories, optionally filtered by lifecycle state",
				Schema: tool.ObjectSchema(map[string]tool.Property{
					"user_id": tool.StringProperty("Owner of the memories"),
					"state":   tool.StringProperty("Optional lifecycle state filter"),
					"limit":   tool.IntegerProperty("Maximum results, default 100"),
				}, "user_id"),
				Timeout: 10 * time.Second,
			},
			handler: func(ctx context.Context, args map[string]any) (any, error) {
				f := store.Filters{UserID: args["user_id"].(string)}
				if v, ok := args["state"].(string); ok {
					f.State = v
				}
				f.Limit = intArg(args, "limit")
				return svc.ListMemories(ctx, f)
			},
		},
	}

	for _, s := range specs {
		if err := reg.Register(s.spec, s.handler); err != nil {
			return err
		}
	}
	return nil
}

// intArg reads an integer argument however it was decoded.
func intArg(args map[string]any, name string) int {
	switch n := args[name].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}
