package memory

import (
	"context"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/agent"
	"github.com/virek/engram/internal/fault"
	"github.com/virek/engram/internal/lifecycle"
)

// TaskConsolidator adapts the agent registry into the lifecycle
// machine's Consolidator: consolidation requests become routed tasks.
type TaskConsolidator struct {
	agents *agent.Registry
}

// NewTaskConsolidator creates the adapter.
func NewTaskConsolidator(agents *agent.Registry) *TaskConsolidator {
	return &TaskConsolidator{agents: agents}
}

// Consolidate routes the memory to whichever agent type declares the
// consolidate capability.
func (t *TaskConsolidator) Consolidate(ctx context.Context, memoryID, userID string) error {
	_, err := t.agents.ExecuteTask(ctx, agent.Task{
		Capability: agent.CapabilityConsolidate,
		MemoryID:   memoryID,
		UserID:     userID,
	})
	return err
}

// RegisterBuiltinAgentTypes registers the worker types the service
// ships with: the curator handles consolidation and archival, the
// indexer rebuilds search entries.
func RegisterBuiltinAgentTypes(types *agent.TypeRegistry, svc *Service, logger *zap.Logger) error {
	curator := agent.Type{
		Name:          "curator",
		Capabilities:  []agent.Capability{agent.CapabilityConsolidate, agent.CapabilityArchive},
		MaxConcurrent: 2,
	}
	if err := types.Register(curator, svc.curatorRunner(logger)); err != nil {
		return err
	}

	indexer := agent.Type{
		Name:          "indexer",
		Capabilities:  []agent.Capability{agent.CapabilityReindex},
		MaxConcurrent: 4,
	}
	return types.Register(indexer, svc.indexerRunner())
}

func (s *Service) curatorRunner(logger *zap.Logger) agent.Runner {
	return func(ctx context.Context, task agent.Task) (any, error) {
		switch task.Capability {
		case agent.CapabilityConsolidate:
			if err := s.Consolidate(ctx, task.MemoryID, task.UserID); err != nil {
				return nil, err
			}
			return map[string]any{"memory_id": task.MemoryID, "status": "consolidated"}, nil
		case agent.CapabilityArchive:
			if err := s.deps.Store.SetState(ctx, task.MemoryID, string(lifecycle.StateArchived)); err != nil {
				return nil, err
			}
			logger.Info("memory archived by curator", zap.String("memory", task.MemoryID))
			return map[string]any{"memory_id": task.MemoryID, "status": "archived"}, nil
		default:
			return nil, fault.Validation("curator cannot handle capability %q", task.Capability)
		}
	}
}

func (s *Service) indexerRunner() agent.Runner {
	return func(ctx context.Context, task agent.Task) (any, error) {
		mem, err := s.deps.Store.GetMemory(ctx, task.MemoryID)
		if err != nil {
			return nil, err
		}
		if err := s.deps.Searcher.Index(ctx, mem.ID, mem.UserID, mem.Content); err != nil {
			return nil, err
		}
		return map[string]any{"memory_id": mem.ID, "status": "reindexed"}, nil
	}
}
