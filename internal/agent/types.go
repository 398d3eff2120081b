package agent

import (
	"sync"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/fault"
)

type typeEntry struct {
	profile Type
	runner  Runner
}

// TypeRegistry holds agent type profiles in registration order.
// Task-to-type matching is deterministic first-fit over that order.
type TypeRegistry struct {
	mu      sync.RWMutex
	entries map[string]*typeEntry
	order   []string
	logger  *zap.Logger
}

// NewTypeRegistry creates an empty type registry.
func NewTypeRegistry(logger *zap.Logger) *TypeRegistry {
	return &TypeRegistry{
		entries: make(map[string]*typeEntry),
		logger:  logger,
	}
}

// Register stores a type profile with its runner. Re-registering a name
// replaces the profile in place without changing its order position.
func (r *TypeRegistry) Register(t Type, runner Runner) error {
	if t.Name == "" {
		return fault.Validation("agent type name is required")
	}
	if runner == nil {
		return fault.Validation("agent type %q has no runner", t.Name)
	}
	if t.MaxConcurrent <= 0 {
		t.MaxConcurrent = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[t.Name]; ok {
		existing.profile = t
		existing.runner = runner
		r.logger.Info("agent type re-registered", zap.String("type", t.Name))
		return nil
	}
	r.entries[t.Name] = &typeEntry{profile: t, runner: runner}
	r.order = append(r.order, t.Name)
	r.logger.Info("agent type registered",
		zap.String("type", t.Name),
		zap.Int("capabilities", len(t.Capabilities)))
	return nil
}

// Get returns a type's profile and runner.
func (r *TypeRegistry) Get(name string) (Type, Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Type{}, nil, false
	}
	return e.profile, e.runner, true
}

// List returns all profiles in registration order.
func (r *TypeRegistry) List() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.order))
	for _, name := range r.order {
		types = append(types, r.entries[name].profile)
	}
	return types
}

// Match returns the first registered type, in registration order, whose
// capabilities contain the task's. First-fit only; no scoring across
// multiple matches.
func (r *TypeRegistry) Match(task Task) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if p := r.entries[name].profile; p.Has(task.Capability) {
			return p, true
		}
	}
	return Type{}, false
}
