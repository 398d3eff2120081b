package tool

import (
	"sync"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/clock"
	"github.com/virek/engram/internal/events"
	"github.com/virek/engram/internal/fault"
	"github.com/virek/engram/internal/metrics"
)

// entry is one registered tool. The entry mutex guards the usage
// counters and the rate window; registry membership is guarded by the
// registry's own lock.
type entry struct {
	spec    Spec
	handler Handler

	mu     sync.Mutex
	usage  Usage
	window slidingWindow
}

// Registry holds registered tools and executes calls against them.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	clk     clock.Clock
	emitter *events.Emitter
	metrics *metrics.Manager
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(clk clock.Clock, emitter *events.Emitter, mets *metrics.Manager, logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		clk:     clk,
		emitter: emitter,
		metrics: mets,
		logger:  logger,
	}
}

// Register adds a tool. The name must be unused and the schema well
// formed.
func (r *Registry) Register(spec Spec, handler Handler) error {
	if spec.Name == "" {
		return fault.Validation("tool name is required")
	}
	if handler == nil {
		return fault.Validation("tool %q has no handler", spec.Name)
	}
	if err := spec.Schema.wellFormed(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[spec.Name]; exists {
		return fault.Validation("tool %q is already registered", spec.Name)
	}

	r.entries[spec.Name] = &entry{
		spec:    spec,
		handler: handler,
		window: slidingWindow{
			limit:  spec.RateLimit.Calls,
			window: spec.RateLimit.Window,
		},
	}
	r.order = append(r.order, spec.Name)

	r.logger.Info("tool registered",
		zap.String("tool", spec.Name),
		zap.Int("rate_calls", spec.RateLimit.Calls),
		zap.Duration("timeout", spec.Timeout))
	return nil
}

// Unregister removes a tool and its usage history.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; !ok {
		return fault.NotFound("tool %q is not registered", name)
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Info("tool unregistered", zap.String("tool", name))
	return nil
}

// List returns tool listings in registration order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		infos = append(infos, Info{
			Name:        e.spec.Name,
			Description: e.spec.Description,
			InputSchema: e.spec.Schema,
		})
	}
	return infos
}

// Spec returns a tool's declaration.
func (r *Registry) Spec(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Spec{}, false
	}
	return e.spec, true
}

// Usage returns a tool's usage snapshot.
func (r *Registry) Usage(name string) (Usage, bool) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Usage{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usage, true
}

// Stats returns usage snapshots for all tools in registration order.
func (r *Registry) Stats() []Stat {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	entries := make([]*entry, 0, len(names))
	for _, n := range names {
		entries = append(entries, r.entries[n])
	}
	r.mu.RUnlock()

	stats := make([]Stat, 0, len(entries))
	for i, e := range entries {
		e.mu.Lock()
		stats = append(stats, Stat{Name: names[i], Usage: e.usage})
		e.mu.Unlock()
	}
	return stats
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}
