package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/virek/engram/internal/events"
	"github.com/virek/engram/internal/fault"
	"github.com/virek/engram/internal/metrics"
)

// Metrics aggregates registry-wide counters, derived from instance
// activation, deactivation, and task-completion events.
type Metrics struct {
	TotalCreated   int64 `json:"total_created"`
	ActiveCount    int   `json:"active_count"`
	TasksProcessed int64 `json:"tasks_processed"`
	TasksFailed    int64 `json:"tasks_failed"`
}

// Registry creates, activates, routes tasks to, and destroys agent
// instances.
type Registry struct {
	types *TypeRegistry

	mu        sync.RWMutex
	instances map[string]*Instance
	order     []string // creation order, drives GetOrCreateAgent reuse

	aggMu sync.Mutex
	agg   Metrics

	emitter *events.Emitter
	metrics *metrics.Manager
	logger  *zap.Logger
}

// NewRegistry creates an instance registry over the given type registry.
func NewRegistry(types *TypeRegistry, emitter *events.Emitter, mets *metrics.Manager, logger *zap.Logger) *Registry {
	return &Registry{
		types:     types,
		instances: make(map[string]*Instance),
		emitter:   emitter,
		metrics:   mets,
		logger:    logger,
	}
}

// Types returns the underlying type registry.
func (r *Registry) Types() *TypeRegistry { return r.types }

// CreateAgent allocates a new inactive instance of the named type.
func (r *Registry) CreateAgent(typeName string) (*Instance, error) {
	profile, _, ok := r.types.Get(typeName)
	if !ok {
		return nil, fault.NotFound("agent type %q is not registered", typeName)
	}

	inst := &Instance{
		ID:        uuid.New().String(),
		TypeName:  profile.Name,
		CreatedAt: time.Now(),
		sem:       make(chan struct{}, profile.MaxConcurrent),
		status:    StatusInactive,
	}

	r.mu.Lock()
	r.instances[inst.ID] = inst
	r.order = append(r.order, inst.ID)
	r.mu.Unlock()

	r.aggMu.Lock()
	r.agg.TotalCreated++
	r.aggMu.Unlock()

	r.emitter.Emit(events.Event{
		Type:    events.TypeAgentCreated,
		Subject: inst.ID,
		Fields:  map[string]any{"type": typeName},
	})
	r.logger.Info("agent created",
		zap.String("id", inst.ID),
		zap.String("type", typeName))
	return inst, nil
}

// GetOrCreateAgent returns the first currently active instance of the
// type in creation order, or creates and activates a new one. At most
// one reusable active instance per type arises from this policy.
func (r *Registry) GetOrCreateAgent(typeName string) (*Instance, error) {
	r.mu.RLock()
	for _, id := range r.order {
		inst := r.instances[id]
		if inst.TypeName == typeName && inst.Status() == StatusActive {
			r.mu.RUnlock()
			return inst, nil
		}
	}
	r.mu.RUnlock()

	inst, err := r.CreateAgent(typeName)
	if err != nil {
		return nil, err
	}
	if err := r.ActivateAgent(inst.ID); err != nil {
		return nil, err
	}
	return inst, nil
}

// ActivateAgent marks an instance active so it can execute tasks.
func (r *Registry) ActivateAgent(id string) error {
	inst, ok := r.get(id)
	if !ok {
		return fault.NotFound("agent %q is not registered", id)
	}
	if inst.Status() == StatusActive {
		return nil
	}
	inst.setStatus(StatusActive)
	r.adjustActive(1)
	r.emitter.Emit(events.Event{
		Type:    events.TypeAgentActivated,
		Subject: id,
		Fields:  map[string]any{"type": inst.TypeName},
	})
	return nil
}

// DeactivateAgent marks an instance inactive. In-flight tasks finish;
// new tasks are rejected.
func (r *Registry) DeactivateAgent(id string) error {
	inst, ok := r.get(id)
	if !ok {
		return fault.NotFound("agent %q is not registered", id)
	}
	if inst.Status() == StatusInactive {
		return nil
	}
	inst.setStatus(StatusInactive)
	r.adjustActive(-1)
	r.emitter.Emit(events.Event{
		Type:    events.TypeAgentDeactivated,
		Subject: id,
		Fields:  map[string]any{"type": inst.TypeName},
	})
	return nil
}

// DestroyAgent removes an instance. An active instance is deactivated
// first.
func (r *Registry) DestroyAgent(id string) error {
	inst, ok := r.get(id)
	if !ok {
		return fault.NotFound("agent %q is not registered", id)
	}
	if inst.Status() == StatusActive {
		if err := r.DeactivateAgent(id); err != nil {
			return err
		}
	}

	r.mu.Lock()
	delete(r.instances, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.emitter.Emit(events.Event{
		Type:    events.TypeAgentDestroyed,
		Subject: id,
		Fields:  map[string]any{"type": inst.TypeName},
	})
	r.logger.Info("agent destroyed", zap.String("id", id))
	return nil
}

// ExecuteTask routes a task to a suitable agent: first-fit type match,
// reusable instance via GetOrCreateAgent, then delegation to the type's
// runner. The instance's result or error propagates unchanged.
func (r *Registry) ExecuteTask(ctx context.Context, task Task) (TaskResult, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	profile, ok := r.types.Match(task)
	if !ok {
		r.metrics.RecordTaskRouted("", "unmatched")
		return TaskResult{TaskID: task.ID}, fault.NotFound(
			"no agent type declares capability %q", task.Capability)
	}

	inst, err := r.GetOrCreateAgent(profile.Name)
	if err != nil {
		return TaskResult{TaskID: task.ID}, err
	}

	output, duration, err := r.runOn(ctx, inst, task)
	result := TaskResult{
		TaskID:   task.ID,
		AgentID:  inst.ID,
		Output:   output,
		Duration: duration,
	}
	if err != nil {
		r.metrics.RecordTaskRouted(profile.Name, "failure")
		return result, err
	}
	r.metrics.RecordTaskRouted(profile.Name, "success")
	return result, nil
}

// runOn executes the task on a specific instance, bounded by the type's
// concurrency semaphore. The instance must be active.
func (r *Registry) runOn(ctx context.Context, inst *Instance, task Task) (any, time.Duration, error) {
	if inst.Status() != StatusActive {
		return nil, 0, fault.Validation("agent %q is not active", inst.ID)
	}
	_, runner, ok := r.types.Get(inst.TypeName)
	if !ok {
		return nil, 0, fault.NotFound("agent type %q is not registered", inst.TypeName)
	}

	select {
	case inst.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
	defer func() { <-inst.sem }()

	start := time.Now()
	output, err := runner(ctx, task)
	elapsed := time.Since(start)

	now := time.Now()
	inst.recordTask(err != nil, now)
	r.aggMu.Lock()
	if err != nil {
		r.agg.TasksFailed++
	} else {
		r.agg.TasksProcessed++
	}
	r.aggMu.Unlock()

	fields := map[string]any{
		"task":        task.ID,
		"capability":  string(task.Capability),
		"duration_ms": elapsed.Milliseconds(),
	}
	severity := events.SeverityInfo
	if err != nil {
		fields["error"] = err.Error()
		severity = events.SeverityWarning
	}
	r.emitter.Emit(events.Event{
		Type:     events.TypeAgentTaskCompleted,
		Subject:  inst.ID,
		Severity: severity,
		Fields:   fields,
	})
	return output, elapsed, err
}

// Get returns an instance's info.
func (r *Registry) Get(id string) (Info, bool) {
	inst, ok := r.get(id)
	if !ok {
		return Info{}, false
	}
	return inst.info(), true
}

// List returns all instances in creation order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		infos = append(infos, r.instances[id].info())
	}
	return infos
}

// Metrics returns the aggregated registry counters.
func (r *Registry) Metrics() Metrics {
	r.aggMu.Lock()
	defer r.aggMu.Unlock()
	return r.agg
}

func (r *Registry) get(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

func (r *Registry) adjustActive(delta int) {
	r.aggMu.Lock()
	r.agg.ActiveCount += delta
	active := r.agg.ActiveCount
	r.aggMu.Unlock()
	r.metrics.SetActiveAgents(active)
}
