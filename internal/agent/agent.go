// Package agent holds the capability-typed agent registries: type
// profiles that declare what a worker can do, and instances that are
// created, activated, routed tasks, and destroyed.
package agent

import (
	"context"
	"sync"
	"time"
)

// Capability is an enumerated ability an agent type can declare. Task
// routing matches on these values, never on free-form keywords.
type Capability string

const (
	CapabilityConsolidate Capability = "consolidate"
	CapabilityArchive     Capability = "archive"
	CapabilityReindex     Capability = "reindex"
	CapabilityAnalyze     Capability = "analyze"
)

// Type is a capability, permission, and resource profile that
// categorizes worker instances. Immutable once registered except via
// explicit re-registration under the same name.
type Type struct {
	Name          string       `json:"name"`
	Capabilities  []Capability `json:"capabilities"`
	Permissions   []string     `json:"permissions,omitempty"`
	MaxConcurrent int          `json:"max_concurrent"`
}

// Has reports whether the type declares the capability.
func (t Type) Has(c Capability) bool {
	for _, have := range t.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Task is a unit of work routed to an agent instance.
type Task struct {
	ID         string         `json:"id"`
	Capability Capability     `json:"capability"`
	MemoryID   string         `json:"memory_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// TaskResult is the outcome of one routed task.
type TaskResult struct {
	TaskID   string        `json:"task_id"`
	AgentID  string        `json:"agent_id"`
	Output   any           `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Runner executes tasks on behalf of a type's instances.
type Runner func(ctx context.Context, task Task) (any, error)

// Status is an instance's lifecycle state.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
)

// InstanceMetrics counts work done by one instance.
type InstanceMetrics struct {
	TasksProcessed int64     `json:"tasks_processed"`
	TasksFailed    int64     `json:"tasks_failed"`
	LastActivity   time.Time `json:"last_activity"`
}

// Instance is one worker bound to a type profile. It must be active to
// execute tasks and deactivated before destruction. The semaphore
// bounds concurrent tasks at the type's MaxConcurrent.
type Instance struct {
	ID        string
	TypeName  string
	CreatedAt time.Time

	sem chan struct{}

	mu      sync.Mutex
	status  Status
	metrics InstanceMetrics
}

// Status returns the instance's current status.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// Metrics returns a snapshot of the instance's counters.
func (i *Instance) Metrics() InstanceMetrics {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.metrics
}

func (i *Instance) setStatus(s Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = s
}

func (i *Instance) recordTask(failed bool, now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if failed {
		i.metrics.TasksFailed++
	} else {
		i.metrics.TasksProcessed++
	}
	i.metrics.LastActivity = now
}

// Info is the externally visible view of an instance.
type Info struct {
	ID        string          `json:"id"`
	TypeName  string          `json:"type"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	Metrics   InstanceMetrics `json:"metrics"`
}

func (i *Instance) info() Info {
	i.mu.Lock()
	defer i.mu.Unlock()
	return Info{
		ID:        i.ID,
		TypeName:  i.TypeName,
		Status:    i.status,
		CreatedAt: i.CreatedAt,
		Metrics:   i.metrics,
	}
}
