// Package events carries execution and lifecycle notifications from the
// core registries to whatever sinks are wired at boot: the log, the Redis
// stream, and the alert dispatcher.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Severity classifies an event for downstream filtering.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event types emitted by the core components.
const (
	TypeToolStart   = "tool.execution.start"
	TypeToolSuccess = "tool.execution.success"
	TypeToolFailure = "tool.execution.failure"

	TypeAgentCreated       = "agent.created"
	TypeAgentActivated     = "agent.activated"
	TypeAgentDeactivated   = "agent.deactivated"
	TypeAgentDestroyed     = "agent.destroyed"
	TypeAgentTaskCompleted = "agent.task_completed"

	TypeLifecycleTransition    = "lifecycle.transition"
	TypeConsolidationRequested = "lifecycle.consolidation_requested"
	TypeConsolidationCompleted = "lifecycle.consolidation_completed"

	TypeDedupDecision = "dedup.decision"
	TypeMemoryStored  = "memory.stored"
	TypeMemoryDeleted = "memory.deleted"
)

// Event is a single notification.
type Event struct {
	Type      string         `json:"type"`
	Subject   string         `json:"subject"` // tool name, agent id, or memory id
	Severity  Severity       `json:"severity"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink consumes events. Implementations must not block the caller for
// long; slow transports buffer internally.
type Sink interface {
	Emit(ev Event)
}

// Emitter fans events out to all attached sinks.
type Emitter struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewEmitter creates an emitter over the given sinks.
func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks}
}

// Attach adds a sink. Safe to call while emitting.
func (e *Emitter) Attach(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Emit stamps the event and delivers it to every sink.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityInfo
	}

	e.mu.RLock()
	sinks := make([]Sink, len(e.sinks))
	copy(sinks, e.sinks)
	e.mu.RUnlock()

	for _, s := range sinks {
		s.Emit(ev)
	}
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink over logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ev Event) {
	fields := []zap.Field{
		zap.String("subject", ev.Subject),
		zap.Any("fields", ev.Fields),
	}
	switch ev.Severity {
	case SeverityError:
		s.logger.Error(ev.Type, fields...)
	case SeverityWarning:
		s.logger.Warn(ev.Type, fields...)
	default:
		s.logger.Debug(ev.Type, fields...)
	}
}
