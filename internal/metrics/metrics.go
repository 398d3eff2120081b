// Package metrics provides Prometheus instrumentation for the engram
// registries and flows.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns all collectors. A disabled manager records nothing, so
// call sites never branch.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	toolExecutions *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	toolRetries    *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec

	tasksRouted  *prometheus.CounterVec
	agentsActive prometheus.Gauge

	lifecycleTransitions *prometheus.CounterVec
	dedupDecisions       *prometheus.CounterVec
}

// NewManager creates a manager with all collectors registered.
func NewManager() *Manager {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.toolExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_tool_executions_total",
			Help: "Total tool executions by tool and final status",
		},
		[]string{"tool", "status"},
	)
	m.toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engram_tool_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"tool"},
	)
	m.toolRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_tool_retries_total",
			Help: "Total retry attempts by tool",
		},
		[]string{"tool"},
	)
	m.rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_tool_rate_limited_total",
			Help: "Total calls rejected by the sliding-window rate limiter",
		},
		[]string{"tool"},
	)
	m.tasksRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_agent_tasks_total",
			Help: "Total tasks routed to agents by type and status",
		},
		[]string{"agent_type", "status"},
	)
	m.agentsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engram_agents_active",
			Help: "Currently active agent instances",
		},
	)
	m.lifecycleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_lifecycle_transitions_total",
			Help: "Total lifecycle state transitions by source and target state",
		},
		[]string{"from", "to"},
	)
	m.dedupDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engram_dedup_decisions_total",
			Help: "Total deduplication decisions by recommended action",
		},
		[]string{"action"},
	)

	m.registry.MustRegister(
		m.toolExecutions,
		m.toolDuration,
		m.toolRetries,
		m.rateLimited,
		m.tasksRouted,
		m.agentsActive,
		m.lifecycleTransitions,
		m.dedupDecisions,
	)
	return m
}

// NoOp returns a disabled manager for tests and metrics-off deployments.
func NoOp() *Manager {
	return &Manager{enabled: false}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Manager) RecordToolExecution(tool, status string, d time.Duration) {
	if !m.enabled {
		return
	}
	m.toolExecutions.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Manager) RecordToolRetry(tool string) {
	if !m.enabled {
		return
	}
	m.toolRetries.WithLabelValues(tool).Inc()
}

func (m *Manager) RecordRateLimited(tool string) {
	if !m.enabled {
		return
	}
	m.rateLimited.WithLabelValues(tool).Inc()
}

func (m *Manager) RecordTaskRouted(agentType, status string) {
	if !m.enabled {
		return
	}
	m.tasksRouted.WithLabelValues(agentType, status).Inc()
}

func (m *Manager) SetActiveAgents(n int) {
	if !m.enabled {
		return
	}
	m.agentsActive.Set(float64(n))
}

func (m *Manager) RecordLifecycleTransition(from, to string) {
	if !m.enabled {
		return
	}
	m.lifecycleTransitions.WithLabelValues(from, to).Inc()
}

func (m *Manager) RecordDedupDecision(action string) {
	if !m.enabled {
		return
	}
	m.dedupDecisions.WithLabelValues(action).Inc()
}
