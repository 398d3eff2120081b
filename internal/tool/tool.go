// Package tool implements the tool registry and its execution engine:
// schema validation, sliding-window rate limiting, timeout racing, and
// retry with linear backoff.
package tool

import (
	"context"
	"time"
)

// Handler executes a tool call with schema-validated arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// RateLimit bounds calls admitted inside a sliding window. Zero Calls
// disables the limiter.
type RateLimit struct {
	Calls  int           `json:"calls"`
	Window time.Duration `json:"window_ms"`
}

// RetryPolicy governs re-execution after retryable failures. Attempt n
// waits Backoff*n before running, so delays grow linearly.
type RetryPolicy struct {
	MaxRetries int           `json:"max_retries"`
	Backoff    time.Duration `json:"backoff_ms"`
}

// Spec declares a tool at registration.
type Spec struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Schema      Schema        `json:"inputSchema"`
	Permissions []string      `json:"permissions,omitempty"`
	RateLimit   RateLimit     `json:"rate_limit"`
	Timeout     time.Duration `json:"timeout_ms"`
	Retry       RetryPolicy   `json:"retry"`
}

// Usage aggregates execution statistics for one tool. Counters move once
// per Execute call that reaches the handler, never per attempt.
type Usage struct {
	TotalCalls        int64     `json:"total_calls"`
	SuccessfulCalls   int64     `json:"successful_calls"`
	FailedCalls       int64     `json:"failed_calls"`
	AverageExecMillis float64   `json:"average_execution_ms"`
	LastUsed          time.Time `json:"last_used"`
}

func (u *Usage) record(d time.Duration, ok bool, now time.Time) {
	u.TotalCalls++
	if ok {
		u.SuccessfulCalls++
	} else {
		u.FailedCalls++
	}
	ms := float64(d) / float64(time.Millisecond)
	u.AverageExecMillis += (ms - u.AverageExecMillis) / float64(u.TotalCalls)
	u.LastUsed = now
}

// Info is the listing shape served to clients.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"inputSchema"`
}

// Stat pairs a tool with its usage snapshot.
type Stat struct {
	Name  string `json:"name"`
	Usage Usage  `json:"usage"`
}
