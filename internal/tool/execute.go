package tool

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/events"
	"github.com/virek/engram/internal/fault"
)

// Execute runs a registered tool: lookup, argument validation, rate
// limiting, then the handler under timeout racing and retry. Validation
// and rate-limit rejections return before any execution happens and do
// not touch the usage counters.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, fault.NotFound("tool %q is not registered", name)
	}

	if err := e.spec.Schema.Validate(args); err != nil {
		return nil, err
	}

	now := r.clk.Now()
	e.mu.Lock()
	admitted := e.window.allow(now)
	e.mu.Unlock()
	if !admitted {
		r.metrics.RecordRateLimited(name)
		return nil, fault.RateLimit("tool %q exceeded %d calls per %s",
			name, e.spec.RateLimit.Calls, e.spec.RateLimit.Window)
	}

	r.emitter.Emit(events.Event{
		Type:    events.TypeToolStart,
		Subject: name,
	})

	start := time.Now()
	result, attempts, err := r.runWithRetry(ctx, e, args)
	elapsed := time.Since(start)

	finished := r.clk.Now()
	e.mu.Lock()
	e.usage.record(elapsed, err == nil, finished)
	e.mu.Unlock()

	if err != nil {
		r.metrics.RecordToolExecution(name, "failure", elapsed)
		r.emitter.Emit(events.Event{
			Type:     events.TypeToolFailure,
			Subject:  name,
			Severity: events.SeverityError,
			Fields: map[string]any{
				"error":    err.Error(),
				"kind":     string(fault.KindOf(err)),
				"attempts": attempts,
			},
		})
		return nil, err
	}

	r.metrics.RecordToolExecution(name, "success", elapsed)
	r.emitter.Emit(events.Event{
		Type:    events.TypeToolSuccess,
		Subject: name,
		Fields: map[string]any{
			"duration_ms": elapsed.Milliseconds(),
			"attempts":    attempts,
		},
	})
	return result, nil
}

// runWithRetry executes attempts until one succeeds or the budget is
// spent. MaxRetries counts additional attempts beyond the first; the
// delay before attempt n+1 is Backoff*n.
func (r *Registry) runWithRetry(ctx context.Context, e *entry, args map[string]any) (any, int, error) {
	attempts := e.spec.Retry.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var result any
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = r.runAttempt(ctx, e, args)
		if err == nil {
			return result, attempt, nil
		}
		if !fault.Retryable(err) || attempt == attempts || ctx.Err() != nil {
			return nil, attempt, err
		}

		r.metrics.RecordToolRetry(e.spec.Name)
		r.logger.Warn("tool attempt failed, retrying",
			zap.String("tool", e.spec.Name),
			zap.Int("attempt", attempt),
			zap.Error(err))

		delay := time.Duration(attempt) * e.spec.Retry.Backoff
		select {
		case <-ctx.Done():
			return nil, attempt, err
		case <-time.After(delay):
		}
	}
	return nil, attempts, err
}

// runAttempt races the handler against the tool's timeout. Every attempt
// owns a fresh buffered outcome channel: a completion that arrives after
// its timeout was reported lands in that abandoned buffer and can never
// surface as the result of a later attempt.
func (r *Registry) runAttempt(ctx context.Context, e *entry, args map[string]any) (any, error) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if e.spec.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, e.spec.Timeout)
	} else {
		attemptCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := e.handler(attemptCtx, args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		// Caller cancellation is not a tool timeout; the retry loop
		// stops on it either way.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("tool %q: %w", e.spec.Name, ctx.Err())
		}
		return nil, fault.Timeout("tool %q exceeded timeout %s", e.spec.Name, e.spec.Timeout)
	}
}
