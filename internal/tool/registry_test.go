package tool

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/virek/engram/internal/clock"
	"github.com/virek/engram/internal/events"
	"github.com/virek/engram/internal/fault"
	"github.com/virek/engram/internal/metrics"
)

func newTestRegistry(clk clock.Clock) *Registry {
	return NewRegistry(clk, events.NewEmitter(), metrics.NoOp(), zap.NewNop())
}

func echoSpec(name string) Spec {
	return Spec{
		Name:        name,
		Description: "echoes its input",
		Schema: ObjectSchema(map[string]Property{
			"text": StringProperty("text to echo"),
		}, "text"),
		RateLimit: RateLimit{Calls: 100, Window: time.Minute},
		Timeout:   time.Second,
	}
}

func echoHandler(ctx context.Context, args map[string]any) (any, error) {
	return args["text"], nil
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := newTestRegistry(clock.System{})
	if err := r.Register(echoSpec("echo"), echoHandler); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := r.Register(echoSpec("echo"), echoHandler)
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("duplicate Register error = %v, want validation kind", err)
	}
}

func TestRegisterRejectsMalformedSchema(t *testing.T) {
	r := newTestRegistry(clock.System{})
	spec := echoSpec("broken")
	spec.Schema.Required = append(spec.Schema.Required, "ghost")
	err := r.Register(spec, echoHandler)
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("Register error = %v, want validation kind", err)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := newTestRegistry(clock.System{})
	_, err := r.Execute(context.Background(), "missing", nil)
	if !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("Execute error = %v, want not_found kind", err)
	}
}

func TestExecuteValidatesArguments(t *testing.T) {
	r := newTestRegistry(clock.System{})
	var calls atomic.Int32
	spec := echoSpec("echo")
	if err := r.Register(spec, func(ctx context.Context, args map[string]any) (any, error) {
		calls.Add(1)
		return args["text"], nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := r.Execute(context.Background(), "echo", map[string]any{})
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("missing required arg: error = %v, want validation kind", err)
	}
	_, err = r.Execute(context.Background(), "echo", map[string]any{"text": 42})
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("wrong arg type: error = %v, want validation kind", err)
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("handler ran %d times on invalid args, want 0", got)
	}

	// Validation rejections never touch the usage counters.
	u, ok := r.Usage("echo")
	if !ok {
		t.Fatalf("Usage: tool missing")
	}
	if u.TotalCalls != 0 {
		t.Errorf("TotalCalls = %d after validation failures, want 0", u.TotalCalls)
	}
}

func TestSlidingWindowRateLimit(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewVirtual(start)
	r := newTestRegistry(clk)

	spec := echoSpec("limited")
	spec.RateLimit = RateLimit{Calls: 3, Window: time.Minute}
	if err := r.Register(spec, echoHandler); err != nil {
		t.Fatalf("Register: %v", err)
	}

	args := map[string]any{"text": "hi"}
	call := func() error {
		_, err := r.Execute(context.Background(), "limited", args)
		return err
	}

	// Fill the window at t0, t0+10s, t0+20s.
	if err := call(); err != nil {
		t.Fatalf("call 1: %v", err)
	}
	clk.Advance(10 * time.Second)
	if err := call(); err != nil {
		t.Fatalf("call 2: %v", err)
	}
	clk.Advance(10 * time.Second)
	if err := call(); err != nil {
		t.Fatalf("call 3: %v", err)
	}

	// The (n+1)th call inside the window is rejected.
	clk.Advance(5 * time.Second)
	if err := call(); !fault.IsKind(err, fault.KindRateLimit) {
		t.Fatalf("call 4 error = %v, want rate_limit kind", err)
	}

	// Once the oldest recorded call leaves the window, a new call is
	// admitted. The rejected call left no trace, so only two slots are
	// occupied at this point.
	clk.Set(start.Add(61 * time.Second))
	if err := call(); err != nil {
		t.Fatalf("call after window slide: %v", err)
	}
}

func TestRejectedCallNotRecorded(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewVirtual(start)
	r := newTestRegistry(clk)

	spec := echoSpec("strict")
	spec.RateLimit = RateLimit{Calls: 1, Window: time.Minute}
	if err := r.Register(spec, echoHandler); err != nil {
		t.Fatalf("Register: %v", err)
	}

	args := map[string]any{"text": "x"}
	if _, err := r.Execute(context.Background(), "strict", args); err != nil {
		t.Fatalf("call 1: %v", err)
	}
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		if _, err := r.Execute(context.Background(), "strict", args); !fault.IsKind(err, fault.KindRateLimit) {
			t.Fatalf("rejected call %d error = %v, want rate_limit kind", i+2, err)
		}
	}

	// Five rejections later only the first admitted call occupies the
	// window; sliding past it frees the single slot.
	clk.Set(start.Add(61 * time.Second))
	if _, err := r.Execute(context.Background(), "strict", args); err != nil {
		t.Fatalf("call after slide: %v", err)
	}
}

func TestTimeoutRacesSlowHandler(t *testing.T) {
	r := newTestRegistry(clock.System{})
	spec := echoSpec("slow")
	spec.Timeout = 20 * time.Millisecond
	spec.Retry = RetryPolicy{MaxRetries: 0}

	release := make(chan struct{})
	if err := r.Register(spec, func(ctx context.Context, args map[string]any) (any, error) {
		<-release
		return "late", nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := r.Execute(context.Background(), "slow", map[string]any{"text": "x"})
	close(release)
	if !fault.IsKind(err, fault.KindTimeout) {
		t.Fatalf("Execute error = %v, want timeout kind", err)
	}

	u, _ := r.Usage("slow")
	if u.TotalCalls != 1 || u.FailedCalls != 1 || u.SuccessfulCalls != 0 {
		t.Errorf("usage = %+v, want one failed call", u)
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	r := newTestRegistry(clock.System{})
	spec := echoSpec("flaky")
	spec.Retry = RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}

	var calls atomic.Int32
	if err := r.Register(spec, func(ctx context.Context, args map[string]any) (any, error) {
		if calls.Add(1) <= 2 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := r.Execute(context.Background(), "flaky", map[string]any{"text": "x"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res != "ok" {
		t.Fatalf("result = %v, want %q", res, "ok")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("handler ran %d times, want 3", got)
	}

	// Three attempts still count as one net successful call.
	u, _ := r.Usage("flaky")
	if u.TotalCalls != 1 || u.SuccessfulCalls != 1 || u.FailedCalls != 0 {
		t.Errorf("usage = %+v, want exactly one successful call", u)
	}
}

func TestRetryExhaustionPropagatesLastError(t *testing.T) {
	r := newTestRegistry(clock.System{})
	spec := echoSpec("doomed")
	spec.Retry = RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}

	var calls atomic.Int32
	if err := r.Register(spec, func(ctx context.Context, args map[string]any) (any, error) {
		n := calls.Add(1)
		if n == 3 {
			return nil, errors.New("final failure")
		}
		return nil, errors.New("earlier failure")
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := r.Execute(context.Background(), "doomed", map[string]any{"text": "x"})
	if err == nil || err.Error() != "final failure" {
		t.Fatalf("Execute error = %v, want last attempt's error", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("handler ran %d times, want 3", got)
	}

	u, _ := r.Usage("doomed")
	if u.TotalCalls != 1 || u.FailedCalls != 1 {
		t.Errorf("usage = %+v, want one failed call", u)
	}
}

func TestValidationAndRateLimitNotRetried(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewVirtual(start)
	r := newTestRegistry(clk)

	spec := echoSpec("gated")
	spec.RateLimit = RateLimit{Calls: 1, Window: time.Minute}
	spec.Retry = RetryPolicy{MaxRetries: 5, Backoff: time.Millisecond}

	var calls atomic.Int32
	if err := r.Register(spec, func(ctx context.Context, args map[string]any) (any, error) {
		calls.Add(1)
		return nil, fault.Validation("handler rejected payload")
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// A validation failure from the handler is terminal.
	_, err := r.Execute(context.Background(), "gated", map[string]any{"text": "x"})
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("Execute error = %v, want validation kind", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1 (no retries)", got)
	}

	// A rate-limit rejection fails before any attempt.
	_, err = r.Execute(context.Background(), "gated", map[string]any{"text": "x"})
	if !fault.IsKind(err, fault.KindRateLimit) {
		t.Fatalf("Execute error = %v, want rate_limit kind", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("handler ran %d times after rate limit, want still 1", got)
	}
}

func TestUnregisterRemovesTool(t *testing.T) {
	r := newTestRegistry(clock.System{})
	if err := r.Register(echoSpec("a"), echoHandler); err != nil {
		t.Fatalf("Register a: %v", err)
	}
	if err := r.Register(echoSpec("b"), echoHandler); err != nil {
		t.Fatalf("Register b: %v", err)
	}

	if err := r.Unregister("a"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if err := r.Unregister("a"); !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("second Unregister error = %v, want not_found kind", err)
	}

	infos := r.List()
	if len(infos) != 1 || infos[0].Name != "b" {
		t.Fatalf("List after Unregister = %+v, want only b", infos)
	}
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	r := newTestRegistry(clock.System{})
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(echoSpec(name), echoHandler); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	infos := r.List()
	want := []string{"zeta", "alpha", "mid"}
	for i, info := range infos {
		if info.Name != want[i] {
			t.Fatalf("List order = %v, want %v", infos, want)
		}
	}
}

func TestAverageExecutionTime(t *testing.T) {
	r := newTestRegistry(clock.System{})
	if err := r.Register(echoSpec("timed"), func(ctx context.Context, args map[string]any) (any, error) {
		time.Sleep(2 * time.Millisecond)
		return "ok", nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := r.Execute(context.Background(), "timed", map[string]any{"text": "x"}); err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
	}

	u, _ := r.Usage("timed")
	if u.TotalCalls != 3 {
		t.Fatalf("TotalCalls = %d, want 3", u.TotalCalls)
	}
	if u.AverageExecMillis <= 0 {
		t.Errorf("AverageExecMillis = %v, want > 0", u.AverageExecMillis)
	}
	if u.LastUsed.IsZero() {
		t.Errorf("LastUsed not set")
	}
}

type fakeRemote struct {
	tools  []RemoteTool
	called []string
}

func (f *fakeRemote) Tools() []RemoteTool { return f.tools }

func (f *fakeRemote) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	f.called = append(f.called, name)
	return map[string]any{"remote": name}, nil
}

func TestRegisterRemoteBridgesTools(t *testing.T) {
	r := newTestRegistry(clock.System{})
	src := &fakeRemote{
		tools: []RemoteTool{
			{
				Name:        "remote_lookup",
				Description: "looks things up",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`),
			},
			{
				Name:        "broken",
				InputSchema: json.RawMessage(`{"type":"object","properties":`),
			},
		},
	}

	defaults := Defaults{
		RateLimit: RateLimit{Calls: 10, Window: time.Minute},
		Timeout:   time.Second,
	}
	if got := RegisterRemote(r, src, defaults, zap.NewNop()); got != 1 {
		t.Fatalf("RegisterRemote = %d, want 1", got)
	}

	res, err := r.Execute(context.Background(), "remote_lookup", map[string]any{"q": "pizza"})
	if err != nil {
		t.Fatalf("Execute remote: %v", err)
	}
	m, ok := res.(map[string]any)
	if !ok || m["remote"] != "remote_lookup" {
		t.Fatalf("remote result = %v", res)
	}

	// Remote schemas gate calls like local ones.
	_, err = r.Execute(context.Background(), "remote_lookup", map[string]any{})
	if !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("missing arg error = %v, want validation kind", err)
	}
	if len(src.called) != 1 {
		t.Errorf("remote Call invoked %d times, want 1", len(src.called))
	}
}
