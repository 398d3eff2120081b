package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Listener receives periodic tick events.
type Listener interface {
	OnTick(now time.Time)
}

// Ticker drives registered listeners at a fixed interval. Listener errors
// are the listener's problem; a slow listener delays the rest of the tick
// but never kills the loop.
type Ticker struct {
	clock     Clock
	interval  time.Duration
	listeners []Listener
	mu        sync.RWMutex
	cancel    context.CancelFunc
	logger    *zap.Logger
}

// NewTicker creates a ticker reading time from clock.
func NewTicker(clock Clock, interval time.Duration, logger *zap.Logger) *Ticker {
	return &Ticker{
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

// AddListener registers a tick listener.
func (t *Ticker) AddListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Start begins the tick loop in a background goroutine.
func (t *Ticker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.loop(ctx)
	t.logger.Info("ticker started", zap.Duration("interval", t.interval))
}

// Stop halts the tick loop.
func (t *Ticker) Stop() {
	if t.cancel != nil {
		t.cancel()
		t.logger.Info("ticker stopped")
	}
}

// Fire delivers one tick immediately, outside the interval schedule.
// Used at boot so scheduled work does not wait a full interval, and by
// tests driving a virtual clock.
func (t *Ticker) Fire() {
	t.tick()
}

func (t *Ticker) loop(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Ticker) tick() {
	now := t.clock.Now()

	t.mu.RLock()
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.RUnlock()

	for _, l := range listeners {
		l.OnTick(now)
	}
}
