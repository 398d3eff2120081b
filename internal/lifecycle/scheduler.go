package lifecycle

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/zap"
)

// checkEntry is one pending lifecycle check.
type checkEntry struct {
	due      time.Time
	memoryID string
}

type checkHeap []checkEntry

func (h checkHeap) Len() int            { return len(h) }
func (h checkHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h checkHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *checkHeap) Push(x any)         { *h = append(*h, x.(checkEntry)) }
func (h *checkHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// Scheduler owns a time-ordered queue of pending checks, drained on
// clock ticks. Tests drive OnTick with a virtual clock instead of
// waiting wall time.
type Scheduler struct {
	mu      sync.Mutex
	pending checkHeap
	run     func(memoryID string, now time.Time)
	logger  *zap.Logger
}

// NewScheduler creates a scheduler delivering due checks to run.
func NewScheduler(run func(memoryID string, now time.Time), logger *zap.Logger) *Scheduler {
	s := &Scheduler{run: run, logger: logger}
	heap.Init(&s.pending)
	return s
}

// Schedule enqueues a check for the memory at due.
func (s *Scheduler) Schedule(memoryID string, due time.Time) {
	s.mu.Lock()
	heap.Push(&s.pending, checkEntry{due: due, memoryID: memoryID})
	s.mu.Unlock()
	s.logger.Debug("lifecycle check scheduled",
		zap.String("memory", memoryID),
		zap.Time("due", due))
}

// Pending reports how many checks are queued.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// OnTick drains every entry due at or before now and runs its check.
// Implements clock.Listener.
func (s *Scheduler) OnTick(now time.Time) {
	for {
		s.mu.Lock()
		if s.pending.Len() == 0 || s.pending[0].due.After(now) {
			s.mu.Unlock()
			return
		}
		entry := heap.Pop(&s.pending).(checkEntry)
		s.mu.Unlock()

		s.run(entry.memoryID, now)
	}
}
