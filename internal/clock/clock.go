package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. Scheduling code takes a Clock so tests
// can drive time directly instead of sleeping.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Virtual is a manually advanced clock for tests.
type Virtual struct {
	mu  sync.Mutex
	now time.Time
}

// NewVirtual creates a virtual clock frozen at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Advance moves the clock forward and returns the new time.
func (v *Virtual) Advance(d time.Duration) time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = v.now.Add(d)
	return v.now
}

// Set jumps the clock to t. Moving backwards is allowed; schedulers treat
// entries with due times in the past as due.
func (v *Virtual) Set(t time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = t
}
