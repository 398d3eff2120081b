package tool

import "time"

// slidingWindow tracks call timestamps inside a rolling window. Callers
// hold the owning tool's mutex; the window itself is not safe for
// concurrent use.
type slidingWindow struct {
	limit  int
	window time.Duration
	calls  []time.Time
}

// allow prunes timestamps that have left the window, then admits and
// records the call if capacity remains. A rejected call leaves no trace,
// so it cannot shrink a later caller's budget.
func (w *slidingWindow) allow(now time.Time) bool {
	if w.limit <= 0 {
		return true
	}

	cutoff := now.Add(-w.window)
	kept := w.calls[:0]
	for _, t := range w.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.calls = kept

	if len(w.calls) >= w.limit {
		return false
	}
	w.calls = append(w.calls, now)
	return true
}

// recorded reports how many admitted calls remain inside the window as
// of now, without mutating state.
func (w *slidingWindow) recorded(now time.Time) int {
	cutoff := now.Add(-w.window)
	n := 0
	for _, t := range w.calls {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
