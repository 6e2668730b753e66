// Package degraded tracks collaborator fetch outcomes over a sliding window
// and drives recovery probing after an outage.
package degraded

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Tracker maintains sliding windows of fetch outcome timestamps.
type Tracker struct {
	mu           sync.Mutex
	clock        clockwork.Clock
	window       time.Duration
	errorPct     int
	successTimes []time.Time
	errorTimes   []time.Time
}

// NewTracker reports degraded when at least errorPct percent of the
// outcomes within window are errors. A nil clock uses the real clock.
func NewTracker(clock clockwork.Clock, window time.Duration, errorPct int) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{clock: clock, window: window, errorPct: errorPct}
}

// RecordSuccess records a successful fetch.
func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes)
}

// RecordError records a failed fetch (DataUnavailable, timeout, etc.).
func (t *Tracker) RecordError() {
	t.recordOutcome(&t.errorTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// ErrorRate returns (errorCount, totalCount) within the window.
func (t *Tracker) ErrorRate() (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-t.window)
	errCount := countSince(t.errorTimes, cutoff)
	return errCount, errCount + countSince(t.successTimes, cutoff)
}

// Degraded reports whether the error share within the window reaches the threshold.
// No outcomes means not degraded.
func (t *Tracker) Degraded() bool {
	errs, total := t.ErrorRate()
	if total == 0 {
		return false
	}
	return errs*100 >= t.errorPct*total
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than the window. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.window)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
}
