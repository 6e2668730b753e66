package degraded

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// TestErrorRate_Empty verifies that ErrorRate returns (0, 0) when nothing
// has been recorded and that an empty tracker is not degraded.
func TestErrorRate_Empty(t *testing.T) {
	tr := NewTracker(clockwork.NewFakeClock(), time.Minute, 50)
	errors, total := tr.ErrorRate()
	if errors != 0 || total != 0 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 0)", errors, total)
	}
	if tr.Degraded() {
		t.Error("Degraded() = true with no outcomes, want false")
	}
}

// TestRecordSuccess_AndError_ErrorRate verifies outcomes are counted.
func TestRecordSuccess_AndError_ErrorRate(t *testing.T) {
	tr := NewTracker(clockwork.NewFakeClock(), time.Minute, 50)
	tr.RecordSuccess()
	tr.RecordSuccess()
	tr.RecordError()
	errors, total := tr.ErrorRate()
	if errors != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errors, total)
	}
	if tr.Degraded() {
		t.Error("Degraded() = true at 33%, want false")
	}
	tr.RecordError()
	if !tr.Degraded() {
		t.Error("Degraded() = false at 50%, want true")
	}
}

// TestErrorRate_ExpiresOutsideWindow verifies outcomes older than the window are excluded.
func TestErrorRate_ExpiresOutsideWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(clock, time.Minute, 50)
	tr.RecordError()
	tr.RecordError()
	clock.Advance(2 * time.Minute)
	tr.RecordSuccess()

	errors, total := tr.ErrorRate()
	if errors != 0 || total != 1 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 1)", errors, total)
	}
	if tr.Degraded() {
		t.Error("Degraded() = true after errors expired, want false")
	}
}

// TestReset verifies that Reset clears all recorded outcomes.
func TestReset(t *testing.T) {
	tr := NewTracker(clockwork.NewFakeClock(), time.Minute, 50)
	tr.RecordError()
	tr.RecordSuccess()
	tr.Reset()
	errors, total := tr.ErrorRate()
	if errors != 0 || total != 0 {
		t.Errorf("After Reset, ErrorRate() = (%d, %d), want (0, 0)", errors, total)
	}
}
