// Package state detects changes of the overall alert status between cycles.
package state

import (
	"sync"

	"github.com/kjstillabower/typhoon-alert-service/internal/models"
)

// Transition describes the result of comparing a status to the stored baseline.
type Transition struct {
	From    models.Status
	To      models.Status
	Changed bool
	// Initial is true when no baseline existed yet.
	Initial bool
}

// Tracker holds the last successfully notified status. Detect never moves
// the baseline; callers Commit once the change has been handled, so a
// failed notification is detected again on the next cycle.
type Tracker struct {
	mu          sync.RWMutex
	baseline    models.Status
	initialized bool
}

// NewTracker returns a Tracker with no baseline.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Detect compares status to the baseline. The first observation always counts as a change.
func (t *Tracker) Detect(status models.Status) Transition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.initialized {
		return Transition{To: status, Changed: true, Initial: true}
	}
	return Transition{From: t.baseline, To: status, Changed: t.baseline != status}
}

// Commit stores status as the new baseline.
func (t *Tracker) Commit(status models.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.baseline = status
	t.initialized = true
}

// Baseline returns the stored status and whether one exists.
func (t *Tracker) Baseline() (models.Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.baseline, t.initialized
}
