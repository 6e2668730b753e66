package http

import (
	"context"
	"sync"
)

// InFlightTracker counts requests being served so shutdown can drain them.
// The zero value is ready to use.
type InFlightTracker struct {
	mu    sync.Mutex
	count int64
	// idle is closed when count drops back to zero; nil while count is zero
	// and nobody has started a request yet.
	idle chan struct{}
}

func (t *InFlightTracker) Increment() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		t.idle = make(chan struct{})
	}
	t.count++
}

// Decrement ignores calls that would take the count below zero.
func (t *InFlightTracker) Decrement() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return
	}
	t.count--
	if t.count == 0 {
		close(t.idle)
	}
}

func (t *InFlightTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// WaitForZero blocks until no request is in flight or ctx is done.
func (t *InFlightTracker) WaitForZero(ctx context.Context) error {
	t.mu.Lock()
	if t.count == 0 {
		t.mu.Unlock()
		return nil
	}
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// globalInFlightTracker is fed by MetricsMiddleware.
var globalInFlightTracker = &InFlightTracker{}

// InFlightCount returns the number of requests currently being served.
func InFlightCount() int64 {
	return globalInFlightTracker.Count()
}

// WaitForInFlight blocks until every request has completed or ctx is done.
func WaitForInFlight(ctx context.Context) error {
	return globalInFlightTracker.WaitForZero(ctx)
}
