package observability

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestFlushTelemetry_ClosesInOrder verifies every closer runs and failures are joined.
func TestFlushTelemetry_ClosesInOrder(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	var order []string
	boom := errors.New("boom")

	err := FlushTelemetry(context.Background(), zap.New(core),
		Closer{Name: "events", Close: func() error { order = append(order, "events"); return boom }},
		Closer{Name: "recipients", Close: func() error { order = append(order, "recipients"); return nil }},
	)

	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want to wrap boom", err)
	}
	if len(order) != 2 || order[0] != "events" || order[1] != "recipients" {
		t.Errorf("close order = %v, want [events recipients]", order)
	}
	if logs.FilterMessage("close failed").Len() != 1 {
		t.Errorf("want one close failure log, got %d", logs.FilterMessage("close failed").Len())
	}
}

// TestFlushTelemetry_ExpiredContext verifies closers are skipped once the deadline has passed.
func TestFlushTelemetry_ExpiredContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false

	err := FlushTelemetry(ctx, nil, Closer{Name: "events", Close: func() error { called = true; return nil }})

	if called {
		t.Error("closer ran after context was done")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// TestFlushTelemetry_NothingToClose verifies a nil logger and no closers is a no-op.
func TestFlushTelemetry_NothingToClose(t *testing.T) {
	if err := FlushTelemetry(context.Background(), nil); err != nil {
		t.Errorf("FlushTelemetry() = %v, want nil", err)
	}
}
