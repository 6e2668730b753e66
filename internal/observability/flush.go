package observability

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Closer is a resource released during shutdown.
type Closer struct {
	Name  string
	Close func() error
}

// FlushTelemetry closes each resource in order, then syncs the logger.
// Resources not reached before ctx is done are reported and skipped; the
// logger is synced regardless.
func FlushTelemetry(ctx context.Context, logger *zap.Logger, closers ...Closer) error {
	var errs []error
	for _, c := range closers {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.Name, ctx.Err()))
			continue
		}
		if err := c.Close(); err != nil {
			if logger != nil {
				logger.Error("close failed", zap.String("resource", c.Name), zap.Error(err))
			}
			errs = append(errs, fmt.Errorf("close %s: %w", c.Name, err))
		}
	}
	if logger != nil {
		if err := logger.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("flush logs: %w", err))
		}
	}
	return errors.Join(errs...)
}
