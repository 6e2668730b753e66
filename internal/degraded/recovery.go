package degraded

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ProbeFunc checks whether the upstream is reachable again. Returns nil if recovered.
type ProbeFunc func(ctx context.Context) error

// Recovery probes an unavailable upstream on a Fibonacci schedule and calls
// OnRecovered on the first successful probe. At most one run is active.
type Recovery struct {
	Clock        clockwork.Clock
	Probe        ProbeFunc
	OnRecovered  func()
	Initial      time.Duration
	Max          time.Duration
	ProbeTimeout time.Duration
	Logger       *zap.Logger

	notify  chan struct{}
	running atomic.Bool
}

// Start runs the listener until ctx is done. Call once.
func (r *Recovery) Start(ctx context.Context) {
	if r.Clock == nil {
		r.Clock = clockwork.NewRealClock()
	}
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	if r.ProbeTimeout <= 0 {
		r.ProbeTimeout = 10 * time.Second
	}
	r.notify = make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.notify:
				if r.running.Swap(true) {
					continue
				}
				go func() {
					defer r.running.Store(false)
					r.Run(ctx)
				}()
			}
		}
	}()
}

// Notify signals an outage. Non-blocking; ignored before Start or while a run is active.
func (r *Recovery) Notify() {
	if r.notify == nil {
		return
	}
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Run probes after each delay (initial, 2x, 3x, 5x ... up to max). Returns
// true once a probe succeeds.
func (r *Recovery) Run(ctx context.Context) bool {
	delays := fibDelays(r.Initial, r.Max)
	for i, d := range delays {
		select {
		case <-ctx.Done():
			return false
		case <-r.Clock.After(d):
		}
		probeCtx, cancel := context.WithTimeout(ctx, r.ProbeTimeout)
		err := r.Probe(probeCtx)
		cancel()
		if err == nil {
			r.Logger.Info("upstream recovered", zap.Int("attempt", i+1))
			if r.OnRecovered != nil {
				r.OnRecovered()
			}
			return true
		}
		r.Logger.Warn("recovery probe failed",
			zap.Int("attempt", i+1),
			zap.Duration("delay", d),
			zap.Error(err),
		)
	}
	if len(delays) > 0 {
		r.Logger.Warn("recovery probes exhausted; waiting for the next cycle", zap.Int("attempts", len(delays)))
	}
	return false
}

// fibDelays returns initial*1, initial*2, initial*3, initial*5 ... while <= max.
func fibDelays(initial, max time.Duration) []time.Duration {
	if initial <= 0 || max < initial {
		return nil
	}
	var out []time.Duration
	for a, b := int64(1), int64(2); ; a, b = b, a+b {
		d := time.Duration(a) * initial
		if d > max {
			break
		}
		out = append(out, d)
	}
	return out
}
