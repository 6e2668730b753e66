// Package monitor runs the periodic fetch, classify, compare and notify cycle.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/typhoon-alert-service/internal/client"
	"github.com/kjstillabower/typhoon-alert-service/internal/cyclone"
	"github.com/kjstillabower/typhoon-alert-service/internal/degraded"
	"github.com/kjstillabower/typhoon-alert-service/internal/events"
	"github.com/kjstillabower/typhoon-alert-service/internal/lifecycle"
	"github.com/kjstillabower/typhoon-alert-service/internal/message"
	"github.com/kjstillabower/typhoon-alert-service/internal/models"
	"github.com/kjstillabower/typhoon-alert-service/internal/notify"
	"github.com/kjstillabower/typhoon-alert-service/internal/observability"
	"github.com/kjstillabower/typhoon-alert-service/internal/risk"
	"github.com/kjstillabower/typhoon-alert-service/internal/state"
)

const (
	defaultFetchConcurrency = 4
	publishTimeout          = 5 * time.Second
)

// Options configures a Monitor. Weather, Alerts, Typhoons, Travel, Checkup,
// Composer, Dispatcher and Channel are required; Flights is set only when
// airport monitoring is enabled.
type Options struct {
	Interval         time.Duration
	FetchTimeout     time.Duration
	FetchConcurrency int
	Regions          []cyclone.Region

	Weather  client.WeatherSource
	Alerts   client.AlertSource
	Typhoons client.TyphoonSource
	Flights  client.FlightSource

	Travel     risk.Assessor
	Checkup    risk.Assessor
	Evaluator  *cyclone.Evaluator
	Composer   *message.Composer
	Dispatcher *notify.Dispatcher
	Channel    notify.Channel
	Publisher  events.Publisher
	Health     *degraded.Tracker
	// OnOutage is called after a cycle in which every fetch failed.
	OnOutage func()

	Clock  clockwork.Clock
	Logger *zap.Logger
}

type published struct {
	snapshot models.MonitoringSnapshot
	result   models.StatusResult
}

// Monitor owns the status baseline and the last published cycle.
type Monitor struct {
	opts    Options
	tracker *state.Tracker
	current atomic.Pointer[published]
	trigger chan struct{}
	// cycleMu keeps cycles strictly sequential when RunCycle is called
	// outside Run. It also guards the pending delivery below.
	cycleMu sync.Mutex
	// pendingKey identifies the uncommitted change to pendingTo. It is kept
	// across cycles while delivery is retried so recipients that already
	// received the change are not sent it again.
	pendingKey string
	pendingTo  models.Status
}

// New validates opts and returns a Monitor with no baseline.
func New(opts Options) (*Monitor, error) {
	switch {
	case opts.Weather == nil, opts.Alerts == nil, opts.Typhoons == nil:
		return nil, errors.New("monitor: weather, alert and typhoon sources are required")
	case opts.Travel == nil, opts.Checkup == nil:
		return nil, errors.New("monitor: travel and checkup assessors are required")
	case opts.Composer == nil, opts.Dispatcher == nil, opts.Channel == nil:
		return nil, errors.New("monitor: composer, dispatcher and channel are required")
	case len(opts.Regions) == 0:
		return nil, errors.New("monitor: at least one region is required")
	case opts.Interval <= 0:
		return nil, fmt.Errorf("monitor: interval must be positive, got %v", opts.Interval)
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = defaultFetchConcurrency
	}
	if opts.Evaluator == nil {
		opts.Evaluator = cyclone.NewEvaluator()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Monitor{
		opts:    opts,
		tracker: state.NewTracker(),
		trigger: make(chan struct{}, 1),
	}, nil
}

// Run executes one cycle immediately and then one per interval until ctx is
// done. A cycle in progress when ctx is canceled runs to completion.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.opts.Clock.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.opts.Logger.Info("monitoring loop started",
		zap.Duration("interval", m.opts.Interval),
		zap.Int("regions", len(m.opts.Regions)),
	)
	m.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			m.opts.Logger.Info("monitoring loop stopped")
			return nil
		case <-ticker.Chan():
		case <-m.trigger:
		}
		if ctx.Err() != nil {
			m.opts.Logger.Info("monitoring loop stopped")
			return nil
		}
		m.RunCycle(ctx)
	}
}

// Trigger requests an extra cycle from Run as soon as the current one ends.
// Non-blocking; repeated calls before the cycle starts coalesce.
func (m *Monitor) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// RunCycle executes a single cycle and returns its result. Cancellation of
// ctx does not interrupt the cycle.
func (m *Monitor) RunCycle(ctx context.Context) models.StatusResult {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	ctx = context.WithoutCancel(ctx)
	start := m.opts.Clock.Now()
	logger := m.opts.Logger.With(zap.String("cycle_id", uuid.NewString()))

	snap, failed, total := m.fetch(ctx, logger)
	result := m.classify(snap)

	tr := m.tracker.Detect(result.Overall)
	if tr.Changed {
		m.handleChange(ctx, logger, tr, result, snap)
	} else {
		m.pendingKey = ""
	}

	m.current.Store(&published{snapshot: snap, result: result})
	lifecycle.SetReady(true)

	cycleResult := "ok"
	switch {
	case failed == total:
		cycleResult = "failed"
	case failed > 0:
		cycleResult = "partial"
	}
	observability.MonitorCyclesTotal.WithLabelValues(cycleResult).Inc()
	observability.MonitorCycleDuration.Observe(m.opts.Clock.Since(start).Seconds())
	observability.RiskLevel.WithLabelValues("travel").Set(float64(result.Travel.Level))
	observability.RiskLevel.WithLabelValues("checkup").Set(float64(result.Checkup.Level))
	if result.Overall == models.StatusDanger {
		observability.OverallStatus.Set(1)
	} else {
		observability.OverallStatus.Set(0)
	}

	logger.Info("monitoring cycle complete",
		zap.String("status", string(result.Overall)),
		zap.String("travel_risk", result.Travel.Level.String()),
		zap.String("checkup_risk", result.Checkup.Level.String()),
		zap.Int("warnings", len(result.Warnings)),
		zap.Int("failed_fetches", failed),
		zap.Duration("duration", m.opts.Clock.Since(start)),
	)
	if failed == total && m.opts.OnOutage != nil {
		m.opts.OnOutage()
	}
	return result
}

// CurrentStatus returns the last published result, false before the first cycle.
func (m *Monitor) CurrentStatus() (models.StatusResult, bool) {
	p := m.current.Load()
	if p == nil {
		return models.StatusResult{}, false
	}
	return p.result, true
}

// RawSnapshot returns the last published snapshot, false before the first cycle.
func (m *Monitor) RawSnapshot() (models.MonitoringSnapshot, bool) {
	p := m.current.Load()
	if p == nil {
		return models.MonitoringSnapshot{}, false
	}
	return p.snapshot, true
}

// NotifyCurrent sends the last published status through ch, or a
// please-wait text before the first cycle. The baseline is not touched.
func (m *Monitor) NotifyCurrent(ctx context.Context, ch notify.Channel) notify.Outcome {
	p := m.current.Load()
	if p == nil {
		return m.opts.Dispatcher.DispatchText(ctx, ch, message.Unavailable())
	}
	card, text := m.opts.Composer.Compose(p.result, p.snapshot)
	return m.opts.Dispatcher.Dispatch(ctx, ch, card, text)
}

// SendTest sends the connectivity test notification to the monitor's channel.
func (m *Monitor) SendTest(ctx context.Context) notify.Outcome {
	card, text := m.opts.Composer.ComposeTest(m.opts.Clock.Now())
	return m.opts.Dispatcher.Dispatch(ctx, m.opts.Channel, card, text)
}

func (m *Monitor) classify(snap models.MonitoringSnapshot) models.StatusResult {
	travel := m.opts.Travel.Assess(snap)
	checkup := m.opts.Checkup.Assess(snap)
	return models.StatusResult{
		Timestamp: snap.Timestamp,
		Overall:   risk.Overall(travel.Level, checkup.Level),
		Travel:    travel,
		Checkup:   checkup,
		Warnings:  buildWarnings(snap, m.opts.Regions, m.opts.Evaluator),
	}
}

// handleChange notifies a detected change. The baseline moves only when the
// notification was delivered or failed terminally, so a transient failure is
// retried on the next cycle and never within this one.
func (m *Monitor) handleChange(ctx context.Context, logger *zap.Logger, tr state.Transition, result models.StatusResult, snap models.MonitoringSnapshot) {
	observability.StatusChangesTotal.WithLabelValues(fromLabel(tr), string(tr.To)).Inc()
	logger.Info("status change detected",
		zap.String("from", fromLabel(tr)),
		zap.String("to", string(tr.To)),
	)

	if m.pendingKey == "" || m.pendingTo != tr.To {
		m.pendingKey = uuid.NewString()
		m.pendingTo = tr.To
	}
	card, text := m.opts.Composer.Compose(result, snap)
	out := m.opts.Dispatcher.Dispatch(notify.WithDeliveryKey(ctx, m.pendingKey), m.opts.Channel, card, text)

	switch {
	case out.Delivered():
		m.tracker.Commit(result.Overall)
		m.pendingKey = ""
		logger.Info("status change notified", zap.String("mode", string(out.Mode)))
	case out.Terminal():
		m.tracker.Commit(result.Overall)
		m.pendingKey = ""
		logger.Warn("status change notification rejected; not retrying", zap.Error(out.Err))
	default:
		logger.Warn("status change not delivered; will retry next cycle", zap.Error(out.Err))
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	ev := events.StatusChange{
		ID:           uuid.NewString(),
		From:         tr.From,
		To:           tr.To,
		Initial:      tr.Initial,
		Travel:       result.Travel,
		Checkup:      result.Checkup,
		Warnings:     result.Warnings,
		DeliveryMode: string(out.Mode),
		Delivered:    out.Delivered(),
		OccurredAt:   result.Timestamp,
	}
	if err := m.opts.Publisher.Publish(pubCtx, ev); err != nil {
		logger.Warn("status change event not published", zap.Error(err))
	}
}

func fromLabel(tr state.Transition) string {
	if tr.Initial {
		return "none"
	}
	return string(tr.From)
}

type fetchResult struct {
	mu   sync.Mutex
	snap models.MonitoringSnapshot
}

// fetch gathers every feed concurrently, each call bounded by FetchTimeout.
// A failed call marks its category stale for the cycle and is not retried.
func (m *Monitor) fetch(ctx context.Context, logger *zap.Logger) (snap models.MonitoringSnapshot, failed, total int) {
	res := &fetchResult{snap: models.MonitoringSnapshot{
		Timestamp: m.opts.Clock.Now(),
		Weather:   make(map[string][]models.WeatherRecord),
		Alerts:    make(map[string][]models.AlertRecord),
	}}
	var failures atomic.Int32

	var g errgroup.Group
	g.SetLimit(m.opts.FetchConcurrency)
	run := func(category models.DataCategory, region string, fn func(ctx context.Context) error) {
		total++
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
			defer cancel()
			err := fn(callCtx)
			if err == nil {
				if m.opts.Health != nil {
					m.opts.Health.RecordSuccess()
				}
				return nil
			}
			failures.Add(1)
			errType := client.CategorizeError(err)
			observability.RecordFetchError(string(category), string(errType))
			if m.opts.Health != nil {
				m.opts.Health.RecordError()
			}
			logger.Warn("fetch failed, marking data stale",
				zap.String("category", string(category)),
				zap.String("region", region),
				zap.String("error_type", string(errType)),
				zap.Error(err),
			)
			res.mu.Lock()
			res.snap.Stale = append(res.snap.Stale, models.StaleSource{Category: category, Region: region, Reason: string(errType)})
			res.mu.Unlock()
			return nil
		})
	}

	for _, r := range m.opts.Regions {
		region := r.Name
		run(models.CategoryWeather, region, func(ctx context.Context) error {
			recs, err := m.opts.Weather.FetchWeather(ctx, region)
			if err != nil {
				return err
			}
			res.mu.Lock()
			res.snap.Weather[region] = recs
			res.mu.Unlock()
			return nil
		})
		run(models.CategoryAlerts, region, func(ctx context.Context) error {
			recs, err := m.opts.Alerts.FetchAlerts(ctx, region)
			if err != nil {
				return err
			}
			res.mu.Lock()
			res.snap.Alerts[region] = recs
			res.mu.Unlock()
			return nil
		})
	}
	run(models.CategoryTyphoons, "", func(ctx context.Context) error {
		tracks, err := m.opts.Typhoons.FetchTyphoons(ctx)
		if err != nil {
			return err
		}
		res.mu.Lock()
		res.snap.Cyclones = tracks
		res.mu.Unlock()
		return nil
	})
	if m.opts.Flights != nil {
		run(models.CategoryFlights, "", func(ctx context.Context) error {
			flights, err := m.opts.Flights.FetchFlights(ctx)
			if err != nil {
				return err
			}
			res.mu.Lock()
			res.snap.Flights = flights
			res.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return res.snap, int(failures.Load()), total
}
