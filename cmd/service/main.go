package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/typhoon-alert-service/internal/circuitbreaker"
	"github.com/kjstillabower/typhoon-alert-service/internal/client"
	"github.com/kjstillabower/typhoon-alert-service/internal/config"
	"github.com/kjstillabower/typhoon-alert-service/internal/cyclone"
	"github.com/kjstillabower/typhoon-alert-service/internal/degraded"
	"github.com/kjstillabower/typhoon-alert-service/internal/events"
	httphandler "github.com/kjstillabower/typhoon-alert-service/internal/http"
	"github.com/kjstillabower/typhoon-alert-service/internal/lifecycle"
	"github.com/kjstillabower/typhoon-alert-service/internal/line"
	"github.com/kjstillabower/typhoon-alert-service/internal/message"
	"github.com/kjstillabower/typhoon-alert-service/internal/monitor"
	"github.com/kjstillabower/typhoon-alert-service/internal/notify"
	"github.com/kjstillabower/typhoon-alert-service/internal/observability"
	"github.com/kjstillabower/typhoon-alert-service/internal/recipients"
	"github.com/kjstillabower/typhoon-alert-service/internal/risk"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	clock := clockwork.NewRealClock()
	upstream := client.Options{
		Timeout:        cfg.FetchTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Clock:          clock,
	}

	cwaOpts := upstream
	cwaOpts.BaseURL = cfg.CWABaseURL
	cwaOpts.APIKey = cfg.CWAAPIKey
	cwaClient, err := client.NewCWAClient(cwaOpts)
	if err != nil {
		logger.Fatal("cwa client", zap.Error(err))
	}
	if cb := newBreaker(cfg, "cwa", nil, logger); cb != nil {
		cwaClient.SetCircuitBreaker(cb)
	}

	var flights client.FlightSource
	if cfg.AirportMonitoring {
		fc, err := client.NewFlightClient(cfg.FlightFeedURL, cfg.Flights, upstream)
		if err != nil {
			logger.Fatal("flight client", zap.Error(err))
		}
		if cb := newBreaker(cfg, "flights", nil, logger); cb != nil {
			fc.SetCircuitBreaker(cb)
		}
		flights = fc
		logger.Info("airport monitoring enabled", zap.Int("flights", len(cfg.Flights)))
	}

	lineClient, err := line.NewClient(line.Config{
		AccessToken: cfg.LINEAccessToken,
		APIURL:      cfg.LINEAPIURL,
		Timeout:     cfg.SendTimeout,
		Breaker:     newBreaker(cfg, "line", line.IsUpstreamFault, logger),
	})
	if err != nil {
		logger.Fatal("line client", zap.Error(err))
	}

	var store recipients.Store
	var memcached *recipients.MemcachedStore
	switch cfg.RecipientsBackend {
	case "memcached":
		memcached = recipients.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err := memcached.Ping(); err != nil {
			logger.Warn("memcached unreachable at startup", zap.Error(err))
		}
		seedCtx, seedCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := memcached.Seed(seedCtx, cfg.Recipients...); err != nil {
			logger.Warn("seeding recipients failed", zap.Error(err))
		}
		seedCancel()
		store = memcached
		logger.Info("recipients backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		store = recipients.NewInMemoryStore(cfg.Recipients...)
		logger.Info("recipients backend: in_memory", zap.Int("seeded", len(cfg.Recipients)))
	}

	regions := make([]cyclone.Region, 0, len(cfg.Regions))
	for _, name := range cfg.Regions {
		r, ok := cyclone.LookupRegion(name)
		if !ok {
			logger.Fatal("unknown region", zap.String("region", name))
		}
		regions = append(regions, r)
	}
	travelRegion, ok := cyclone.LookupRegion(cfg.TravelRegion)
	if !ok {
		logger.Fatal("unknown travel region", zap.String("region", cfg.TravelRegion))
	}
	checkupRegion, ok := cyclone.LookupRegion(cfg.CheckupRegion)
	if !ok {
		logger.Fatal("unknown checkup region", zap.String("region", cfg.CheckupRegion))
	}
	observability.SetTrackedRegions(cfg.Regions)

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Fatal("events publisher", zap.Error(err))
	}

	evaluator := cyclone.NewEvaluator()
	travel := risk.NewTravelRiskAssessment(travelRegion, cfg.AirportMonitoring, evaluator)
	travel.Clock = clock
	checkup := risk.NewCheckupRiskAssessment(checkupRegion, evaluator)
	checkup.Clock = clock
	health := degraded.NewTracker(clock, cfg.DegradedWindow, cfg.DegradedErrorPct)
	recovery := &degraded.Recovery{
		Clock:   clock,
		Initial: cfg.DegradedRetryInitial,
		Max:     cfg.DegradedRetryMax,
		Probe: func(ctx context.Context) error {
			_, err := cwaClient.FetchTyphoons(ctx)
			return err
		},
		Logger: logger,
	}

	mon, err := monitor.New(monitor.Options{
		Interval:     cfg.CheckInterval,
		FetchTimeout: cfg.FetchTimeout,
		Regions:      regions,
		Weather:      cwaClient,
		Alerts:       cwaClient,
		Typhoons:     cwaClient,
		Flights:      flights,
		Travel:       travel,
		Checkup:      checkup,
		Evaluator:    evaluator,
		Composer: &message.Composer{
			TravelRegion:  travelRegion.Name,
			CheckupRegion: checkupRegion.Name,
			TravelDate:    cfg.TravelDate,
			CheckupDate:   cfg.CheckupDate,
			DashboardURL:  cfg.DashboardURL,
			StatusKeyword: cfg.StatusKeyword,
		},
		Dispatcher: notify.NewDispatcher(notify.Options{
			RichEnabled:     cfg.RichMessages,
			FallbackEnabled: cfg.FallbackOnFailure,
			SendTimeout:     cfg.SendTimeout,
		}, logger),
		Channel:   line.NewPushChannel(lineClient, store, logger),
		Publisher: publisher,
		Health:    health,
		OnOutage:  recovery.Notify,
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("monitor", zap.Error(err))
	}
	recovery.OnRecovered = mon.Trigger

	handlerCfg := httphandler.HandlerConfig{
		ChannelSecret: cfg.LINEChannelSecret,
		StatusKeyword: cfg.StatusKeyword,
		Health:        health,
	}
	if memcached != nil {
		handlerCfg.RecipientsPing = memcached.Ping
	}
	reply := func(token string) notify.Channel {
		return line.NewReplyChannel(lineClient, token)
	}
	handler := httphandler.NewHandler(mon, store, reply, handlerCfg, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	recovery.Start(ctx)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		if err := mon.Run(ctx); err != nil {
			logger.Error("monitoring loop", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	select {
	case <-monitorDone:
	case <-shutdownCtx.Done():
		logger.Warn("monitoring cycle still running at shutdown deadline")
	}

	closers := []observability.Closer{{Name: "events", Close: publisher.Close}}
	if memcached != nil {
		closers = append(closers, observability.Closer{Name: "memcached", Close: memcached.Close})
	}
	// A fresh deadline so closers still run when draining used up shutdownCtx.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := observability.FlushTelemetry(flushCtx, logger, closers...); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newBreaker returns nil when circuit breaking is disabled.
func newBreaker(cfg *config.Config, component string, isFailure func(error) bool, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	if !cfg.CircuitBreakerEnabled {
		return nil
	}
	observability.CircuitBreakerState.WithLabelValues(component).Set(0)
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        component,
		IsFailure:        isFailure,
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(component).Set(float64(to))
			logger.Warn("circuit breaker transition",
				zap.String("component", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case "kafka":
		logger.Info("events backend: kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "mqtt":
		p := events.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.Connect(ctx); err != nil {
			return nil, err
		}
		logger.Info("events backend: mqtt", zap.String("broker", cfg.MQTTBroker), zap.String("topic", cfg.MQTTTopic))
		return p, nil
	}
	return events.Nop{}, nil
}
