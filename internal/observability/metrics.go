package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Monitoring cycles by result (ok, partial). Watch for: partial cycles = stale upstream data.
	MonitorCyclesTotal *prometheus.CounterVec

	// Cycle wall time. Watch for: cycles approaching the check interval.
	MonitorCycleDuration prometheus.Histogram

	// Per-category fetch failures. Watch for: a category stuck failing.
	FetchErrorsTotal *prometheus.CounterVec

	// Upstream API call rate by api (cwa, flights, line) and status.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream API latency. Watch for: p95 > 2s (upstream degradation).
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts per api. Watch for: high retries = unstable upstream.
	UpstreamRetriesTotal *prometheus.CounterVec

	// Notifications by delivered mode (rich, text, none) and outcome (delivered, transient, terminal).
	NotificationsTotal *prometheus.CounterVec

	// Rich cards rejected by local validation before sending.
	NotificationValidationFailuresTotal prometheus.Counter

	// Overall status, 1 = DANGER, 0 = SAFE.
	OverallStatus prometheus.Gauge

	// Risk level per activity (0 unknown .. 3 high).
	RiskLevel *prometheus.GaugeVec

	// Status transitions detected. Watch for: flapping.
	StatusChangesTotal *prometheus.CounterVec

	// Circuit breaker state per component (0 closed, 1 open, 2 half_open).
	CircuitBreakerState *prometheus.GaugeVec

	// Webhook events by kind (message, follow, join, invalid_signature, other).
	WebhookEventsTotal *prometheus.CounterVec

	// Status-change events published by backend and status.
	EventsPublishedTotal *prometheus.CounterVec

	// Rate limit denials on the webhook route.
	RateLimitDeniedTotal prometheus.Counter

	// trackedRegions is built from config; used to bound region label cardinality.
	trackedRegionsMu sync.RWMutex
	trackedRegions   map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	MonitorCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitorCyclesTotal",
			Help: "Total number of monitoring cycles by result",
		},
		[]string{"result"},
	)
	MonitorCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monitorCycleDurationSeconds",
			Help:    "Monitoring cycle duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	FetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchErrorsTotal",
			Help: "Data fetch failures by category and error type",
		},
		[]string{"category", "errorType"},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of upstream API calls",
		},
		[]string{"api", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"api", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total number of retry attempts for upstream calls",
		},
		[]string{"api"},
	)
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notificationsTotal",
			Help: "Notifications dispatched by delivered mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
	NotificationValidationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notificationValidationFailuresTotal",
			Help: "Rich messages that failed local validation and were sent as plain text",
		},
	)
	OverallStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "overallStatus",
			Help: "Overall alert status (1 = DANGER, 0 = SAFE)",
		},
	)
	RiskLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "riskLevel",
			Help: "Current risk level per activity (0 unknown, 1 low, 2 medium, 3 high)",
		},
		[]string{"activity"},
	)
	StatusChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statusChangesTotal",
			Help: "Detected overall status transitions",
		},
		[]string{"from", "to"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half_open)",
		},
		[]string{"component"},
	)
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhookEventsTotal",
			Help: "LINE webhook events by kind",
		},
		[]string{"kind"},
	)
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsPublishedTotal",
			Help: "Status-change events published by backend and status",
		},
		[]string{"backend", "status"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		MonitorCyclesTotal, MonitorCycleDuration, FetchErrorsTotal,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal,
		NotificationsTotal, NotificationValidationFailuresTotal,
		OverallStatus, RiskLevel, StatusChangesTotal,
		CircuitBreakerState, WebhookEventsTotal, EventsPublishedTotal,
		RateLimitDeniedTotal,
	)
}

// SetTrackedRegions sets the allow-list for region labels. Other regions are reported as "other".
func SetTrackedRegions(regions []string) {
	trackedRegionsMu.Lock()
	defer trackedRegionsMu.Unlock()
	trackedRegions = make(map[string]struct{}, len(regions))
	for _, r := range regions {
		trackedRegions[normalizeRegionForMetrics(r)] = struct{}{}
	}
}

// RegionLabel returns the metric label for region.
func RegionLabel(region string) string {
	r := normalizeRegionForMetrics(region)
	trackedRegionsMu.RLock()
	_, ok := trackedRegions[r] // nil map read is safe in Go
	trackedRegionsMu.RUnlock()
	if ok {
		return r
	}
	return "other"
}

// RecordFetchError records a failed fetch for category.
func RecordFetchError(category, errorType string) {
	FetchErrorsTotal.WithLabelValues(category, errorType).Inc()
}

func normalizeRegionForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
