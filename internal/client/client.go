package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/typhoon-alert-service/internal/circuitbreaker"
	"github.com/kjstillabower/typhoon-alert-service/internal/models"
	"github.com/kjstillabower/typhoon-alert-service/internal/observability"
)

// WeatherSource returns forecast windows for one region.
type WeatherSource interface {
	FetchWeather(ctx context.Context, region string) ([]models.WeatherRecord, error)
}

// AlertSource returns active official alerts for one region.
type AlertSource interface {
	FetchAlerts(ctx context.Context, region string) ([]models.AlertRecord, error)
}

// TyphoonSource returns every currently tracked tropical cyclone.
type TyphoonSource interface {
	FetchTyphoons(ctx context.Context) ([]models.CycloneTrack, error)
}

// FlightSource returns real-time flight records for the travel route.
type FlightSource interface {
	FetchFlights(ctx context.Context) ([]models.FlightStatus, error)
}

var (
	// ErrDataUnavailable wraps every fetch failure. The monitor marks the
	// category stale for the cycle when it sees it.
	ErrDataUnavailable = errors.New("data unavailable")

	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrNotFound        = errors.New("dataset not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")

	// ErrMalformedResponse means the upstream answered 2xx with a body that
	// does not decode. Not retried.
	ErrMalformedResponse = errors.New("malformed response")
)

// Options configures an upstream JSON client.
type Options struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Clock          clockwork.Clock
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 100 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 2 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

// jsonGetter performs GET requests with retry, jittered backoff and an
// optional circuit breaker, recording metrics under api.
type jsonGetter struct {
	api            string
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	clock          clockwork.Clock
	breaker        *circuitbreaker.CircuitBreaker
}

func newJSONGetter(api string, opts Options) *jsonGetter {
	return &jsonGetter{
		api:            api,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		timeout:        opts.Timeout,
		client:         &http.Client{Timeout: opts.Timeout},
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		clock:          opts.Clock,
	}
}

// get decodes the response for path into out. Every error wraps ErrDataUnavailable.
func (g *jsonGetter) get(ctx context.Context, path string, params url.Values, out any) error {
	call := func() error { return g.getWithRetry(ctx, path, params, out) }
	var err error
	if g.breaker != nil {
		err = g.breaker.Call(ctx, call)
	} else {
		err = call()
	}
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrDataUnavailable, g.api, path, err)
	}
	return nil
}

func (g *jsonGetter) getWithRetry(ctx context.Context, path string, params url.Values, out any) error {
	var lastErr error

	for attempt := 0; attempt < g.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(g.api).Inc()
			delay := g.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-g.clock.After(delay):
			}
		}

		err := g.callAPI(ctx, path, params, out)
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func (g *jsonGetter) callAPI(ctx context.Context, path string, params url.Values, out any) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := g.buildRequest(reqCtx, path, params)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(g.api, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.UpstreamCallsTotal.WithLabelValues(g.api, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(g.api, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(g.api, status).Inc()
	observability.UpstreamDuration.WithLabelValues(g.api, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

func (g *jsonGetter) buildRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(g.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (g *jsonGetter) calculateBackoff(attempt int) time.Duration {
	delay := float64(g.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(g.retryMaxDelay) {
		delay = float64(g.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "http request failed")
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
