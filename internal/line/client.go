// Package line talks to the LINE Messaging API: push and reply delivery plus
// webhook parsing and signature verification.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kjstillabower/typhoon-alert-service/internal/circuitbreaker"
	"github.com/kjstillabower/typhoon-alert-service/internal/notify"
	"github.com/kjstillabower/typhoon-alert-service/internal/observability"
)

const DefaultAPIURL = "https://api.line.me"

var (
	// ErrInvalidReplyToken means the reply token expired or was already used.
	ErrInvalidReplyToken = fmt.Errorf("invalid reply token: %w", notify.ErrTerminal)
	// ErrRejected means LINE permanently refused the request.
	ErrRejected = fmt.Errorf("request rejected: %w", notify.ErrTerminal)
	// ErrUpstreamFailure covers 429, 5xx, open circuit and network errors.
	ErrUpstreamFailure = errors.New("messaging upstream failure")
	ErrMissingToken    = errors.New("channel access token is required")
)

// Client sends messages through the LINE Messaging API.
type Client struct {
	accessToken string
	apiURL      string
	client      *http.Client
	breaker     *circuitbreaker.CircuitBreaker
}

// Config configures a Client. Breaker is optional.
type Config struct {
	AccessToken string
	APIURL      string
	Timeout     time.Duration
	Breaker     *circuitbreaker.CircuitBreaker
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, ErrMissingToken
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		accessToken: cfg.AccessToken,
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		client:      &http.Client{Timeout: cfg.Timeout},
		breaker:     cfg.Breaker,
	}, nil
}

// TextMessage is a plain-text LINE message.
type TextMessage struct {
	Text string
}

func (m TextMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{"text", m.Text})
}

// Push sends messages to one user or group.
func (c *Client) Push(ctx context.Context, to string, messages ...any) error {
	payload := map[string]any{"to": to, "messages": messages}
	return c.call(ctx, "/v2/bot/message/push", payload, true)
}

// Reply answers a webhook event. Reply tokens are single use.
func (c *Client) Reply(ctx context.Context, replyToken string, messages ...any) error {
	payload := map[string]any{"replyToken": replyToken, "messages": messages}
	return c.call(ctx, "/v2/bot/message/reply", payload, false)
}

func (c *Client) call(ctx context.Context, path string, payload any, retryKey bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", ErrRejected, err)
	}

	do := func() error { return c.post(ctx, path, body, retryKey) }
	if c.breaker == nil {
		return do()
	}
	err = c.breaker.Call(ctx, do)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
	}
	return err
}

func (c *Client) post(ctx context.Context, path string, body []byte, retryKey bool) error {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if retryKey {
		req.Header.Set("X-Line-Retry-Key", uuid.NewString())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues("line", "error").Inc()
		observability.UpstreamDuration.WithLabelValues("line", "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues("line", status).Inc()
	observability.UpstreamDuration.WithLabelValues("line", status).Observe(time.Since(start).Seconds())

	return mapResponse(resp)
}

type apiError struct {
	Message string `json:"message"`
}

func mapResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiError
	_ = json.Unmarshal(raw, &apiErr)

	switch {
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "invalid reply token"):
		return ErrInvalidReplyToken
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d %s", ErrUpstreamFailure, resp.StatusCode, apiErr.Message)
	default:
		return fmt.Errorf("%w: HTTP %d %s", ErrRejected, resp.StatusCode, apiErr.Message)
	}
}

// IsUpstreamFault reports whether err should count against the LINE circuit breaker.
func IsUpstreamFault(err error) bool {
	return err != nil && !errors.Is(err, notify.ErrTerminal)
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}
