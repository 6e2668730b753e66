package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/typhoon-alert-service/internal/degraded"
	"github.com/kjstillabower/typhoon-alert-service/internal/lifecycle"
	"github.com/kjstillabower/typhoon-alert-service/internal/line"
	"github.com/kjstillabower/typhoon-alert-service/internal/models"
	"github.com/kjstillabower/typhoon-alert-service/internal/notify"
	"github.com/kjstillabower/typhoon-alert-service/internal/observability"
	"github.com/kjstillabower/typhoon-alert-service/internal/recipients"
)

// maxWebhookBody bounds the webhook payload read into memory.
const maxWebhookBody = 1 << 20

// StatusProvider is the read side of the monitoring loop.
type StatusProvider interface {
	CurrentStatus() (models.StatusResult, bool)
	RawSnapshot() (models.MonitoringSnapshot, bool)
	NotifyCurrent(ctx context.Context, ch notify.Channel) notify.Outcome
	SendTest(ctx context.Context) notify.Outcome
}

// ReplyFactory returns a channel answering one webhook reply token.
type ReplyFactory func(replyToken string) notify.Channel

// HandlerConfig holds webhook and health settings.
type HandlerConfig struct {
	ChannelSecret string
	StatusKeyword string
	// Health, when set, reports degraded once the fetch error rate breaches its threshold.
	Health *degraded.Tracker
	// RecipientsPing, when set, is called to check recipient store reachability.
	RecipientsPing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	status           StatusProvider
	recipients       recipients.Store
	reply            ReplyFactory
	cfg              HandlerConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	status StatusProvider,
	store recipients.Store,
	reply ReplyFactory,
	cfg HandlerConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		status:     status,
		recipients: store,
		reply:      reply,
		cfg:        cfg,
		logger:     logger,
	}
}

// GetStatus handles GET /api/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	result, ok := h.status.CurrentStatus()
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, "NOT_READY", "first monitoring cycle has not completed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetRawData handles GET /api/raw-data.
func (h *Handler) GetRawData(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.status.RawSnapshot()
	if !ok {
		writeError(w, r, http.StatusServiceUnavailable, "NOT_READY", "first monitoring cycle has not completed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetRecipients handles GET /api/recipients.
func (h *Handler) GetRecipients(w http.ResponseWriter, r *http.Request) {
	ids, err := h.recipients.List(r.Context())
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "RECIPIENTS_UNAVAILABLE", "Unable to list recipients")
		loggerFrom(r.Context(), h.logger).Warn("list recipients failed", zap.Error(err))
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(ids),
		"recipients": ids,
	})
}

// PostTestNotification handles POST /api/notify/test.
func (h *Handler) PostTestNotification(w http.ResponseWriter, r *http.Request) {
	out := h.status.SendTest(r.Context())
	if !out.Delivered() {
		writeError(w, r, http.StatusBadGateway, "DELIVERY_FAILED", "Test notification was not delivered")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"mode": string(out.Mode),
	})
}

// PostWebhook handles POST /webhook. Every event source is registered as a
// recipient; a text message equal to the status keyword is answered with
// the current status. LINE only needs a 200 once the signature is valid.
func (h *Handler) PostWebhook(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "unable to read request body")
		return
	}
	if !line.VerifySignature(h.cfg.ChannelSecret, body, r.Header.Get(line.SignatureHeader)) {
		observability.WebhookEventsTotal.WithLabelValues("invalid_signature").Inc()
		logger.Warn("webhook signature rejected")
		writeError(w, r, http.StatusBadRequest, "INVALID_SIGNATURE", "signature verification failed")
		return
	}
	evs, err := line.ParseEvents(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "malformed webhook payload")
		return
	}

	for _, ev := range evs {
		observability.WebhookEventsTotal.WithLabelValues(eventKind(ev.Type)).Inc()
		h.register(r.Context(), logger, ev)
		if ev.IsText() && strings.TrimSpace(ev.Message.Text) == h.cfg.StatusKeyword && ev.ReplyToken != "" {
			out := h.status.NotifyCurrent(r.Context(), h.reply(ev.ReplyToken))
			logger.Info("status query answered",
				zap.String("mode", string(out.Mode)),
				zap.Bool("delivered", out.Delivered()),
			)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (h *Handler) register(ctx context.Context, logger *zap.Logger, ev line.Event) {
	id := ev.Source.ID()
	if id == "" || ev.Type == "unfollow" || ev.Type == "leave" {
		return
	}
	added, err := h.recipients.Add(ctx, id)
	if err != nil {
		logger.Warn("register recipient failed", zap.Error(err))
		return
	}
	if added {
		logger.Info("recipient registered", zap.String("source_type", ev.Source.Type))
	}
}

func eventKind(t string) string {
	switch t {
	case "message", "follow", "unfollow", "join", "leave", "postback":
		return t
	}
	return "other"
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "error_rate_breach" {
		checks["cwa"] = "unhealthy"
	} else {
		checks["cwa"] = "healthy"
	}
	if h.cfg.RecipientsPing != nil {
		if h.cfg.RecipientsPing() == nil {
			checks["recipients"] = "healthy"
		} else {
			checks["recipients"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "typhoon-alert-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if !lifecycle.IsReady() {
		return healthResult{"starting", http.StatusServiceUnavailable, "first_cycle_pending"}
	}
	if h.cfg.Health != nil && h.cfg.Health.Degraded() {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": CorrelationID(r.Context()),
		},
	})
}
