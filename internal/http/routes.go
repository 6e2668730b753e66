package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/typhoon-alert-service/internal/observability"
)

// NewRouter wires every route. Routes that reach LINE are rate limited;
// /api routes carry requestTimeout.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(RecoverMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	router.Handle("/webhook", RateLimitMiddleware(limiter)(http.HandlerFunc(h.PostWebhook))).Methods("POST")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(TimeoutMiddleware(requestTimeout))
	api.HandleFunc("/status", h.GetStatus).Methods("GET")
	api.HandleFunc("/raw-data", h.GetRawData).Methods("GET")
	api.HandleFunc("/recipients", h.GetRecipients).Methods("GET")

	notify := api.PathPrefix("/notify").Subrouter()
	notify.Use(RateLimitMiddleware(limiter))
	notify.HandleFunc("/test", h.PostTestNotification).Methods("POST")
	return router
}
