// Package events publishes status-change events to an optional message bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kjstillabower/typhoon-alert-service/internal/models"
	"github.com/kjstillabower/typhoon-alert-service/internal/observability"
)

// StatusChange is emitted once per detected change of the overall status.
type StatusChange struct {
	ID           string            `json:"id"`
	From         models.Status     `json:"from,omitempty"`
	To           models.Status     `json:"to"`
	Initial      bool              `json:"initial"`
	Travel       models.Assessment `json:"travelRisk"`
	Checkup      models.Assessment `json:"checkupRisk"`
	Warnings     []string          `json:"warnings"`
	DeliveryMode string            `json:"deliveryMode"`
	Delivered    bool              `json:"delivered"`
	OccurredAt   time.Time         `json:"occurredAt"`
}

// Publisher delivers status-change events. Failures never affect notification.
type Publisher interface {
	Publish(ctx context.Context, ev StatusChange) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, StatusChange) error { return nil }
func (Nop) Close() error                                 { return nil }

func encode(ev StatusChange) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("serialize status change: %w", err)
	}
	return data, nil
}

func record(backend string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.EventsPublishedTotal.WithLabelValues(backend, status).Inc()
}
