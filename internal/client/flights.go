package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kjstillabower/typhoon-alert-service/internal/circuitbreaker"
	"github.com/kjstillabower/typhoon-alert-service/internal/models"
)

// FlightClient reads a JSON departure board for the travel airport. Only
// constructed when airport monitoring is enabled.
type FlightClient struct {
	getter  *jsonGetter
	path    string
	flights map[string]bool
}

// NewFlightClient reads from feedURL. When flights is non-empty only those
// flight numbers are returned.
func NewFlightClient(feedURL string, flights []string, opts Options) (*FlightClient, error) {
	u, err := url.Parse(feedURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid flight feed URL %q", feedURL)
	}
	opts.BaseURL = u.Scheme + "://" + u.Host
	opts.applyDefaults()

	c := &FlightClient{getter: newJSONGetter("flights", opts), path: u.Path}
	if len(flights) > 0 {
		c.flights = make(map[string]bool, len(flights))
		for _, f := range flights {
			c.flights[normalizeFlight(f)] = true
		}
	}
	return c, nil
}

// SetCircuitBreaker enables the breaker for feed calls.
func (c *FlightClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.getter.breaker = cb
}

type flightFeed struct {
	Flights []struct {
		FlightNo     string    `json:"flightNo"`
		Status       string    `json:"status"`
		DelayMinutes flexFloat `json:"delayMinutes"`
	} `json:"flights"`
}

func (c *FlightClient) FetchFlights(ctx context.Context) ([]models.FlightStatus, error) {
	var feed flightFeed
	if err := c.getter.get(ctx, c.path, url.Values{}, &feed); err != nil {
		return nil, err
	}

	var out []models.FlightStatus
	for _, f := range feed.Flights {
		no := normalizeFlight(f.FlightNo)
		if no == "" || (c.flights != nil && !c.flights[no]) {
			continue
		}
		st := models.FlightStatus{Flight: no, State: parseFlightState(f.Status)}
		if f.DelayMinutes.Valid && f.DelayMinutes.Value > 0 {
			st.DelayMinutes = int(f.DelayMinutes.Value)
			if st.State == models.FlightScheduled {
				st.State = models.FlightDelayed
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func parseFlightState(s string) models.FlightState {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(s, "cancel"), strings.Contains(s, "取消"):
		return models.FlightCancelled
	case strings.Contains(s, "delay"), strings.Contains(s, "延"):
		return models.FlightDelayed
	}
	return models.FlightScheduled
}

func normalizeFlight(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}
