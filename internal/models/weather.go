package models

import "time"

// WeatherRecord is one forecast window for a region.
type WeatherRecord struct {
	Region          string    `json:"region"`
	Phenomenon      string    `json:"phenomenon"`
	RainProbability *int      `json:"rainProbability,omitempty"` // percent
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
}

// AlertRecord is an official weather alert issued for a region.
type AlertRecord struct {
	Region       string    `json:"region"`
	Phenomenon   string    `json:"phenomenon"`
	Significance string    `json:"significance,omitempty"`
	EffectiveAt  time.Time `json:"effectiveAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Active reports whether the alert is in force at t. Zero bounds are open.
func (a AlertRecord) Active(t time.Time) bool {
	if !a.ExpiresAt.IsZero() && t.After(a.ExpiresAt) {
		return false
	}
	return true
}

// FlightState is the operational state of a flight.
type FlightState string

const (
	FlightScheduled FlightState = "scheduled"
	FlightDelayed   FlightState = "delayed"
	FlightCancelled FlightState = "cancelled"
)

// FlightStatus is a real-time flight record, only present when airport monitoring is enabled.
type FlightStatus struct {
	Flight       string      `json:"flight"`
	State        FlightState `json:"state"`
	DelayMinutes int         `json:"delayMinutes,omitempty"`
}
