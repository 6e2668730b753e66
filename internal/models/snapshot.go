package models

import "time"

// DataCategory names one collaborator feed.
type DataCategory string

const (
	CategoryWeather  DataCategory = "weather"
	CategoryAlerts   DataCategory = "alerts"
	CategoryTyphoons DataCategory = "typhoons"
	CategoryFlights  DataCategory = "flights"
)

// StaleSource records a feed that could not be fetched this cycle.
// Region is empty for feeds that are not per-region.
type StaleSource struct {
	Category DataCategory `json:"category"`
	Region   string       `json:"region,omitempty"`
	Reason   string       `json:"reason"`
}

// MonitoringSnapshot is the immutable set of collaborator data for one cycle.
type MonitoringSnapshot struct {
	Timestamp time.Time                  `json:"timestamp"`
	Weather   map[string][]WeatherRecord `json:"weather"`
	Cyclones  []CycloneTrack             `json:"typhoons"`
	Alerts    map[string][]AlertRecord   `json:"alerts"`
	Flights   []FlightStatus             `json:"flights,omitempty"`
	Stale     []StaleSource              `json:"stale,omitempty"`
}

// Available reports whether category data for region was fetched this cycle.
// A category-wide failure (empty Region) covers every region.
func (s MonitoringSnapshot) Available(category DataCategory, region string) bool {
	for _, st := range s.Stale {
		if st.Category != category {
			continue
		}
		if st.Region == "" || st.Region == region {
			return false
		}
	}
	return true
}

// StaleCategories returns the distinct stale categories, in first-seen order.
func (s MonitoringSnapshot) StaleCategories() []DataCategory {
	seen := make(map[DataCategory]bool)
	var out []DataCategory
	for _, st := range s.Stale {
		if !seen[st.Category] {
			seen[st.Category] = true
			out = append(out, st.Category)
		}
	}
	return out
}
