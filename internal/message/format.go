// Package message renders monitoring results as warning strings, rich cards
// and plain text.
package message

import (
	"fmt"
	"time"

	"github.com/kjstillabower/typhoon-alert-service/internal/cyclone"
)

// Unknown is printed for any measurement the feeds did not provide.
const Unknown = "unknown"

// DisplayZone is Taiwan local time, used for every rendered timestamp.
var DisplayZone = time.FixedZone("CST", 8*60*60)

// CycloneCurrentParams describes a cyclone's present intensity relative to a region.
type CycloneCurrentParams struct {
	Name       string
	WindMS     float64
	WindKMH    float64
	Tier       cyclone.Tier
	Region     string
	DistanceKM *float64
}

// CycloneCurrent formats the present-intensity warning.
func CycloneCurrent(p CycloneCurrentParams) string {
	s := fmt.Sprintf("🌀 %s max wind %s m/s (%.1f km/h) - %s threat", p.Name, trimFloat(p.WindMS), p.WindKMH, p.Tier)
	if p.DistanceKM != nil {
		s += fmt.Sprintf(", %.0f km from %s", *p.DistanceKM, p.Region)
	}
	return s
}

// CycloneApproachParams describes when a cyclone reaches a region.
type CycloneApproachParams struct {
	Name       string
	Region     string
	DistanceKM float64
	Hours      cyclone.Hours
}

// CycloneApproach formats the projected approach warning.
func CycloneApproach(p CycloneApproachParams) string {
	if !p.Hours.Known {
		return fmt.Sprintf("📍 %s (%.0f km from %s) approach time %s", p.Name, p.DistanceKM, p.Region, Unknown)
	}
	return fmt.Sprintf("📍 %s (%.0f km from %s) approaching in %s hours", p.Name, p.DistanceKM, p.Region, p.Hours)
}

// CycloneWindowParams is an official-forecast impact window for a region.
type CycloneWindowParams struct {
	Name     string
	Region   string
	Base     time.Time
	Approach cyclone.Hours
	Depart   cyclone.Hours
}

// CycloneWindow formats the forecast impact window.
func CycloneWindow(p CycloneWindowParams) string {
	return fmt.Sprintf("📊 %s impact window for %s: approach %s, depart %s",
		p.Name, p.Region, offsetTime(p.Base, p.Approach), offsetTime(p.Base, p.Depart))
}

// AlertParams is an official weather alert.
type AlertParams struct {
	Region       string
	Phenomenon   string
	Significance string
}

// Alert formats an official alert.
func Alert(p AlertParams) string {
	if p.Significance == "" {
		return fmt.Sprintf("⚠️ %s: %s", p.Region, p.Phenomenon)
	}
	return fmt.Sprintf("⚠️ %s: %s %s", p.Region, p.Phenomenon, p.Significance)
}

// ForecastParams is a forecast window that matched a severe-weather keyword.
type ForecastParams struct {
	Region          string
	Start           time.Time
	Description     string
	RainProbability *int
}

// Forecast formats a forecast hit.
func Forecast(p ForecastParams) string {
	rain := Unknown
	if p.RainProbability != nil {
		rain = fmt.Sprintf("%d%%", *p.RainProbability)
	}
	return fmt.Sprintf("🌧️ %s %s: %s (rain %s)", p.Region, formatTime(p.Start), p.Description, rain)
}

func offsetTime(base time.Time, h cyclone.Hours) string {
	if !h.Known {
		return Unknown
	}
	if base.IsZero() {
		return fmt.Sprintf("+%sh", h)
	}
	at := base.Add(time.Duration(h.Value * float64(time.Hour)))
	return fmt.Sprintf("%s (+%sh)", formatTime(at), h)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return Unknown
	}
	return t.In(DisplayZone).Format("01/02 15:04")
}

func trimFloat(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}

func optional(v *float64, unit string) string {
	if v == nil {
		return Unknown
	}
	return fmt.Sprintf("%s %s", trimFloat(*v), unit)
}
