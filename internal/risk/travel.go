package risk

import (
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/typhoon-alert-service/internal/cyclone"
	"github.com/kjstillabower/typhoon-alert-service/internal/models"
)

// FlightDelayThreshold is the delay in minutes above which a flight counts as disrupted.
const FlightDelayThreshold = 30

// TravelRiskAssessment scores the flight out of the travel region.
// With AirportEnabled the real-time flight feed is folded in; otherwise
// the result is weather-only and says so.
type TravelRiskAssessment struct {
	Region         cyclone.Region
	AirportEnabled bool
	Evaluator      *cyclone.Evaluator
	// Clock supplies the assessment time when a snapshot carries none.
	Clock          clockwork.Clock
}

// NewTravelRiskAssessment returns a travel assessor for region.
func NewTravelRiskAssessment(region cyclone.Region, airportEnabled bool, ev *cyclone.Evaluator) *TravelRiskAssessment {
	if ev == nil {
		ev = cyclone.NewEvaluator()
	}
	return &TravelRiskAssessment{Region: region, AirportEnabled: airportEnabled, Evaluator: ev, Clock: clockwork.NewRealClock()}
}

func (a *TravelRiskAssessment) Assess(snap models.MonitoringSnapshot) models.Assessment {
	relevant := []models.DataCategory{models.CategoryWeather, models.CategoryAlerts, models.CategoryTyphoons}
	if a.AirportEnabled {
		relevant = append(relevant, models.CategoryFlights)
	}
	in := slice(snap, a.Region, a.Evaluator, a.Clock, relevant...)

	var caveats []string
	if !a.AirportEnabled {
		caveats = append(caveats, AirportCaveat)
	}
	if c := partialCaveat(in.stale); c != "" {
		caveats = append(caveats, c)
	}

	if !in.anyKnown {
		return models.Assessment{
			Level:       models.RiskUnknown,
			Explanation: explain(models.RiskUnknown, "no data available", caveats),
		}
	}

	var fs findings
	if a.AirportEnabled {
		for _, f := range in.flights {
			switch {
			case f.State == models.FlightCancelled:
				fs.add(models.RiskHigh, fmt.Sprintf("flight %s cancelled", f.Flight))
			case f.DelayMinutes > FlightDelayThreshold:
				fs.add(models.RiskMedium, fmt.Sprintf("flight %s delayed %d min", f.Flight, f.DelayMinutes))
			}
		}
	}
	in.windFindings(&fs, "within range, consider rescheduling", "within range, flights may be delayed")
	for _, al := range in.alerts {
		if _, ok := matchKeyword(al.Phenomenon, typhoonKeywords); ok {
			fs.add(models.RiskHigh, fmt.Sprintf("%s alert in effect, consider rescheduling", al.Phenomenon))
			continue
		}
		if _, ok := matchKeyword(al.Phenomenon, strongWindKeywords); ok {
			fs.add(models.RiskMedium, fmt.Sprintf("%s alert in effect, monitor closely", al.Phenomenon))
		}
	}
	in.forecastFindings(&fs)

	top, ok := fs.top()
	if !ok {
		return models.Assessment{
			Level:       models.RiskLow,
			Explanation: explain(models.RiskLow, "no significant weather risk", caveats),
		}
	}
	return models.Assessment{Level: top.level, Explanation: explain(top.level, top.reason, caveats)}
}
