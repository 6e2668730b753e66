package cyclone

import (
	"math"
	"strconv"
	"time"

	"github.com/kjstillabower/typhoon-alert-service/internal/models"
)

// Threat radii in km.
const (
	DirectRadiusKM = 200.0
	CloseRadiusKM  = 400.0
	RangeKM        = 600.0
)

const (
	defaultStep    = 15 * time.Minute
	defaultHorizon = 120 * time.Hour
	// forecastHorizon bounds which official forecast points are considered.
	forecastHorizon = 72.0
)

// Hours is a duration estimate in hours that may be unknown.
type Hours struct {
	Value float64
	Known bool
}

// KnownHours returns a known estimate.
func KnownHours(v float64) Hours { return Hours{Value: v, Known: true} }

func (h Hours) String() string {
	if !h.Known {
		return "unknown"
	}
	return strconv.FormatFloat(math.Round(h.Value), 'f', 0, 64)
}

func (h Hours) MarshalJSON() ([]byte, error) {
	if !h.Known {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(h.Value, 'f', 2, 64)), nil
}

// Tier classifies a distance into a threat band.
type Tier string

const (
	TierNone     Tier = "none"
	TierIndirect Tier = "indirect"
	TierModerate Tier = "moderate"
	TierDirect   Tier = "direct"
)

// TierFor returns the band a distance falls into.
func TierFor(distanceKM float64) Tier {
	switch {
	case distanceKM <= DirectRadiusKM:
		return TierDirect
	case distanceKM <= CloseRadiusKM:
		return TierModerate
	case distanceKM <= RangeKM:
		return TierIndirect
	default:
		return TierNone
	}
}

// Threat is the geographic relation of a cyclone's latest fix to a region.
type Threat struct {
	DistanceKM float64 `json:"distanceKm"`
	Approach   Hours   `json:"approachHours"`
	InRange    bool    `json:"inRange"`
	// HasFix is false when the track was empty; DistanceKM is then meaningless.
	HasFix bool `json:"hasFix"`
}

// Tier returns the distance band of the threat.
func (t Threat) Tier() Tier {
	if !t.HasFix {
		return TierNone
	}
	return TierFor(t.DistanceKM)
}

// Evaluator computes distance, range and approach time of a track against a region.
type Evaluator struct {
	step    time.Duration
	horizon time.Duration
}

// NewEvaluator returns an Evaluator projecting in 15 minute steps over 120 hours.
func NewEvaluator() *Evaluator {
	return &Evaluator{step: defaultStep, horizon: defaultHorizon}
}

// Evaluate measures the latest fix of track against region. The approach
// time projects the fix along its heading at its ground speed until it comes
// within CloseRadiusKM; it is unknown when heading or speed is missing, speed
// is zero, or no crossing happens within the horizon.
func (e *Evaluator) Evaluate(track []models.CycloneFix, region Coordinate) Threat {
	if len(track) == 0 {
		return Threat{}
	}
	latest := track[len(track)-1]
	pos := Coordinate{Lat: latest.Lat, Lon: latest.Lon}
	dist := DistanceKM(pos, region)

	threat := Threat{
		DistanceKM: dist,
		InRange:    dist <= RangeKM,
		HasFix:     true,
	}
	if dist <= CloseRadiusKM {
		threat.Approach = KnownHours(0)
		return threat
	}
	if latest.Heading == nil || latest.SpeedKMH == nil || *latest.SpeedKMH <= 0 {
		return threat
	}

	stepHours := e.step.Hours()
	for h := stepHours; h <= e.horizon.Hours(); h += stepHours {
		p := Destination(pos, *latest.Heading, *latest.SpeedKMH*h)
		if DistanceKM(p, region) <= CloseRadiusKM {
			threat.Approach = KnownHours(h)
			break
		}
	}
	return threat
}

// Window is the official-forecast estimate of when a cyclone enters and
// leaves the close radius of a region, in hours after the analysis time.
type Window struct {
	Approach   Hours   `json:"approach"`
	Depart     Hours   `json:"depart"`
	ClosestKM  float64 `json:"closestKm"`
	ClosestTau float64 `json:"closestTau"`
}

// Affects reports whether the forecast brings the cyclone into range at all.
func (w Window) Affects() bool {
	return w.Approach.Known
}

// ForecastWindow derives approach and depart times from official forecast
// points up to 72 hours ahead. The first point inside CloseRadiusKM is the
// approach; the first later point outside is the departure, or the last
// inside point plus 12 hours. When nothing is inside but the closest point
// is within RangeKM, that point approaches and departs 6 hours later.
func ForecastWindow(forecast []models.ForecastFix, region Coordinate) Window {
	w := Window{ClosestKM: math.Inf(1)}
	var lastInside float64
	inside := false
	for _, f := range forecast {
		if f.TauHours > forecastHorizon {
			continue
		}
		d := DistanceKM(Coordinate{Lat: f.Lat, Lon: f.Lon}, region)
		if d < w.ClosestKM {
			w.ClosestKM = d
			w.ClosestTau = f.TauHours
		}
		if d <= CloseRadiusKM {
			if !w.Approach.Known {
				w.Approach = KnownHours(f.TauHours)
			}
			inside = true
			lastInside = f.TauHours
			continue
		}
		if inside && !w.Depart.Known {
			w.Depart = KnownHours(f.TauHours)
		}
	}

	switch {
	case w.Approach.Known && !w.Depart.Known:
		w.Depart = KnownHours(lastInside + 12)
	case !w.Approach.Known && w.ClosestKM <= RangeKM:
		w.Approach = KnownHours(w.ClosestTau)
		w.Depart = KnownHours(w.ClosestTau + 6)
	}
	return w
}
