// Package risk turns a monitoring snapshot into per-activity risk assessments.
package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/typhoon-alert-service/internal/cyclone"
	"github.com/kjstillabower/typhoon-alert-service/internal/models"
)

// AirportCaveat qualifies travel explanations while real-time airport data is off.
const AirportCaveat = "based on forecast, real-time airport monitoring disabled"

// Wind thresholds in km/h.
const (
	HighWindKMH   = 80.0
	MediumWindKMH = 60.0
)

// ForecastLookahead is how far ahead forecast keywords raise the risk.
const ForecastLookahead = 36 * time.Hour

// Keyword sets match the English vocabulary and the CWA feed's own terms.
var (
	typhoonKeywords    = []string{"typhoon", "颱風"}
	strongWindKeywords = []string{"strong wind", "強風", "暴風"}
	heavyRainKeywords  = []string{"heavy rain", "torrential rain", "豪雨", "大雨"}
	forecastKeywords   = []string{"typhoon", "storm", "heavy rain", "torrential rain", "颱風", "暴風", "豪雨", "大雨"}
)

// Assessor scores one activity from a full snapshot.
type Assessor interface {
	Assess(snap models.MonitoringSnapshot) models.Assessment
}

// Overall is DANGER when any level is MEDIUM or above.
func Overall(levels ...models.RiskLevel) models.Status {
	for _, l := range levels {
		if l.Elevated() {
			return models.StatusDanger
		}
	}
	return models.StatusSafe
}

// MatchForecast returns the severe-weather keyword forecast text mentions, if any.
func MatchForecast(text string) (string, bool) {
	return matchKeyword(text, forecastKeywords)
}

// IsTyphoonAlert reports whether an alert phenomenon is typhoon related.
func IsTyphoonAlert(phenomenon string) bool {
	_, ok := matchKeyword(phenomenon, typhoonKeywords)
	return ok
}

// matchKeyword returns the first keyword contained in text, case-insensitively.
func matchKeyword(text string, keywords []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}

type finding struct {
	level  models.RiskLevel
	reason string
	detail string
}

// findings collects rule hits; the first hit at the highest level explains the result.
type findings []finding

func (fs *findings) add(level models.RiskLevel, reason string) {
	*fs = append(*fs, finding{level: level, reason: reason})
}

func (fs *findings) addDetail(level models.RiskLevel, reason, detail string) {
	*fs = append(*fs, finding{level: level, reason: reason, detail: detail})
}

func (fs findings) top() (finding, bool) {
	var best finding
	found := false
	for _, f := range fs {
		if !found || f.level > best.level {
			best = f
			found = true
		}
	}
	return best, found
}

// inputs is the part of a snapshot that concerns one region.
type inputs struct {
	now      time.Time
	weather  []models.WeatherRecord
	alerts   []models.AlertRecord
	threats  []regionThreat
	flights  []models.FlightStatus
	stale    []models.DataCategory
	anyKnown bool
}

type regionThreat struct {
	name   string
	fix    models.CycloneFix
	threat cyclone.Threat
}

// slice extracts what the assessors need for region. relevant lists the
// categories the caller depends on; availability is judged only on those.
func slice(snap models.MonitoringSnapshot, region cyclone.Region, ev *cyclone.Evaluator, clock clockwork.Clock, relevant ...models.DataCategory) inputs {
	in := inputs{now: snap.Timestamp}
	if in.now.IsZero() {
		if clock == nil {
			clock = clockwork.NewRealClock()
		}
		in.now = clock.Now()
	}

	for _, c := range relevant {
		if snap.Available(c, region.Name) {
			in.anyKnown = true
		} else {
			in.stale = append(in.stale, c)
		}
	}

	for key, recs := range snap.Weather {
		if cyclone.SameRegion(key, region.Name) {
			in.weather = append(in.weather, recs...)
		}
	}
	for key, recs := range snap.Alerts {
		if !cyclone.SameRegion(key, region.Name) {
			continue
		}
		for _, a := range recs {
			if a.Active(in.now) {
				in.alerts = append(in.alerts, a)
			}
		}
	}
	for _, track := range snap.Cyclones {
		fix, ok := track.Latest()
		if !ok {
			continue
		}
		in.threats = append(in.threats, regionThreat{
			name:   cyclone.ResolveName(track.Identity),
			fix:    fix,
			threat: ev.Evaluate(track.Fixes, region.Position),
		})
	}
	in.flights = snap.Flights
	return in
}

func (in inputs) anyInRange() bool {
	for _, t := range in.threats {
		if t.threat.InRange {
			return true
		}
	}
	return false
}

// windFindings scores in-range cyclones by sustained wind.
func (in inputs) windFindings(fs *findings, highReason, mediumReason string) {
	for _, t := range in.threats {
		if !t.threat.InRange {
			continue
		}
		kmh := t.fix.MaxWindKMH()
		switch {
		case kmh > HighWindKMH:
			fs.add(models.RiskHigh, fmt.Sprintf("%s %s (%.0f km/h winds, %.0f km away)", t.name, highReason, kmh, t.threat.DistanceKM))
		case kmh > MediumWindKMH:
			fs.add(models.RiskMedium, fmt.Sprintf("%s %s (%.0f km/h winds, %.0f km away)", t.name, mediumReason, kmh, t.threat.DistanceKM))
		}
	}
}

// forecastFindings raises to MEDIUM when a forecast window starting within
// ForecastLookahead mentions severe weather.
func (in inputs) forecastFindings(fs *findings) {
	limit := in.now.Add(ForecastLookahead)
	for _, w := range in.weather {
		if w.Start.After(limit) {
			continue
		}
		if !w.End.IsZero() && !w.End.After(in.now) {
			continue
		}
		if kw, ok := matchKeyword(w.Phenomenon, forecastKeywords); ok {
			fs.add(models.RiskMedium, fmt.Sprintf("forecast mentions %s, keep monitoring", kw))
			return
		}
	}
}

func explain(level models.RiskLevel, reason string, caveats []string) string {
	var b strings.Builder
	b.WriteString(level.String())
	b.WriteString(" risk - ")
	b.WriteString(reason)
	for _, c := range caveats {
		b.WriteString(" - ")
		b.WriteString(c)
	}
	return b.String()
}

func partialCaveat(stale []models.DataCategory) string {
	if len(stale) == 0 {
		return ""
	}
	names := make([]string, len(stale))
	for i, c := range stale {
		names[i] = string(c)
	}
	return "partial data: " + strings.Join(names, ", ") + " unavailable"
}
