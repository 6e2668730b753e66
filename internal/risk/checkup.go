package risk

import (
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/typhoon-alert-service/internal/cyclone"
	"github.com/kjstillabower/typhoon-alert-service/internal/models"
)

// CheckupRiskAssessment scores the medical checkup in the checkup region.
// Cyclone-driven signals only count while a cyclone is in range of the region;
// the distance band of the nearest cyclone adds its own escalation.
type CheckupRiskAssessment struct {
	Region    cyclone.Region
	Evaluator *cyclone.Evaluator
	Clock     clockwork.Clock
}

// NewCheckupRiskAssessment returns a checkup assessor for region.
func NewCheckupRiskAssessment(region cyclone.Region, ev *cyclone.Evaluator) *CheckupRiskAssessment {
	if ev == nil {
		ev = cyclone.NewEvaluator()
	}
	return &CheckupRiskAssessment{Region: region, Evaluator: ev, Clock: clockwork.NewRealClock()}
}

func (a *CheckupRiskAssessment) Assess(snap models.MonitoringSnapshot) models.Assessment {
	in := slice(snap, a.Region, a.Evaluator, a.Clock, models.CategoryWeather, models.CategoryAlerts, models.CategoryTyphoons)

	var caveats []string
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
	inRange := in.anyInRange()

	for _, al := range in.alerts {
		if _, ok := matchKeyword(al.Phenomenon, typhoonKeywords); ok {
			if inRange {
				fs.add(models.RiskHigh, fmt.Sprintf("%s alert, possible work and school suspension", al.Phenomenon))
			}
			continue
		}
		if _, ok := matchKeyword(al.Phenomenon, strongWindKeywords); ok {
			fs.add(models.RiskMedium, fmt.Sprintf("%s alert, traffic may be affected", al.Phenomenon))
			continue
		}
		if _, ok := matchKeyword(al.Phenomenon, heavyRainKeywords); ok {
			fs.add(models.RiskMedium, fmt.Sprintf("%s alert, traffic may be affected", al.Phenomenon))
		}
	}

	in.windFindings(&fs, "within range, possible work and school suspension", "within range, traffic may be affected")

	if nearest, ok := a.nearest(in); ok {
		detail := fmt.Sprintf("%s %.0f km from %s, %s threat", nearest.name, nearest.threat.DistanceKM, a.Region.Name, nearest.threat.Tier())
		switch nearest.threat.Tier() {
		case cyclone.TierDirect:
			fs.addDetail(models.RiskHigh, "typhoon geographic threat", detail)
		case cyclone.TierModerate:
			fs.addDetail(models.RiskMedium, "indirect typhoon threat", detail)
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
	reason := top.reason
	if d := a.detail(fs, top); d != "" {
		reason += " (detail: " + d + ")"
	}
	return models.Assessment{Level: top.level, Explanation: explain(top.level, reason, caveats)}
}

func (a *CheckupRiskAssessment) nearest(in inputs) (regionThreat, bool) {
	var best regionThreat
	found := false
	for _, t := range in.threats {
		if !t.threat.InRange {
			continue
		}
		if !found || t.threat.DistanceKM < best.threat.DistanceKM {
			best = t
			found = true
		}
	}
	return best, found
}

// detail returns the geographic detail to attach to the winning finding.
func (a *CheckupRiskAssessment) detail(fs findings, top finding) string {
	if top.detail != "" {
		return top.detail
	}
	for _, f := range fs {
		if f.detail != "" && f.level == top.level {
			return f.detail
		}
	}
	return ""
}
