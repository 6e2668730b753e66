package monitor

import (
	"math"
	"sort"

	"github.com/kjstillabower/typhoon-alert-service/internal/cyclone"
	"github.com/kjstillabower/typhoon-alert-service/internal/message"
	"github.com/kjstillabower/typhoon-alert-service/internal/models"
	"github.com/kjstillabower/typhoon-alert-service/internal/risk"
)

type cycloneWarnings struct {
	nearestKM float64
	lines     []string
}

// buildWarnings lists what a recipient should know, most relevant first:
// cyclones affecting a monitored region ordered by distance (present
// intensity, projected approach, forecast window), then active alerts with
// typhoon alerts first, then severe forecast windows by start time.
// Duplicates are dropped.
func buildWarnings(snap models.MonitoringSnapshot, regions []cyclone.Region, ev *cyclone.Evaluator) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, cw := range cycloneLines(snap, regions, ev) {
		for _, l := range cw.lines {
			add(l)
		}
	}
	for _, l := range alertLines(snap, regions) {
		add(l)
	}
	for _, l := range forecastLines(snap, regions) {
		add(l)
	}
	return out
}

func cycloneLines(snap models.MonitoringSnapshot, regions []cyclone.Region, ev *cyclone.Evaluator) []cycloneWarnings {
	var all []cycloneWarnings
	for _, track := range snap.Cyclones {
		fix, ok := track.Latest()
		if !ok {
			continue
		}
		name := cyclone.ResolveName(track.Identity)

		cw := cycloneWarnings{nearestKM: math.Inf(1)}
		var nearest cyclone.Region
		var nearestThreat cyclone.Threat
		threats := make([]cyclone.Threat, len(regions))
		for i, r := range regions {
			threats[i] = ev.Evaluate(track.Fixes, r.Position)
			if threats[i].DistanceKM < cw.nearestKM {
				cw.nearestKM = threats[i].DistanceKM
				nearest = r
				nearestThreat = threats[i]
			}
		}

		var windows []string
		for _, r := range regions {
			w := cyclone.ForecastWindow(track.Forecast, r.Position)
			if !w.Affects() {
				continue
			}
			windows = append(windows, message.CycloneWindow(message.CycloneWindowParams{
				Name:     name,
				Region:   r.Name,
				Base:     fix.ObservedAt,
				Approach: w.Approach,
				Depart:   w.Depart,
			}))
		}
		if !nearestThreat.InRange && len(windows) == 0 {
			continue
		}

		if nearestThreat.InRange && fix.MaxWindKMH() > risk.MediumWindKMH {
			d := nearestThreat.DistanceKM
			cw.lines = append(cw.lines, message.CycloneCurrent(message.CycloneCurrentParams{
				Name:       name,
				WindMS:     fix.MaxWindMS,
				WindKMH:    fix.MaxWindKMH(),
				Tier:       nearestThreat.Tier(),
				Region:     nearest.Name,
				DistanceKM: &d,
			}))
		}
		for i, r := range regions {
			t := threats[i]
			if !t.InRange || t.DistanceKM <= cyclone.CloseRadiusKM {
				continue
			}
			cw.lines = append(cw.lines, message.CycloneApproach(message.CycloneApproachParams{
				Name:       name,
				Region:     r.Name,
				DistanceKM: t.DistanceKM,
				Hours:      t.Approach,
			}))
		}
		cw.lines = append(cw.lines, windows...)
		if len(cw.lines) > 0 {
			all = append(all, cw)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].nearestKM < all[j].nearestKM })
	return all
}

func alertLines(snap models.MonitoringSnapshot, regions []cyclone.Region) []string {
	type alertLine struct {
		typhoon bool
		text    string
	}
	var lines []alertLine
	for _, r := range regions {
		for key, recs := range snap.Alerts {
			if !cyclone.SameRegion(key, r.Name) {
				continue
			}
			for _, a := range recs {
				if !a.Active(snap.Timestamp) {
					continue
				}
				lines = append(lines, alertLine{
					typhoon: risk.IsTyphoonAlert(a.Phenomenon),
					text: message.Alert(message.AlertParams{
						Region:       r.Name,
						Phenomenon:   a.Phenomenon,
						Significance: a.Significance,
					}),
				})
			}
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].typhoon && !lines[j].typhoon })

	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.text
	}
	return out
}

func forecastLines(snap models.MonitoringSnapshot, regions []cyclone.Region) []string {
	type hit struct {
		rec  models.WeatherRecord
		text string
	}
	var hits []hit
	for _, r := range regions {
		for key, recs := range snap.Weather {
			if !cyclone.SameRegion(key, r.Name) {
				continue
			}
			for _, w := range recs {
				if !w.End.IsZero() && !w.End.After(snap.Timestamp) {
					continue
				}
				if _, ok := risk.MatchForecast(w.Phenomenon); !ok {
					continue
				}
				hits = append(hits, hit{rec: w, text: message.Forecast(message.ForecastParams{
					Region:          r.Name,
					Start:           w.Start,
					Description:     w.Phenomenon,
					RainProbability: w.RainProbability,
				})})
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].rec.Start.Before(hits[j].rec.Start) })

	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.text
	}
	return out
}
