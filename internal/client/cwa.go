package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/typhoon-alert-service/internal/circuitbreaker"
	"github.com/kjstillabower/typhoon-alert-service/internal/cyclone"
	"github.com/kjstillabower/typhoon-alert-service/internal/models"
)

const DefaultCWABaseURL = "https://opendata.cwa.gov.tw/api"

// CWA open-data datasets.
const (
	datasetForecast = "F-C0032-001"
	datasetAlerts   = "W-C0033-001"
	datasetTyphoons = "W-C0034-005"
)

// cwaZone is the offset CWA timestamps without a zone are expressed in.
var cwaZone = time.FixedZone("CST", 8*60*60)

// CWAClient reads forecasts, alerts and tropical cyclone tracks from the
// Central Weather Administration open-data API.
type CWAClient struct {
	apiKey string
	getter *jsonGetter
	clock  clockwork.Clock
}

// NewCWAClient validates the API key and returns a client.
func NewCWAClient(opts Options) (*CWAClient, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(key) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultCWABaseURL
	}
	opts.applyDefaults()
	return &CWAClient{
		apiKey: key,
		getter: newJSONGetter("cwa", opts),
		clock:  opts.Clock,
	}, nil
}

// SetCircuitBreaker enables the breaker for every CWA call.
func (c *CWAClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.getter.breaker = cb
}

func (c *CWAClient) params(extra map[string]string) url.Values {
	v := url.Values{}
	v.Set("Authorization", c.apiKey)
	v.Set("format", "JSON")
	for k, val := range extra {
		v.Set(k, val)
	}
	return v
}

func datastorePath(dataset string) string {
	return "/v1/rest/datastore/" + dataset
}

// forecastResponse is the F-C0032-001 36-hour forecast.
type forecastResponse struct {
	Records struct {
		Location []struct {
			LocationName   string `json:"locationName"`
			WeatherElement []struct {
				ElementName string `json:"elementName"`
				Time        []struct {
					StartTime string `json:"startTime"`
					EndTime   string `json:"endTime"`
					Parameter struct {
						ParameterName string `json:"parameterName"`
					} `json:"parameter"`
				} `json:"time"`
			} `json:"weatherElement"`
		} `json:"location"`
	} `json:"records"`
}

// FetchWeather returns the Wx forecast windows for region with rain
// probability attached where the PoP element covers the same window.
func (c *CWAClient) FetchWeather(ctx context.Context, region string) ([]models.WeatherRecord, error) {
	var resp forecastResponse
	params := c.params(map[string]string{"locationName": region, "elementName": "Wx,PoP"})
	if err := c.getter.get(ctx, datastorePath(datasetForecast), params, &resp); err != nil {
		return nil, err
	}

	var out []models.WeatherRecord
	for _, loc := range resp.Records.Location {
		if !cyclone.SameRegion(loc.LocationName, region) {
			continue
		}
		pop := make(map[string]int)
		for _, el := range loc.WeatherElement {
			if el.ElementName != "PoP" {
				continue
			}
			for _, t := range el.Time {
				if v, err := strconv.Atoi(strings.TrimSpace(t.Parameter.ParameterName)); err == nil {
					pop[t.StartTime] = v
				}
			}
		}
		for _, el := range loc.WeatherElement {
			if el.ElementName != "Wx" {
				continue
			}
			for _, t := range el.Time {
				rec := models.WeatherRecord{
					Region:     loc.LocationName,
					Phenomenon: t.Parameter.ParameterName,
					Start:      parseCWATime(t.StartTime),
					End:        parseCWATime(t.EndTime),
				}
				if v, ok := pop[t.StartTime]; ok {
					rec.RainProbability = &v
				}
				out = append(out, rec)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

type hazard struct {
	// Current feed shape.
	Info struct {
		Phenomena    string `json:"phenomena"`
		Significance string `json:"significance"`
	} `json:"info"`
	ValidTime struct {
		StartTime string `json:"startTime"`
		EndTime   string `json:"endTime"`
	} `json:"validTime"`

	// Flat shape.
	Phenomena     string `json:"phenomena"`
	Significance  string `json:"significance"`
	EffectiveTime string `json:"effectiveTime"`
	EndTime       string `json:"endTime"`
}

func (h hazard) record(region string) models.AlertRecord {
	return models.AlertRecord{
		Region:       region,
		Phenomenon:   firstNonEmpty(h.Info.Phenomena, h.Phenomena),
		Significance: firstNonEmpty(h.Info.Significance, h.Significance),
		EffectiveAt:  parseCWATime(firstNonEmpty(h.ValidTime.StartTime, h.EffectiveTime)),
		ExpiresAt:    parseCWATime(firstNonEmpty(h.ValidTime.EndTime, h.EndTime)),
	}
}

type alertsResponse struct {
	Records struct {
		Location []struct {
			LocationName     string `json:"locationName"`
			HazardConditions struct {
				Hazards []hazard `json:"hazards"`
			} `json:"hazardConditions"`
		} `json:"location"`
	} `json:"records"`
}

// FetchAlerts returns the alerts in force for region. Expired alerts are dropped.
func (c *CWAClient) FetchAlerts(ctx context.Context, region string) ([]models.AlertRecord, error) {
	var resp alertsResponse
	params := c.params(map[string]string{"locationName": region})
	if err := c.getter.get(ctx, datastorePath(datasetAlerts), params, &resp); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	var out []models.AlertRecord
	for _, loc := range resp.Records.Location {
		if !cyclone.SameRegion(loc.LocationName, region) {
			continue
		}
		for _, h := range loc.HazardConditions.Hazards {
			rec := h.record(loc.LocationName)
			if rec.Phenomenon == "" || !rec.Active(now) {
				continue
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// flexFloat accepts a JSON number, a numeric string, or an empty string.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.Value, f.Valid = v, true
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

type cwaFix struct {
	FixTime         string    `json:"fixTime"`
	Coordinate      string    `json:"coordinate"`
	MaxWindSpeed    flexFloat `json:"maxWindSpeed"`
	MaxGustSpeed    flexFloat `json:"maxGustSpeed"`
	Pressure        flexFloat `json:"pressure"`
	MovingSpeed     flexFloat `json:"movingSpeed"`
	MovingDirection string    `json:"movingDirection"`
	CircleOf15Ms    struct {
		Radius flexFloat `json:"radius"`
	} `json:"circleOf15Ms"`
}

type cwaForecastFix struct {
	Tau        flexFloat `json:"tau"`
	Coordinate string    `json:"coordinate"`
}

type typhoonsResponse struct {
	Records struct {
		TropicalCyclones struct {
			TropicalCyclone []struct {
				TyphoonName    string `json:"typhoonName"`
				CWATyphoonName string `json:"cwaTyphoonName"`
				CWATdNo        string `json:"cwaTdNo"`
				CWATyNo        string `json:"cwaTyNo"`
				AnalysisData   struct {
					Fix []cwaFix `json:"fix"`
				} `json:"analysisData"`
				ForecastData struct {
					Fix []cwaForecastFix `json:"fix"`
				} `json:"forecastData"`
			} `json:"tropicalCyclone"`
		} `json:"tropicalCyclones"`
	} `json:"records"`
}

// FetchTyphoons returns every tracked cyclone. Fixes with an unparseable
// coordinate are skipped; cyclones left without fixes are still returned.
func (c *CWAClient) FetchTyphoons(ctx context.Context) ([]models.CycloneTrack, error) {
	var resp typhoonsResponse
	if err := c.getter.get(ctx, datastorePath(datasetTyphoons), c.params(nil), &resp); err != nil {
		return nil, err
	}

	var out []models.CycloneTrack
	for _, tc := range resp.Records.TropicalCyclones.TropicalCyclone {
		track := models.CycloneTrack{
			Identity: models.CycloneIdentity{
				LocalName:         strings.TrimSpace(tc.CWATyphoonName),
				InternationalName: strings.TrimSpace(tc.TyphoonName),
				DepressionID:      strings.TrimSpace(tc.CWATdNo),
			},
			TyphoonNumber: strings.TrimSpace(tc.CWATyNo),
		}
		for _, f := range tc.AnalysisData.Fix {
			lat, lon, ok := parseCoordinate(f.Coordinate)
			if !ok {
				continue
			}
			fix := models.CycloneFix{
				Lat:           lat,
				Lon:           lon,
				MaxWindMS:     f.MaxWindSpeed.Value,
				MaxGustMS:     f.MaxGustSpeed.ptr(),
				PressureHPa:   f.Pressure.ptr(),
				SpeedKMH:      f.MovingSpeed.ptr(),
				ObservedAt:    parseCWATime(f.FixTime),
				StormRadiusKM: f.CircleOf15Ms.Radius.ptr(),
			}
			if deg, ok := cyclone.ParseCompass(f.MovingDirection); ok {
				fix.Heading = &deg
			}
			track.Fixes = append(track.Fixes, fix)
		}
		for _, f := range tc.ForecastData.Fix {
			lat, lon, ok := parseCoordinate(f.Coordinate)
			if !ok || !f.Tau.Valid {
				continue
			}
			track.Forecast = append(track.Forecast, models.ForecastFix{TauHours: f.Tau.Value, Lat: lat, Lon: lon})
		}
		sort.SliceStable(track.Fixes, func(i, j int) bool { return track.Fixes[i].ObservedAt.Before(track.Fixes[j].ObservedAt) })
		out = append(out, track)
	}
	return out, nil
}

// parseCoordinate parses CWA's "lon,lat" coordinate string.
func parseCoordinate(s string) (lat, lon float64, ok bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lon, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lat, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

var cwaTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// parseCWATime returns the zero time for empty or unrecognized input.
func parseCWATime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range cwaTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, cwaZone); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
