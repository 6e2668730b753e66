package models

import "time"

// KMH converts a wind speed in m/s to km/h. Every m/s figure read from the
// typhoon feed passes through here exactly once.
func KMH(ms float64) float64 {
	return ms * 3.6
}

// CycloneFix is one observed position of a tropical cyclone.
// Optional measurements are nil when the feed omitted them.
type CycloneFix struct {
	Lat           float64   `json:"lat"`
	Lon           float64   `json:"lon"`
	MaxWindMS     float64   `json:"maxWindMs"`
	MaxGustMS     *float64  `json:"maxGustMs,omitempty"`
	PressureHPa   *float64  `json:"pressureHpa,omitempty"`
	Heading       *float64  `json:"heading,omitempty"` // degrees clockwise from north
	SpeedKMH      *float64  `json:"speedKmh,omitempty"`
	ObservedAt    time.Time `json:"observedAt"`
	StormRadiusKM *float64  `json:"stormRadiusKm,omitempty"`
}

// MaxWindKMH returns sustained wind in km/h.
func (f CycloneFix) MaxWindKMH() float64 {
	return KMH(f.MaxWindMS)
}

// MaxGustKMH returns gust speed in km/h, or nil when unknown.
func (f CycloneFix) MaxGustKMH() *float64 {
	if f.MaxGustMS == nil {
		return nil
	}
	v := KMH(*f.MaxGustMS)
	return &v
}

// ForecastFix is an official forecast position TauHours after the latest analysis.
type ForecastFix struct {
	TauHours float64 `json:"tauHours"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

// CycloneIdentity carries every name a cyclone may be known by. Any field may be empty.
type CycloneIdentity struct {
	LocalName         string `json:"localName,omitempty"`
	InternationalName string `json:"internationalName,omitempty"`
	DepressionID      string `json:"depressionId,omitempty"`
}

// CycloneTrack is the ordered fix history of one cyclone plus its official forecast.
type CycloneTrack struct {
	Identity      CycloneIdentity `json:"identity"`
	TyphoonNumber string          `json:"typhoonNumber,omitempty"`
	Fixes         []CycloneFix    `json:"fixes"`
	Forecast      []ForecastFix   `json:"forecast,omitempty"`
}

// Latest returns the authoritative (last) fix.
func (t CycloneTrack) Latest() (CycloneFix, bool) {
	if len(t.Fixes) == 0 {
		return CycloneFix{}, false
	}
	return t.Fixes[len(t.Fixes)-1], true
}
