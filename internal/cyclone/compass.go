package cyclone

import (
	"math"
	"strings"
)

var compassPoints = []string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// ParseCompass converts a 16-point compass direction to degrees clockwise from north.
func ParseCompass(s string) (float64, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, p := range compassPoints {
		if p == s {
			return float64(i) * 22.5, true
		}
	}
	return 0, false
}

// CompassPoint returns the nearest 16-point direction for a bearing.
func CompassPoint(deg float64) string {
	deg = math.Mod(math.Mod(deg, 360)+360, 360)
	i := int(math.Round(deg/22.5)) % len(compassPoints)
	return compassPoints[i]
}
