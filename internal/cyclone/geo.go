package cyclone

import "math"

// EarthRadiusKM is the mean Earth radius used for great-circle math.
const EarthRadiusKM = 6371.0

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DistanceKM returns the haversine great-circle distance between a and b.
func DistanceKM(a, b Coordinate) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := lat2 - lat1
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusKM * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Destination returns the point reached from start after travelling distKM
// along the initial bearing (degrees clockwise from north).
func Destination(start Coordinate, bearingDeg, distKM float64) Coordinate {
	lat1 := radians(start.Lat)
	lon1 := radians(start.Lon)
	brg := radians(bearingDeg)
	d := distKM / EarthRadiusKM

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(math.Sin(brg)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	return Coordinate{Lat: degrees(lat2), Lon: normalizeLon(degrees(lon2))}
}

func radians(d float64) float64 { return d * math.Pi / 180 }
func degrees(r float64) float64 { return r * 180 / math.Pi }

func normalizeLon(lon float64) float64 {
	return math.Mod(lon+540, 360) - 180
}
