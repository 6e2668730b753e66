package cyclone

import "strings"

// Region is a named monitoring target.
type Region struct {
	Name     string     `json:"name"`
	Short    string     `json:"short"`
	Position Coordinate `json:"position"`
}

var taiwanRegions = []Region{
	{Name: "臺北市", Short: "台北", Position: Coordinate{Lat: 25.0, Lon: 121.5}},
	{Name: "臺中市", Short: "台中", Position: Coordinate{Lat: 24.1, Lon: 120.7}},
	{Name: "臺南市", Short: "台南", Position: Coordinate{Lat: 23.0, Lon: 120.2}},
	{Name: "高雄市", Short: "高雄", Position: Coordinate{Lat: 22.6, Lon: 120.3}},
	{Name: "金門縣", Short: "金門", Position: Coordinate{Lat: 24.4, Lon: 118.3}},
	{Name: "澎湖縣", Short: "澎湖", Position: Coordinate{Lat: 23.6, Lon: 119.6}},
}

// Regions returns the known regions in display order.
func Regions() []Region {
	out := make([]Region, len(taiwanRegions))
	copy(out, taiwanRegions)
	return out
}

// LookupRegion finds a region by official or short name. 臺 and 台 are
// interchangeable and the county/city suffix is optional.
func LookupRegion(name string) (Region, bool) {
	key := regionKey(name)
	if key == "" {
		return Region{}, false
	}
	for _, r := range taiwanRegions {
		if regionKey(r.Name) == key || regionKey(r.Short) == key {
			return r, true
		}
	}
	return Region{}, false
}

// SameRegion reports whether two region names refer to the same place.
func SameRegion(a, b string) bool {
	ka, kb := regionKey(a), regionKey(b)
	return ka != "" && ka == kb
}

func regionKey(name string) string {
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "臺", "台")
	s = strings.TrimSuffix(s, "縣")
	s = strings.TrimSuffix(s, "市")
	return s
}
