package domain

// Region is a coarse geographic bucket.
type Region string

const (
	RegionAmericas     Region = "americas"
	RegionEuropeAfrica Region = "europe_africa"
	RegionAsiaOceania  Region = "asia_oceania"
	RegionOther        Region = "other_ocean"
)

// regionRect is an inclusive longitude/latitude rectangle.
type regionRect struct {
	region                         Region
	minLon, maxLon, minLat, maxLat float64
}

// regionRects are evaluated in order; the first match wins.
var regionRects = []regionRect{
	{region: RegionAmericas, minLon: -180, maxLon: -20, minLat: -60, maxLat: 75},
	{region: RegionEuropeAfrica, minLon: -20, maxLon: 60, minLat: -35, maxLat: 70},
	{region: RegionAsiaOceania, minLon: 60, maxLon: 180, minLat: -50, maxLat: 70},
}

// Regions lists every region in priority order, catch-all last.
func Regions() []Region {
	return []Region{RegionAmericas, RegionEuropeAfrica, RegionAsiaOceania, RegionOther}
}

// AssignRegion classifies a coordinate. Every coordinate gets exactly one
// region; anything outside the rectangles is RegionOther.
func AssignRegion(lat, lon float64) Region {
	for _, r := range regionRects {
		if between(lon, r.minLon, r.maxLon) && between(lat, r.minLat, r.maxLat) {
			return r.region
		}
	}
	return RegionOther
}

// Valid reports whether r is one of the defined regions.
func (r Region) Valid() bool {
	switch r {
	case RegionAmericas, RegionEuropeAfrica, RegionAsiaOceania, RegionOther:
		return true
	default:
		return false
	}
}

// Label is the display name of the region.
func (r Region) Label() string {
	switch r {
	case RegionAmericas:
		return "Americas"
	case RegionEuropeAfrica:
		return "Europe/Africa"
	case RegionAsiaOceania:
		return "Asia/Oceania"
	case RegionOther:
		return "Other/Ocean"
	default:
		return string(r)
	}
}

// priority returns the position of r in Regions, used to break ties.
func (r Region) priority() int {
	for i, candidate := range Regions() {
		if candidate == r {
			return i
		}
	}
	return len(regionRects) + 1
}
