package domain

import "time"

// RawEvent is one catalog row as ingested. Numeric fields are nil when the
// source cell was empty; Time is zero when the timestamp was empty.
type RawEvent struct {
	EventID   string
	Time      time.Time
	Latitude  *float64
	Longitude *float64
	Depth     *float64
	Magnitude *float64
	Place     string
	Title     string
}

// CleanEvent is a validated, enriched catalog row.
type CleanEvent struct {
	EventID      string    `json:"event_id"`
	Time         time.Time `json:"time"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Depth        float64   `json:"depth"`
	Magnitude    float64   `json:"magnitude"`
	Place        string    `json:"place,omitempty"`
	Title        string    `json:"title,omitempty"`
	EnergyJoules float64   `json:"energy_joules"`
	Year         int       `json:"year"`
	Month        int       `json:"month"`
	Day          int       `json:"day"`
	Hour         int       `json:"hour"`
	Region       Region    `json:"region"`
}

// Features projects the event onto the model feature schema.
func (e CleanEvent) Features() FeatureVector {
	return FeatureVector{
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
		Depth:     e.Depth,
		Year:      e.Year,
		Month:     e.Month,
		Day:       e.Day,
		Hour:      e.Hour,
	}
}

// MonthlyBucket is the event count and mean magnitude for one calendar month
// in one region.
type MonthlyBucket struct {
	Month         time.Time `json:"month"`
	Region        Region    `json:"region"`
	Count         int       `json:"count"`
	MeanMagnitude float64   `json:"mean_magnitude"`
}

// RegionCount is the number of cleaned events in a region.
type RegionCount struct {
	Region Region `json:"region"`
	Label  string `json:"label"`
	Events int64  `json:"events"`
}

// CatalogSummary describes the cleaned table as a whole.
type CatalogSummary struct {
	TotalEvents   int64         `json:"total_events"`
	From          time.Time     `json:"from"`
	To            time.Time     `json:"to"`
	MeanMagnitude float64       `json:"mean_magnitude"`
	MaxMagnitude  float64       `json:"max_magnitude"`
	MinEnergy     float64       `json:"min_energy_joules"`
	MaxEnergy     float64       `json:"max_energy_joules"`
	ByRegion      []RegionCount `json:"by_region"`
}

// Alert is a recent significant event reported by the remote catalog.
type Alert struct {
	EventID   string    `json:"event_id,omitempty"`
	Time      time.Time `json:"time"`
	Magnitude float64   `json:"magnitude"`
	Place     string    `json:"place"`
	Depth     float64   `json:"depth_km"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}

// Location is a point the user asked about.
type Location struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Name      string  `json:"name,omitempty"`
	IsDefault bool    `json:"is_default"`
	GeoSource string  `json:"geo_source,omitempty"` // "forward", "reverse", "default", "failed"
}
