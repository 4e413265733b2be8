package sqlite

import (
	"time"

	"github.com/couchcryptid/quake-risk-service/internal/domain"
)

// rawRow is one row of earthquakes_raw. Nullable columns are pointers.
type rawRow struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	EventID   string
	Time      *time.Time
	Latitude  *float64
	Longitude *float64
	Depth     *float64
	Magnitude *float64
	Place     string
	Title     string
}

func newRawRow(e domain.RawEvent) rawRow {
	row := rawRow{
		EventID:   e.EventID,
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
		Depth:     e.Depth,
		Magnitude: e.Magnitude,
		Place:     e.Place,
		Title:     e.Title,
	}
	if !e.Time.IsZero() {
		t := e.Time.UTC()
		row.Time = &t
	}
	return row
}

func (r rawRow) toDomain() domain.RawEvent {
	e := domain.RawEvent{
		EventID:   r.EventID,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Depth:     r.Depth,
		Magnitude: r.Magnitude,
		Place:     r.Place,
		Title:     r.Title,
	}
	if r.Time != nil {
		e.Time = r.Time.UTC()
	}
	return e
}

// eventRow is one row of the cleaned earthquakes table.
type eventRow struct {
	ID           int64 `gorm:"primaryKey;autoIncrement"`
	EventID      string
	Time         time.Time
	Latitude     float64
	Longitude    float64
	Depth        float64
	Magnitude    float64
	Place        string
	Title        string
	EnergyJoules float64
	Year         int
	Month        int
	Day          int
	Hour         int
	Region       string
}

func newEventRow(e domain.CleanEvent) eventRow {
	return eventRow{
		EventID:      e.EventID,
		Time:         e.Time.UTC(),
		Latitude:     e.Latitude,
		Longitude:    e.Longitude,
		Depth:        e.Depth,
		Magnitude:    e.Magnitude,
		Place:        e.Place,
		Title:        e.Title,
		EnergyJoules: e.EnergyJoules,
		Year:         e.Year,
		Month:        e.Month,
		Day:          e.Day,
		Hour:         e.Hour,
		Region:       string(e.Region),
	}
}

func (r eventRow) toDomain() domain.CleanEvent {
	return domain.CleanEvent{
		EventID:      r.EventID,
		Time:         r.Time.UTC(),
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		Depth:        r.Depth,
		Magnitude:    r.Magnitude,
		Place:        r.Place,
		Title:        r.Title,
		EnergyJoules: r.EnergyJoules,
		Year:         r.Year,
		Month:        r.Month,
		Day:          r.Day,
		Hour:         r.Hour,
		Region:       domain.Region(r.Region),
	}
}

type featureRow struct {
	EventID   string
	Latitude  float64
	Longitude float64
	Depth     float64
	Year      int
	Month     int
	Day       int
	Hour      int
	Magnitude float64
}

type monthlyRow struct {
	Year          int
	Month         int
	Region        string
	Count         int
	MeanMagnitude float64
}

type summaryRow struct {
	Total     int64
	MeanMag   float64
	MaxMag    float64
	MinEnergy float64
	MaxEnergy float64
}

type regionRow struct {
	Region string
	Events int64
}
