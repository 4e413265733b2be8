package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// RejectReason explains why a raw row did not make it into the cleaned table.
// The empty reason means the row was kept.
type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectOutsideWindow    RejectReason = "outside_window"
	RejectMissingMagnitude RejectReason = "missing_magnitude"
	RejectOutOfRange       RejectReason = "out_of_range"
)

// Window is the historical time range kept by cleaning. Start is inclusive,
// End is exclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewDateWindow builds a window covering whole UTC days from first through
// last, both inclusive.
func NewDateWindow(first, last time.Time) Window {
	start := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return Window{Start: start, End: end}
}

// DefaultWindow is 1990-01-01 through 2025-12-31.
func DefaultWindow() Window {
	return NewDateWindow(
		time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC),
	)
}

// Contains reports whether t falls inside the window. Zero times never do.
func (w Window) Contains(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	return !t.Before(w.Start) && t.Before(w.End)
}

// Validity bounds for a catalog row.
const (
	MinMagnitude = -1.0
	MaxMagnitude = 10.0
)

// CleanRawEvent validates and enriches a raw row. It returns RejectNone and
// the enriched event when the row is kept, or the first reason the row fails.
// Window filtering is applied before the validity predicate.
func CleanRawEvent(raw RawEvent, window Window) (CleanEvent, RejectReason) {
	if !window.Contains(raw.Time) {
		return CleanEvent{}, RejectOutsideWindow
	}
	if raw.Magnitude == nil {
		return CleanEvent{}, RejectMissingMagnitude
	}
	if !isValid(raw) {
		return CleanEvent{}, RejectOutOfRange
	}

	t := raw.Time.UTC()
	lat, lon, mag := *raw.Latitude, *raw.Longitude, *raw.Magnitude

	return CleanEvent{
		EventID:      raw.EventID,
		Time:         t,
		Latitude:     lat,
		Longitude:    lon,
		Depth:        *raw.Depth,
		Magnitude:    mag,
		Place:        raw.Place,
		Title:        raw.Title,
		EnergyJoules: EnergyJoules(mag),
		Year:         t.Year(),
		Month:        int(t.Month()),
		Day:          t.Day(),
		Hour:         t.Hour(),
		Region:       AssignRegion(lat, lon),
	}, RejectNone
}

// isValid applies the validity predicate. A missing coordinate or depth is
// invalid.
func isValid(raw RawEvent) bool {
	if raw.Magnitude == nil || raw.Latitude == nil || raw.Longitude == nil || raw.Depth == nil {
		return false
	}
	mag, lat, lon, depth := *raw.Magnitude, *raw.Latitude, *raw.Longitude, *raw.Depth
	return between(mag, MinMagnitude, MaxMagnitude) &&
		between(lat, -90, 90) &&
		between(lon, -180, 180) &&
		depth >= 0
}

// between is an inclusive range check that also rejects NaN.
func between(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

// EnergyJoules estimates the seismic energy released by an event of the
// given magnitude.
func EnergyJoules(magnitude float64) float64 {
	return math.Pow(10, 1.5*magnitude+4.8)
}

// GenerateID produces a deterministic id from an event's key fields, for
// catalog rows that arrive without one.
func GenerateID(t time.Time, lat, lon, depth, mag *float64) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%s",
		t.UTC().Format(time.RFC3339Nano), fmtOpt(lat), fmtOpt(lon), fmtOpt(depth), fmtOpt(mag))
	hash := sha256.Sum256([]byte(input))
	return "gen-" + hex.EncodeToString(hash[:8])
}

func fmtOpt(v *float64) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%.4f", *v)
}
