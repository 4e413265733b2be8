// Package mockdata generates synthetic USGS-style catalog CSV files for local
// runs and tests.
package mockdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"time"
)

// Header is the column set written by WriteCSV, a subset of the USGS export.
var Header = []string{"time", "latitude", "longitude", "depth", "mag", "magType", "id", "place", "type", "title"}

// Options controls generation. Zero fractions produce only clean rows.
type Options struct {
	Rows  int
	Seed  uint64
	Start time.Time
	End   time.Time

	MissingMagnitude float64 // share of rows with an empty mag cell
	OutOfRange       float64 // share of rows with an impossible value
	OutsideWindow    float64 // share of rows dated before Start
}

// DefaultOptions spans 2015 through 2024 with a small share of dirty rows.
func DefaultOptions() Options {
	return Options{
		Rows:             20000,
		Seed:             42,
		Start:            time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
		End:              time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		MissingMagnitude: 0.02,
		OutOfRange:       0.01,
		OutsideWindow:    0.01,
	}
}

// zone is a seismically active box with a typical magnitude and depth.
type zone struct {
	name             string
	latMin, latMax   float64
	lonMin, lonMax   float64
	meanMag, meanDep float64
	weight           float64
}

var zones = []zone{
	{"Chile", -40, -18, -75, -68, 4.4, 45, 0.18},
	{"Alaska", 51, 62, -170, -145, 3.2, 30, 0.14},
	{"California", 32, 41, -124, -115, 2.6, 9, 0.14},
	{"Japan", 30, 45, 130, 146, 4.5, 40, 0.2},
	{"Indonesia", -10, 5, 95, 130, 4.6, 60, 0.16},
	{"Mediterranean", 34, 42, 12, 30, 3.9, 15, 0.1},
	{"Mid-Atlantic Ridge", -5, 30, -45, -25, 4.7, 10, 0.04},
	{"South Sandwich Islands", -62, -55, -30, -24, 4.8, 35, 0.04},
}

// Row is one generated catalog line. Empty strings are empty cells.
type Row []string

// Generate produces opts.Rows catalog rows in time order.
func Generate(opts Options) []Row {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed+1))
	span := opts.End.Sub(opts.Start)

	offsets := make([]time.Duration, opts.Rows)
	for i := range offsets {
		offsets[i] = time.Duration(rng.Int64N(int64(span)))
	}
	slices.Sort(offsets)

	rows := make([]Row, opts.Rows)
	for i := range rows {
		z := pickZone(rng)
		at := opts.Start.Add(offsets[i])
		lat := z.latMin + rng.Float64()*(z.latMax-z.latMin)
		lon := z.lonMin + rng.Float64()*(z.lonMax-z.lonMin)
		depth := math.Max(0, z.meanDep*rng.ExpFloat64())
		mag := math.Max(-0.5, math.Min(9.2, z.meanMag+0.6*rng.NormFloat64()))

		magCell := fmtFloat(mag, 1)
		latCell := fmtFloat(lat, 4)
		switch r := rng.Float64(); {
		case r < opts.MissingMagnitude:
			magCell = ""
		case r < opts.MissingMagnitude+opts.OutOfRange:
			latCell = fmtFloat(90+rng.Float64()*10, 4)
		case r < opts.MissingMagnitude+opts.OutOfRange+opts.OutsideWindow:
			at = opts.Start.AddDate(-1-rng.IntN(5), 0, 0)
		}

		place := fmt.Sprintf("%d km %s of %s", 5+rng.IntN(150), compass[rng.IntN(len(compass))], z.name)
		title := place
		if magCell != "" {
			title = fmt.Sprintf("M %s - %s", magCell, place)
		}
		rows[i] = Row{
			at.UTC().Format("2006-01-02T15:04:05.000Z"),
			latCell,
			fmtFloat(lon, 4),
			fmtFloat(depth, 2),
			magCell,
			"ml",
			fmt.Sprintf("mk%08d", i),
			place,
			"earthquake",
			title,
		}
	}
	return rows
}

// WriteCSV writes Header and rows.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var compass = []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

func pickZone(rng *rand.Rand) zone {
	r := rng.Float64()
	for _, z := range zones {
		if r < z.weight {
			return z
		}
		r -= z.weight
	}
	return zones[len(zones)-1]
}

func fmtFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
