package domain

import (
	"hash/fnv"
	"math/rand/v2"
	"slices"
	"time"
)

// FeatureNames is the ordered feature schema shared by training and serving.
var FeatureNames = []string{"latitude", "longitude", "depth", "year", "month", "day", "hour"}

// FeatureVector is one row of model input.
type FeatureVector struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Depth     float64 `json:"depth"`
	Year      int     `json:"year"`
	Month     int     `json:"month"`
	Day       int     `json:"day"`
	Hour      int     `json:"hour"`
}

// NewFeatureVector builds a feature vector for a point, depth and instant.
// Calendar fields are taken in UTC.
func NewFeatureVector(lat, lon, depth float64, at time.Time) FeatureVector {
	at = at.UTC()
	return FeatureVector{
		Latitude:  lat,
		Longitude: lon,
		Depth:     depth,
		Year:      at.Year(),
		Month:     int(at.Month()),
		Day:       at.Day(),
		Hour:      at.Hour(),
	}
}

// Values returns the features in FeatureNames order.
func (f FeatureVector) Values() []float64 {
	return []float64{
		f.Latitude,
		f.Longitude,
		f.Depth,
		float64(f.Year),
		float64(f.Month),
		float64(f.Day),
		float64(f.Hour),
	}
}

// SchemaMatches reports whether names equals FeatureNames exactly.
func SchemaMatches(names []string) bool {
	return slices.Equal(names, FeatureNames)
}

// LabeledRow pairs a feature vector with its magnitude target.
type LabeledRow struct {
	EventID   string
	Features  FeatureVector
	Magnitude float64
}

// Dataset is a train/validation split of labeled rows.
type Dataset struct {
	Train      []LabeledRow
	Validation []LabeledRow
}

// InTraining decides the partition of one record. The draw depends only on
// the seed and the event id, so it does not change with row order.
func InTraining(eventID string, fraction float64, seed uint64) bool {
	h := fnv.New64a()
	_, _ = h.Write([]byte(eventID))
	rng := rand.New(rand.NewPCG(seed, h.Sum64()))
	return rng.Float64() < fraction
}

// SplitDataset assigns every row to exactly one partition.
func SplitDataset(rows []LabeledRow, fraction float64, seed uint64) Dataset {
	var ds Dataset
	for _, row := range rows {
		if InTraining(row.EventID, fraction, seed) {
			ds.Train = append(ds.Train, row)
		} else {
			ds.Validation = append(ds.Validation, row)
		}
	}
	return ds
}

// LargestRegion returns the region with the most events across all buckets.
// Ties go to the region that comes first in Regions. The second result is
// false when there are no buckets.
func LargestRegion(buckets []MonthlyBucket) (Region, bool) {
	totals := make(map[Region]int)
	for _, b := range buckets {
		totals[b.Region] += b.Count
	}
	if len(totals) == 0 {
		return "", false
	}

	var best Region
	bestCount := -1
	for region, count := range totals {
		if count > bestCount || (count == bestCount && region.priority() < best.priority()) {
			best, bestCount = region, count
		}
	}
	return best, true
}

// SeriesFor returns the buckets of one region in month order.
func SeriesFor(buckets []MonthlyBucket, region Region) []MonthlyBucket {
	var series []MonthlyBucket
	for _, b := range buckets {
		if b.Region == region {
			series = append(series, b)
		}
	}
	slices.SortFunc(series, func(a, b MonthlyBucket) int { return a.Month.Compare(b.Month) })
	return series
}

// MonthStart truncates t to the first instant of its UTC calendar month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
