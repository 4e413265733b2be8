// Package csvsource reads USGS-style earthquake catalog CSV files.
package csvsource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/quake-risk-service/internal/domain"
)

var requiredColumns = []string{"time", "latitude", "longitude", "depth", "mag", "place", "title"}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.DateOnly,
}

// Reader streams raw events out of a catalog CSV. It implements
// domain.RawBatchSource.
type Reader struct {
	closer io.Closer
	csv    *csv.Reader
	cols   map[string]int
	line   int
}

// Open opens a catalog file and validates its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrDataSource, path, err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewReader wraps an io.Reader and consumes the header row.
func NewReader(in io.Reader) (*Reader, error) {
	cr := csv.NewReader(in)
	cr.ReuseRecord = false
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %w", domain.ErrDataSource, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	if _, ok := cols["mag"]; !ok {
		if i, ok := cols["magnitude"]; ok {
			cols["mag"] = i
		}
	}

	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", domain.ErrDataSource, strings.Join(missing, ", "))
	}

	return &Reader{csv: cr, cols: cols, line: 1}, nil
}

// ExtractBatch returns up to n events. It returns io.EOF once the file is
// exhausted and no events remain.
func (r *Reader) ExtractBatch(ctx context.Context, n int) ([]domain.RawEvent, error) {
	batch := make([]domain.RawEvent, 0, n)
	for len(batch) < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		r.line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", domain.ErrDataSource, r.line, err)
		}
		if isBlank(record) {
			continue
		}
		event, err := r.parse(record)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", domain.ErrDataSource, r.line, err)
		}
		batch = append(batch, event)
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// Close releases the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *Reader) parse(record []string) (domain.RawEvent, error) {
	var (
		ev  domain.RawEvent
		err error
	)

	if ev.Time, err = parseTime(r.field(record, "time")); err != nil {
		return ev, err
	}
	if ev.Latitude, err = r.float(record, "latitude"); err != nil {
		return ev, err
	}
	if ev.Longitude, err = r.float(record, "longitude"); err != nil {
		return ev, err
	}
	if ev.Depth, err = r.float(record, "depth"); err != nil {
		return ev, err
	}
	if ev.Magnitude, err = r.float(record, "mag"); err != nil {
		return ev, err
	}
	ev.Place = r.field(record, "place")
	ev.Title = r.field(record, "title")

	ev.EventID = r.field(record, "id")
	if ev.EventID == "" {
		ev.EventID = domain.GenerateID(ev.Time, ev.Latitude, ev.Longitude, ev.Depth, ev.Magnitude)
	}
	return ev, nil
}

func (r *Reader) field(record []string, name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// float parses a numeric cell. Empty cells are NULL.
func (r *Reader) float(record []string, name string) (*float64, error) {
	s := r.field(record, name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("column %s: invalid number %q", name, s)
	}
	return &v, nil
}

// parseTime accepts RFC 3339 and space-separated timestamps, read as UTC when
// no offset is given. An empty cell is the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("column time: invalid timestamp %q", s)
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
