// Command genmock writes a synthetic USGS-style earthquake catalog CSV for
// local pipeline runs. Output is deterministic for a given seed, and a small
// share of rows is deliberately dirty so the cleaning stage has something to
// reject.
//
// Usage:
//
//	go run ./cmd/genmock -out data/earthquakes.csv -rows 20000 -seed 42
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/quake-risk-service/internal/mockdata"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	def := mockdata.DefaultOptions()

	out := flag.String("out", "data/earthquakes.csv", "output path for the catalog CSV")
	rows := flag.Int("rows", def.Rows, "number of catalog rows")
	seed := flag.Uint64("seed", def.Seed, "random seed")
	start := flag.String("start", def.Start.Format(time.DateOnly), "first day of the generated range (YYYY-MM-DD)")
	end := flag.String("end", def.End.Format(time.DateOnly), "day after the generated range (YYYY-MM-DD)")
	dirty := flag.Bool("dirty", true, "include rows the cleaning stage rejects")
	flag.Parse()

	opts := def
	opts.Rows = *rows
	opts.Seed = *seed

	var err error
	if opts.Start, err = time.Parse(time.DateOnly, *start); err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	if opts.End, err = time.Parse(time.DateOnly, *end); err != nil {
		return fmt.Errorf("invalid -end: %w", err)
	}
	if !opts.End.After(opts.Start) {
		return fmt.Errorf("-end %s must be after -start %s", *end, *start)
	}
	if opts.Rows < 1 {
		return fmt.Errorf("-rows must be positive")
	}
	if !*dirty {
		opts.MissingMagnitude, opts.OutOfRange, opts.OutsideWindow = 0, 0, 0
	}

	if dir := filepath.Dir(*out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create %s: %w", *out, err)
	}
	defer f.Close() //nolint:errcheck // closed explicitly below on the success path

	w := bufio.NewWriter(f)
	if err := mockdata.WriteCSV(w, mockdata.Generate(opts)); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", *out, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", *out, err)
	}

	log.Printf("wrote %d rows to %s (%s to %s, seed %d)",
		opts.Rows, *out, opts.Start.Format(time.DateOnly), opts.End.Format(time.DateOnly), opts.Seed)
	return nil
}
