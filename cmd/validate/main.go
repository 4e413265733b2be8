// Command validate performs integrity checks on the outputs of the offline
// pipeline: the cleaned catalog table, its summary aggregates, and the
// persisted model artifacts. It re-derives every enriched column from the
// stored row and reports each violation it finds.
//
// Usage:
//
//	go run ./cmd/validate -db data/earthquake.db -models models
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/couchcryptid/quake-risk-service/internal/adapter/sqlite"
	"github.com/couchcryptid/quake-risk-service/internal/config"
	"github.com/couchcryptid/quake-risk-service/internal/domain"
	"github.com/couchcryptid/quake-risk-service/internal/model"
)

// maxErrorsPerPhase caps the detail printed for one phase.
const maxErrorsPerPhase = 20

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dbPath := flag.String("db", "data/earthquake.db", "path to the SQLite catalog database")
	modelDir := flag.String("models", "models", "directory holding the trained artifacts")
	pipelineCfg := flag.String("pipeline-config", os.Getenv("PIPELINE_CONFIG"), "pipeline YAML (for the cleaning window)")
	flag.Parse()

	os.Exit(run(*dbPath, *modelDir, *pipelineCfg))
}

func run(dbPath, modelDir, pipelineCfg string) int {
	ctx := context.Background()

	fmt.Println("=== Quake Catalog Integrity Validation ===")
	fmt.Println()

	pcfg, err := config.LoadPipeline(pipelineCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load pipeline config: %v\n", err)
		return 1
	}
	window, err := pcfg.CleaningWindow()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cleaning window: %v\n", err)
		return 1
	}

	store, err := sqlite.OpenReadOnly(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open store: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	cleaned, rowsPhase := validateCleanedRows(ctx, store, window, pcfg.BatchSize)
	phases := []*phase{
		rowsPhase,
		validateSummary(ctx, store, cleaned),
		validateArtifacts(modelDir),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows: %d cleaned\n", cleaned)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxErrorsPerPhase {
				fmt.Printf("  ... and %d more\n", len(p.errors)-maxErrorsPerPhase)
				break
			}
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: cleaned rows ──

// validateCleanedRows checks every stored row against the validity predicate
// and recomputes its derived columns.
func validateCleanedRows(ctx context.Context, store *sqlite.Store, window domain.Window, batchSize int) (int64, *phase) {
	p := &phase{name: "Cleaned rows (validity + enrichment)"}
	var n int64

	err := store.EachCleaned(ctx, batchSize, func(events []domain.CleanEvent) error {
		for _, e := range events {
			n++
			checkEvent(p, e, window)
		}
		return nil
	})
	if err != nil {
		p.errorf("read cleaned table: %v", err)
	}
	return n, p
}

func checkEvent(p *phase, e domain.CleanEvent, window domain.Window) {
	id := e.EventID
	if id == "" {
		p.errorf("row at %s: empty event id", e.Time.Format("2006-01-02T15:04:05Z"))
	}
	if !window.Contains(e.Time) {
		p.errorf("%s: time %s outside window", id, e.Time.Format("2006-01-02"))
	}
	if e.Magnitude < domain.MinMagnitude || e.Magnitude > domain.MaxMagnitude {
		p.errorf("%s: magnitude %.2f out of range", id, e.Magnitude)
	}
	if e.Latitude < -90 || e.Latitude > 90 {
		p.errorf("%s: latitude %.4f out of range", id, e.Latitude)
	}
	if e.Longitude < -180 || e.Longitude > 180 {
		p.errorf("%s: longitude %.4f out of range", id, e.Longitude)
	}
	if e.Depth < 0 {
		p.errorf("%s: negative depth %.2f", id, e.Depth)
	}

	want := domain.EnergyJoules(e.Magnitude)
	if math.Abs(e.EnergyJoules-want) > want*1e-9 {
		p.errorf("%s: energy %.6g, expected %.6g", id, e.EnergyJoules, want)
	}

	t := e.Time.UTC()
	if e.Year != t.Year() || e.Month != int(t.Month()) || e.Day != t.Day() || e.Hour != t.Hour() {
		p.errorf("%s: calendar fields %d-%02d-%02d %02dh do not match %s",
			id, e.Year, e.Month, e.Day, e.Hour, t.Format("2006-01-02 15h"))
	}

	if got, want := e.Region, domain.AssignRegion(e.Latitude, e.Longitude); got != want {
		p.errorf("%s: region %q, expected %q", id, got, want)
	}
}

// ── Phase 2: summary aggregates ──

func validateSummary(ctx context.Context, store *sqlite.Store, cleaned int64) *phase {
	p := &phase{name: "Catalog summary consistency"}

	summary, err := store.Summary(ctx)
	if err != nil {
		p.errorf("summary: %v", err)
		return p
	}
	if summary.TotalEvents != cleaned {
		p.errorf("summary total %d, scanned %d rows", summary.TotalEvents, cleaned)
	}

	var byRegion int64
	for _, rc := range summary.ByRegion {
		if !rc.Region.Valid() {
			p.errorf("summary has unknown region %q", rc.Region)
		}
		byRegion += rc.Events
	}
	if byRegion != summary.TotalEvents {
		p.errorf("region counts sum to %d, total is %d", byRegion, summary.TotalEvents)
	}
	if summary.TotalEvents > 0 {
		if summary.To.Before(summary.From) {
			p.errorf("summary range %s..%s is inverted", summary.From, summary.To)
		}
		if summary.MeanMagnitude > summary.MaxMagnitude {
			p.errorf("mean magnitude %.2f exceeds max %.2f", summary.MeanMagnitude, summary.MaxMagnitude)
		}
	}

	raw, err := store.RawCount(ctx)
	if err != nil {
		p.errorf("raw count: %v", err)
	} else if cleaned > raw {
		p.errorf("cleaned table has %d rows, raw table only %d", cleaned, raw)
	}
	return p
}

// ── Phase 3: artifacts ──

func validateArtifacts(dir string) *phase {
	p := &phase{name: "Model artifacts"}

	reg, regMeta, regErr := model.LoadRegressor(filepath.Join(dir, model.RegressorFile))
	if regErr != nil {
		p.errorf("regressor: %v", regErr)
	} else {
		probe := domain.NewFeatureVector(35.68, 139.69, 10, regMeta.TrainedAt).Values()
		if y, err := reg.Predict(probe); err != nil {
			p.errorf("regressor predict: %v", err)
		} else if math.IsNaN(y) || math.IsInf(y, 0) {
			p.errorf("regressor predicts non-finite value %v", y)
		}
	}

	fc, fcMeta, fcErr := model.LoadForecaster(filepath.Join(dir, model.ForecasterFile))
	if fcErr != nil {
		p.errorf("forecaster: %v", fcErr)
	} else {
		if !domain.Region(fc.Region).Valid() {
			p.errorf("forecaster region %q is not a known region", fc.Region)
		}
		for _, pt := range fc.Horizon(12) {
			if pt.Lower > pt.Yhat || pt.Yhat > pt.Upper {
				p.errorf("forecast %s: interval [%.2f, %.2f] does not contain %.2f",
					pt.Month.Format("2006-01"), pt.Lower, pt.Upper, pt.Yhat)
			}
		}
	}

	if regErr == nil && fcErr == nil && regMeta.RunID != fcMeta.RunID {
		p.errorf("run ids differ: regressor %s, forecaster %s", regMeta.RunID, fcMeta.RunID)
	}

	chart, err := os.ReadFile(filepath.Join(dir, model.ChartFile))
	switch {
	case err != nil:
		p.errorf("chart: %v", err)
	case !bytes.HasPrefix(chart, pngMagic):
		p.errorf("chart %s is not a PNG", model.ChartFile)
	}
	return p
}
