// Command etl loads an earthquake catalog CSV into the analytical store and
// rebuilds the cleaned table.
//
// Usage:
//
//	go run ./cmd/etl -input data/earthquakes.csv
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-risk-service/internal/adapter/csvsource"
	"github.com/couchcryptid/quake-risk-service/internal/adapter/sqlite"
	"github.com/couchcryptid/quake-risk-service/internal/config"
	"github.com/couchcryptid/quake-risk-service/internal/observability"
	"github.com/couchcryptid/quake-risk-service/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	input := flag.String("input", cfg.CatalogPath, "path to the earthquake catalog CSV")
	flag.Parse()

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *input, logger); err != nil {
		logger.Error("etl failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, input string, logger *slog.Logger) error {
	pcfg, err := config.LoadPipeline(cfg.PipelineConfig)
	if err != nil {
		return err
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()

	src, err := csvsource.Open(input)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	p, err := pipeline.New(store, pcfg, cfg.ModelDir, logger, observability.NewMetrics(), clockwork.NewRealClock())
	if err != nil {
		return err
	}

	logger.Info("etl starting", "input", input, "db_path", cfg.DBPath)
	report, err := p.RunETL(ctx, src)
	if err != nil {
		return err
	}
	logger.Info("etl complete",
		"rows_read", report.RowsRead,
		"rows_kept", report.RowsKept,
		"rows_rejected", report.RowsRejected(),
	)
	return nil
}
