// Command train fits the magnitude regressor and the regional forecaster from
// the cleaned catalog and writes both, plus the trend chart, to MODEL_DIR.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"

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

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("training failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pcfg, err := config.LoadPipeline(cfg.PipelineConfig)
	if err != nil {
		return err
	}

	store, err := sqlite.OpenReadOnly(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()

	p, err := pipeline.New(store, pcfg, cfg.ModelDir, logger, observability.NewMetrics(), clockwork.NewRealClock())
	if err != nil {
		return err
	}

	report, err := p.Train(ctx)
	if err != nil {
		return err
	}
	logger.Info("artifacts written",
		"run_id", report.RunID,
		"train_rows", report.TrainRows,
		"validation_rows", report.ValidationRows,
		"series_months", report.SeriesMonths,
		"files", report.Files,
	)
	return nil
}
