package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-risk-service/internal/config"
	"github.com/couchcryptid/quake-risk-service/internal/domain"
	"github.com/couchcryptid/quake-risk-service/internal/observability"
)

// Store is the analytical store the batch stages read and write.
type Store interface {
	ReplaceRaw(ctx context.Context, src domain.RawBatchSource, batchSize int) (int64, error)
	RebuildCleaned(ctx context.Context, batchSize int, clean func([]domain.RawEvent) []domain.CleanEvent) (int64, error)
	FeatureRows(ctx context.Context) ([]domain.LabeledRow, error)
	MonthlySeries(ctx context.Context) ([]domain.MonthlyBucket, error)
	Summary(ctx context.Context) (domain.CatalogSummary, error)
}

// Pipeline runs the offline stages: ingest, clean, extract and train.
// Every stage replaces its output wholesale or leaves the previous output
// in place.
type Pipeline struct {
	store    Store
	cfg      config.Pipeline
	window   domain.Window
	modelDir string
	logger   *slog.Logger
	metrics  *observability.Metrics
	clock    clockwork.Clock
	newRunID func() string
}

// New creates a Pipeline over a store. Artifacts are written to modelDir.
func New(store Store, cfg config.Pipeline, modelDir string, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	window, err := cfg.CleaningWindow()
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		store:    store,
		cfg:      cfg,
		window:   window,
		modelDir: modelDir,
		logger:   logger,
		metrics:  metrics,
		clock:    clock,
		newRunID: uuid.NewString,
	}, nil
}

// Ingest replaces the raw table with every row of src.
func (p *Pipeline) Ingest(ctx context.Context, src domain.RawBatchSource) (int64, error) {
	start := p.clock.Now()
	p.logger.Info("ingest started", "batch_size", p.cfg.BatchSize)

	n, err := p.store.ReplaceRaw(ctx, src, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("ingest: %w", err)
	}

	p.observeStage("ingest", start, n)
	p.logger.Info("ingest complete", "rows", n, "duration", p.clock.Since(start))
	return n, nil
}

// Clean rebuilds the cleaned table from the raw table.
func (p *Pipeline) Clean(ctx context.Context) (CleanReport, error) {
	start := p.clock.Now()
	p.logger.Info("clean started",
		"window_start", p.window.Start.Format(time.DateOnly),
		"window_end", p.window.End.Format(time.DateOnly),
	)

	c := newCleaner(p.window, p.logger)
	if _, err := p.store.RebuildCleaned(ctx, p.cfg.BatchSize, c.Transform); err != nil {
		return CleanReport{}, fmt.Errorf("clean: %w", err)
	}
	report := c.Report()

	p.observeStage("clean", start, report.RowsKept)
	for reason, n := range report.Rejected {
		p.metrics.RowsRejected.WithLabelValues(string(reason)).Add(float64(n))
	}
	p.logger.Info("clean complete",
		"rows_read", report.RowsRead,
		"rows_kept", report.RowsKept,
		"rows_missing_magnitude", report.Rejected[domain.RejectMissingMagnitude],
		"rows_out_of_range", report.Rejected[domain.RejectOutOfRange],
		"rows_outside_window", report.Rejected[domain.RejectOutsideWindow],
		"duration", p.clock.Since(start),
	)

	if summary, err := p.store.Summary(ctx); err == nil {
		p.logger.Info("catalog summary",
			"total_events", summary.TotalEvents,
			"from", summary.From,
			"to", summary.To,
			"mean_magnitude", summary.MeanMagnitude,
			"max_magnitude", summary.MaxMagnitude,
		)
		for _, rc := range summary.ByRegion {
			p.logger.Info("region events", "region", rc.Region, "events", rc.Events)
		}
	} else {
		p.logger.Warn("catalog summary failed", "error", err)
	}
	return report, nil
}

// RunETL ingests src and rebuilds the cleaned table.
func (p *Pipeline) RunETL(ctx context.Context, src domain.RawBatchSource) (CleanReport, error) {
	if _, err := p.Ingest(ctx, src); err != nil {
		return CleanReport{}, err
	}
	return p.Clean(ctx)
}

func (p *Pipeline) observeStage(stage string, start time.Time, rows int64) {
	p.metrics.StageDuration.WithLabelValues(stage).Observe(p.clock.Since(start).Seconds())
	if rows > 0 {
		p.metrics.StageRows.WithLabelValues(stage).Add(float64(rows))
	}
}

// wrapTraining tags a failure as a training error unless it already
// carries a more specific taxonomy error.
func wrapTraining(op string, err error) error {
	if errors.Is(err, domain.ErrDataSource) || errors.Is(err, domain.ErrTraining) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrTraining, op, err)
}
