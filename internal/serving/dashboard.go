package serving

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/quake-risk-service/internal/alerts"
	"github.com/couchcryptid/quake-risk-service/internal/domain"
)

// Section status values.
const (
	StatusOK          = "ok"
	StatusInvalid     = "invalid"
	StatusUnavailable = "unavailable"
)

const (
	msgPredictionUnavailable = "The risk model is not available. Run the training pipeline and restart the service."
	msgForecastUnavailable   = "The regional forecast is not available. Run the training pipeline and restart the service."
	msgStatsUnavailable      = "Catalog statistics are not available. Run the ETL pipeline first."
)

// Section is one independently degrading part of the dashboard.
type Section[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    *T     `json:"data,omitempty"`
}

// AlertsSource yields the recent alerts table.
type AlertsSource interface {
	Recent(ctx context.Context) alerts.Result
}

// StatsSource summarizes the cleaned catalog.
type StatsSource interface {
	Summary(ctx context.Context) (domain.CatalogSummary, error)
}

// DashboardDoc is every dashboard section in one document.
type DashboardDoc struct {
	GeneratedAt    time.Time                      `json:"generated_at"`
	Prediction     Section[Prediction]            `json:"prediction"`
	Forecast       Section[Forecast]              `json:"forecast"`
	Alerts         alerts.Result                  `json:"alerts"`
	Stats          Section[domain.CatalogSummary] `json:"stats"`
	MagnitudeScale []domain.MagnitudeBand         `json:"magnitude_scale"`
}

// Dashboard composes the sections. stats may be nil when the store could not
// be opened.
type Dashboard struct {
	predictor *Predictor
	forecast  *ForecastView
	alerts    AlertsSource
	stats     StatsSource
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewDashboard wires the section sources together.
func NewDashboard(predictor *Predictor, forecast *ForecastView, recent AlertsSource, stats StatsSource, clock clockwork.Clock, logger *slog.Logger) *Dashboard {
	return &Dashboard{
		predictor: predictor,
		forecast:  forecast,
		alerts:    recent,
		stats:     stats,
		clock:     clock,
		logger:    logger,
	}
}

func (d *Dashboard) ForecastView() *ForecastView { return d.forecast }
func (d *Dashboard) Alerts() AlertsSource        { return d.alerts }

// Build renders every section concurrently. It never fails; each section
// reports its own status.
func (d *Dashboard) Build(ctx context.Context, req Request) DashboardDoc {
	return d.build(ctx, func(ctx context.Context) Section[Prediction] {
		return d.PredictionSection(ctx, req)
	})
}

// BuildInvalid renders the dashboard for a request that could not be parsed.
// The prediction section reports reqErr and the model is not consulted.
func (d *Dashboard) BuildInvalid(ctx context.Context, reqErr error) DashboardDoc {
	return d.build(ctx, func(context.Context) Section[Prediction] {
		return Section[Prediction]{Status: StatusInvalid, Message: reqErr.Error()}
	})
}

func (d *Dashboard) build(ctx context.Context, prediction func(context.Context) Section[Prediction]) DashboardDoc {
	doc := DashboardDoc{
		GeneratedAt:    d.clock.Now().UTC(),
		MagnitudeScale: domain.MagnitudeScale(),
	}

	var g errgroup.Group
	g.Go(func() error {
		doc.Prediction = prediction(ctx)
		return nil
	})
	g.Go(func() error {
		doc.Forecast = d.ForecastSection()
		return nil
	})
	g.Go(func() error {
		doc.Alerts = d.alerts.Recent(ctx)
		return nil
	})
	g.Go(func() error {
		doc.Stats = d.StatsSection(ctx)
		return nil
	})
	_ = g.Wait()
	return doc
}

// PredictionSection runs one prediction and maps failures to a status.
func (d *Dashboard) PredictionSection(ctx context.Context, req Request) Section[Prediction] {
	pred, err := d.predictor.Predict(ctx, req)
	switch {
	case err == nil:
		return Section[Prediction]{Status: StatusOK, Data: &pred}
	case errors.Is(err, domain.ErrInvalidLocation):
		return Section[Prediction]{Status: StatusInvalid, Message: err.Error()}
	default:
		d.logger.Warn("prediction section degraded", "error", err)
		return Section[Prediction]{Status: StatusUnavailable, Message: msgPredictionUnavailable}
	}
}

// ForecastSection returns the regional outlook or an unavailable status.
func (d *Dashboard) ForecastSection() Section[Forecast] {
	fc, err := d.forecast.Forecast()
	if err != nil {
		d.logger.Warn("forecast section degraded", "error", err)
		return Section[Forecast]{Status: StatusUnavailable, Message: msgForecastUnavailable}
	}
	return Section[Forecast]{Status: StatusOK, Data: &fc}
}

// StatsSection summarizes the cleaned catalog or reports it unavailable.
func (d *Dashboard) StatsSection(ctx context.Context) Section[domain.CatalogSummary] {
	if d.stats == nil {
		return Section[domain.CatalogSummary]{Status: StatusUnavailable, Message: msgStatsUnavailable}
	}
	summary, err := d.stats.Summary(ctx)
	if err != nil {
		d.logger.Warn("stats section degraded", "error", err)
		return Section[domain.CatalogSummary]{Status: StatusUnavailable, Message: msgStatsUnavailable}
	}
	return Section[domain.CatalogSummary]{Status: StatusOK, Data: &summary}
}

// CheckReadiness fails only when neither model loaded.
func (d *Dashboard) CheckReadiness(_ context.Context) error {
	perr := d.predictor.Ready()
	ferr := d.forecast.Ready()
	if perr != nil && ferr != nil {
		return errors.Join(perr, ferr)
	}
	return nil
}
