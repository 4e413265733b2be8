package serving

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-risk-service/internal/domain"
	"github.com/couchcryptid/quake-risk-service/internal/model"
	"github.com/couchcryptid/quake-risk-service/internal/observability"
)

// ErrChartMissing means no trend chart has been rendered yet.
var ErrChartMissing = errors.New("forecast chart not found")

// Forecast is the monthly outlook for the designated region.
type Forecast struct {
	Region      domain.Region         `json:"region"`
	RegionLabel string                `json:"region_label"`
	Points      []model.ForecastPoint `json:"points"`
	History     []model.ForecastPoint `json:"fitted"`
	TrainedAt   time.Time             `json:"trained_at"`
	RunID       string                `json:"model_run_id"`
}

// ForecastView serves the regional forecaster and its chart.
type ForecastView struct {
	forecaster *model.Forecaster
	meta       model.Meta
	loadErr    error
	chartPath  string
	horizon    int
	clock      clockwork.Clock
}

// NewForecastView wraps an already-loaded forecaster. When loadErr is non-nil
// Forecast returns domain.ErrModelUnavailable.
func NewForecastView(fc *model.Forecaster, meta model.Meta, loadErr error, chartPath string, horizon int, clock clockwork.Clock, metrics *observability.Metrics) *ForecastView {
	loaded := 0.0
	if loadErr == nil && fc != nil {
		loaded = 1
	}
	metrics.ModelLoaded.WithLabelValues("forecaster").Set(loaded)
	return &ForecastView{
		forecaster: fc,
		meta:       meta,
		loadErr:    loadErr,
		chartPath:  chartPath,
		horizon:    horizon,
		clock:      clock,
	}
}

// Ready reports whether forecasts can be served.
func (v *ForecastView) Ready() error {
	if v.loadErr != nil {
		return v.loadErr
	}
	if v.forecaster == nil {
		return fmt.Errorf("%w: forecaster not loaded", domain.ErrModelUnavailable)
	}
	return nil
}

// Forecast returns the horizon months following the current month.
func (v *ForecastView) Forecast() (Forecast, error) {
	if err := v.Ready(); err != nil {
		return Forecast{}, err
	}
	next := domain.MonthStart(v.clock.Now().UTC()).AddDate(0, 1, 0)
	region := domain.Region(v.forecaster.Region)
	return Forecast{
		Region:      region,
		RegionLabel: region.Label(),
		Points:      v.forecaster.Forecast(next, v.horizon),
		History:     v.forecaster.Fitted(),
		TrainedAt:   v.meta.TrainedAt,
		RunID:       v.meta.RunID,
	}, nil
}

// ChartPNG reads the persisted trend chart.
func (v *ForecastView) ChartPNG() ([]byte, error) {
	b, err := os.ReadFile(v.chartPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrChartMissing, v.chartPath)
	}
	if err != nil {
		return nil, fmt.Errorf("read chart: %w", err)
	}
	return b, nil
}
