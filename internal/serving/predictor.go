// Package serving answers dashboard requests from the persisted artifacts.
// Artifacts are loaded once at startup and shared read-only; a missing or
// unreadable artifact degrades its own section only.
package serving

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-risk-service/internal/cache"
	"github.com/couchcryptid/quake-risk-service/internal/domain"
	"github.com/couchcryptid/quake-risk-service/internal/model"
	"github.com/couchcryptid/quake-risk-service/internal/observability"
)

// Regressor predicts a magnitude from a feature row.
type Regressor interface {
	Predict(x []float64) (float64, error)
}

// Request selects the location to score. Lat and Lon must be given together.
// Place is used only when no coordinates are given.
type Request struct {
	Lat   *float64
	Lon   *float64
	Place string
}

// Prediction is one risk estimate.
type Prediction struct {
	Location      domain.Location      `json:"location"`
	Magnitude     float64              `json:"predicted_magnitude"`
	Risk          domain.RiskLevel     `json:"risk_level"`
	Explanation   string               `json:"explanation"`
	Disclaimer    string               `json:"disclaimer"`
	ReferenceTime time.Time            `json:"reference_time"`
	Features      domain.FeatureVector `json:"features"`
	RunID         string               `json:"model_run_id,omitempty"`
}

// PredictorOptions are the serving defaults.
type PredictorOptions struct {
	DefaultLocation domain.Location
	DepthKm         float64
	ReferenceTime   time.Time // zero means the clock's current hour
	CacheSize       int
}

type predictionKey struct {
	lat, lon float64
	at       time.Time
}

// Predictor scores locations with the magnitude regressor.
type Predictor struct {
	regressor Regressor
	meta      model.Meta
	loadErr   error
	opts      PredictorOptions
	geocoder  domain.Geocoder
	cache     *cache.LRU[predictionKey, Prediction]
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewPredictor wraps an already-loaded regressor. When loadErr is non-nil the
// predictor answers every request with domain.ErrModelUnavailable. geocoder
// may be nil.
func NewPredictor(regressor Regressor, meta model.Meta, loadErr error, opts PredictorOptions, geocoder domain.Geocoder, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Predictor {
	loaded := 0.0
	if loadErr == nil && regressor != nil {
		loaded = 1
	}
	metrics.ModelLoaded.WithLabelValues("regressor").Set(loaded)
	return &Predictor{
		regressor: regressor,
		meta:      meta,
		loadErr:   loadErr,
		opts:      opts,
		geocoder:  geocoder,
		cache:     cache.New[predictionKey, Prediction](opts.CacheSize),
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Ready reports whether predictions can be served.
func (p *Predictor) Ready() error {
	if p.loadErr != nil {
		return p.loadErr
	}
	if p.regressor == nil {
		return fmt.Errorf("%w: regressor not loaded", domain.ErrModelUnavailable)
	}
	return nil
}

// Predict resolves the requested location and estimates its magnitude.
// Invalid input wraps domain.ErrInvalidLocation and never reaches the model.
func (p *Predictor) Predict(ctx context.Context, req Request) (Prediction, error) {
	loc, err := p.Resolve(ctx, req)
	if err != nil {
		p.metrics.PredictionErrors.WithLabelValues("invalid_location").Inc()
		return Prediction{}, err
	}
	if err := p.Ready(); err != nil {
		p.metrics.PredictionErrors.WithLabelValues("unavailable").Inc()
		return Prediction{}, err
	}

	at := p.referenceTime()
	key := predictionKey{lat: loc.Lat, lon: loc.Lon, at: at}
	pred, ok := p.cache.Get(key)
	if ok {
		p.metrics.PredictionCache.WithLabelValues("hit").Inc()
	} else {
		p.metrics.PredictionCache.WithLabelValues("miss").Inc()
		fv := domain.NewFeatureVector(loc.Lat, loc.Lon, p.opts.DepthKm, at)
		mag, err := p.regressor.Predict(fv.Values())
		if err != nil {
			p.metrics.PredictionErrors.WithLabelValues("model").Inc()
			return Prediction{}, fmt.Errorf("%w: predict: %w", domain.ErrModelUnavailable, err)
		}
		risk := domain.ClassifyRisk(mag)
		pred = Prediction{
			Magnitude:     math.Round(mag*100) / 100,
			Risk:          risk,
			Explanation:   risk.Explanation(),
			Disclaimer:    domain.Disclaimer,
			ReferenceTime: at,
			Features:      fv,
			RunID:         p.meta.RunID,
		}
		p.cache.Put(key, pred)
	}

	pred.Location = domain.LabelLocation(ctx, loc, p.geocoder, p.logger)
	p.metrics.Predictions.WithLabelValues(pred.Risk.String()).Inc()
	return pred, nil
}

// Resolve turns a request into a validated, rounded location.
func (p *Predictor) Resolve(ctx context.Context, req Request) (domain.Location, error) {
	switch {
	case req.Lat != nil && req.Lon != nil:
		return NewLocation(*req.Lat, *req.Lon)
	case req.Lat != nil || req.Lon != nil:
		return domain.Location{}, fmt.Errorf("%w: lat and lon must be given together", domain.ErrInvalidLocation)
	case req.Place != "":
		loc, err := domain.ResolvePlace(ctx, req.Place, p.geocoder)
		if err != nil {
			return domain.Location{}, err
		}
		rounded, err := NewLocation(loc.Lat, loc.Lon)
		if err != nil {
			return domain.Location{}, err
		}
		rounded.Name, rounded.GeoSource = loc.Name, loc.GeoSource
		return rounded, nil
	default:
		loc := p.opts.DefaultLocation
		loc.IsDefault = true
		loc.GeoSource = "default"
		return loc, nil
	}
}

// NewLocation range-checks a coordinate and rounds it to 4 decimals.
func NewLocation(lat, lon float64) (domain.Location, error) {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return domain.Location{}, fmt.Errorf("%w: latitude %v outside [-90, 90]", domain.ErrInvalidLocation, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return domain.Location{}, fmt.Errorf("%w: longitude %v outside [-180, 180]", domain.ErrInvalidLocation, lon)
	}
	return domain.Location{Lat: round4(lat), Lon: round4(lon)}, nil
}

func (p *Predictor) referenceTime() time.Time {
	if !p.opts.ReferenceTime.IsZero() {
		return p.opts.ReferenceTime.UTC()
	}
	return p.clock.Now().UTC().Truncate(time.Hour)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
