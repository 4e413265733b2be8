package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/quake-risk-service/internal/domain"
)

// Artifact file names inside the model directory.
const (
	RegressorFile  = "magnitude_regressor.json"
	ForecasterFile = "region_forecaster.json"
	ChartFile      = "forecast_trend.png"
)

const (
	kindRegressor  = "magnitude_regressor"
	kindForecaster = "region_forecaster"
)

// Meta identifies one training run.
type Meta struct {
	RunID     string             `json:"run_id"`
	TrainedAt time.Time          `json:"trained_at"`
	Features  []string           `json:"features,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

type envelope[T any] struct {
	Kind string `json:"kind"`
	Meta
	Model T `json:"model"`
}

// EncodeRegressor serializes a fitted regressor with its run metadata.
func EncodeRegressor(r *Regressor, meta Meta) ([]byte, error) {
	if len(r.Trees) == 0 {
		return nil, errors.New("regressor is not fitted")
	}
	meta.Features = r.Features
	return json.Marshal(envelope[*Regressor]{Kind: kindRegressor, Meta: meta, Model: r})
}

// EncodeForecaster serializes a fitted forecaster with its run metadata.
func EncodeForecaster(f *Forecaster, meta Meta) ([]byte, error) {
	if len(f.Coefficients) == 0 {
		return nil, errors.New("forecaster is not fitted")
	}
	return json.Marshal(envelope[*Forecaster]{Kind: kindForecaster, Meta: meta, Model: f})
}

// LoadRegressor reads a regressor artifact. Any failure, including a feature
// schema that does not match the serving schema, wraps domain.ErrModelUnavailable.
func LoadRegressor(path string) (*Regressor, Meta, error) {
	env, err := readEnvelope[*Regressor](path, kindRegressor)
	if err != nil {
		return nil, Meta{}, err
	}
	r := env.Model
	if r == nil || len(r.Trees) == 0 {
		return nil, Meta{}, fmt.Errorf("%w: %s has no trees", domain.ErrModelUnavailable, path)
	}
	if !domain.SchemaMatches(r.Features) {
		return nil, Meta{}, fmt.Errorf("%w: %s features %v do not match %v",
			domain.ErrModelUnavailable, path, r.Features, domain.FeatureNames)
	}
	for ti, t := range r.Trees {
		if err := t.validate(len(r.Features)); err != nil {
			return nil, Meta{}, fmt.Errorf("%w: %s tree %d: %w", domain.ErrModelUnavailable, path, ti, err)
		}
	}
	return r, env.Meta, nil
}

// LoadForecaster reads a forecaster artifact. Failures wrap domain.ErrModelUnavailable.
func LoadForecaster(path string) (*Forecaster, Meta, error) {
	env, err := readEnvelope[*Forecaster](path, kindForecaster)
	if err != nil {
		return nil, Meta{}, err
	}
	f := env.Model
	if f == nil || len(f.Coefficients) != f.numCoefficients() {
		return nil, Meta{}, fmt.Errorf("%w: %s has malformed coefficients", domain.ErrModelUnavailable, path)
	}
	return f, env.Meta, nil
}

func readEnvelope[T any](path, kind string) (envelope[T], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return envelope[T]{}, fmt.Errorf("%w: read %s: %w", domain.ErrModelUnavailable, path, err)
	}
	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope[T]{}, fmt.Errorf("%w: decode %s: %w", domain.ErrModelUnavailable, path, err)
	}
	if env.Kind != kind {
		return envelope[T]{}, fmt.Errorf("%w: %s holds %q, want %q", domain.ErrModelUnavailable, path, env.Kind, kind)
	}
	return env, nil
}

// validate checks that every child index and feature index is in range and
// that children come after their parent, so prediction always terminates.
func (t Tree) validate(numFeatures int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Leaf {
			continue
		}
		if n.Feature < 0 || n.Feature >= numFeatures {
			return fmt.Errorf("node %d: feature %d out of range", i, n.Feature)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: bad children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}

// WriteFiles writes every file into dir, each through a temp file renamed into
// place. Nothing is written when dir cannot be created.
func WriteFiles(dir string, files map[string][]byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir %s: %w", dir, err)
	}
	for name, data := range files {
		if err := writeAtomic(filepath.Join(dir, name), data); err != nil {
			return err
		}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("persist %s: %w", path, err)
	}
	return nil
}
