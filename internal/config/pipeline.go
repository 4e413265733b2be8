package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/quake-risk-service/internal/domain"
)

// Pipeline holds the offline batch parameters: the cleaning window, the
// dataset split and the model hyperparameters.
type Pipeline struct {
	BatchSize  int              `yaml:"batch_size"`
	Window     WindowConfig     `yaml:"window"`
	Split      SplitConfig      `yaml:"split"`
	Regressor  RegressorConfig  `yaml:"regressor"`
	Forecaster ForecasterConfig `yaml:"forecaster"`
}

// WindowConfig bounds the kept catalog rows by date, both ends inclusive.
type WindowConfig struct {
	From string `yaml:"from"` // YYYY-MM-DD
	To   string `yaml:"to"`   // YYYY-MM-DD
}

type SplitConfig struct {
	TrainFraction float64 `yaml:"train_fraction"`
	Seed          uint64  `yaml:"seed"`
}

type RegressorConfig struct {
	NumTrees       int     `yaml:"num_trees"`
	LearningRate   float64 `yaml:"learning_rate"`
	MaxDepth       int     `yaml:"max_depth"`
	MinSamplesLeaf int     `yaml:"min_samples_leaf"`
	MaxBins        int     `yaml:"max_bins"`
	Subsample      float64 `yaml:"subsample"`
	Seed           uint64  `yaml:"seed"`
}

type ForecasterConfig struct {
	// Region is a region code or "auto" for the busiest region.
	Region        string  `yaml:"region"`
	FourierOrder  int     `yaml:"fourier_order"`
	IntervalWidth float64 `yaml:"interval_width"`
	HorizonMonths int     `yaml:"horizon_months"`
}

// DefaultPipeline returns the built-in batch parameters.
func DefaultPipeline() Pipeline {
	return Pipeline{
		BatchSize: 5000,
		Window:    WindowConfig{From: "1990-01-01", To: "2025-12-31"},
		Split:     SplitConfig{TrainFraction: 0.7, Seed: 42},
		Regressor: RegressorConfig{
			NumTrees:       500,
			LearningRate:   0.1,
			MaxDepth:       6,
			MinSamplesLeaf: 20,
			MaxBins:        255,
			Subsample:      1.0,
			Seed:           42,
		},
		Forecaster: ForecasterConfig{
			Region:        "auto",
			FourierOrder:  5,
			IntervalWidth: 0.8,
			HorizonMonths: 12,
		},
	}
}

// LoadPipeline reads a YAML pipeline file. Keys missing from the file keep
// their defaults. An empty path returns DefaultPipeline.
func LoadPipeline(path string) (Pipeline, error) {
	cfg := DefaultPipeline()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read pipeline config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Pipeline{}, fmt.Errorf("parse pipeline config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Pipeline{}, fmt.Errorf("pipeline config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail deep inside a run.
func (p Pipeline) Validate() error {
	if p.BatchSize < 1 {
		return errors.New("batch_size must be positive")
	}
	if _, err := p.CleaningWindow(); err != nil {
		return err
	}
	if p.Split.TrainFraction <= 0 || p.Split.TrainFraction >= 1 {
		return errors.New("split.train_fraction must be in (0, 1)")
	}
	r := p.Regressor
	switch {
	case r.NumTrees < 1:
		return errors.New("regressor.num_trees must be positive")
	case r.LearningRate <= 0:
		return errors.New("regressor.learning_rate must be positive")
	case r.MaxDepth < 1:
		return errors.New("regressor.max_depth must be positive")
	case r.MinSamplesLeaf < 1:
		return errors.New("regressor.min_samples_leaf must be positive")
	case r.MaxBins < 2 || r.MaxBins > 255:
		return errors.New("regressor.max_bins must be in [2, 255]")
	case r.Subsample <= 0 || r.Subsample > 1:
		return errors.New("regressor.subsample must be in (0, 1]")
	}
	f := p.Forecaster
	if f.Region != "auto" && !domain.Region(f.Region).Valid() {
		return fmt.Errorf("forecaster.region %q is not a known region", f.Region)
	}
	if f.FourierOrder < 0 || f.FourierOrder > 5 {
		return errors.New("forecaster.fourier_order must be in [0, 5]")
	}
	if f.IntervalWidth <= 0 || f.IntervalWidth >= 1 {
		return errors.New("forecaster.interval_width must be in (0, 1)")
	}
	if f.HorizonMonths < 1 {
		return errors.New("forecaster.horizon_months must be positive")
	}
	return nil
}

// CleaningWindow parses the configured dates into a domain window.
func (p Pipeline) CleaningWindow() (domain.Window, error) {
	from, err := time.Parse(time.DateOnly, p.Window.From)
	if err != nil {
		return domain.Window{}, fmt.Errorf("window.from: %w", err)
	}
	to, err := time.Parse(time.DateOnly, p.Window.To)
	if err != nil {
		return domain.Window{}, fmt.Errorf("window.to: %w", err)
	}
	if to.Before(from) {
		return domain.Window{}, errors.New("window.to is before window.from")
	}
	return domain.NewDateWindow(from, to), nil
}
