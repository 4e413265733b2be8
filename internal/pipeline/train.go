package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/couchcryptid/quake-risk-service/internal/adapter/chart"
	"github.com/couchcryptid/quake-risk-service/internal/domain"
	"github.com/couchcryptid/quake-risk-service/internal/model"
)

// TrainReport describes one training run.
type TrainReport struct {
	RunID          string        `json:"run_id"`
	TrainRows      int           `json:"train_rows"`
	ValidationRows int           `json:"validation_rows"`
	ValidationMAE  float64       `json:"validation_mae"`
	Region         domain.Region `json:"forecast_region"`
	SeriesMonths   int           `json:"series_months"`
	Files          []string      `json:"files"`
}

// Train fits the magnitude regressor and the regional forecaster, renders the
// trend chart, and persists all three. Nothing is written unless every model
// fits and the chart renders.
func (p *Pipeline) Train(ctx context.Context) (TrainReport, error) {
	ext, err := p.Extract(ctx)
	if err != nil {
		return TrainReport{}, wrapTraining("train", err)
	}
	start := p.clock.Now()

	reg, mae, err := p.fitRegressor(ext.Dataset)
	if err != nil {
		return TrainReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return TrainReport{}, err
	}

	fc := model.NewForecaster(string(ext.Region), p.cfg.Forecaster.FourierOrder, p.cfg.Forecaster.IntervalWidth)
	if err := fc.Fit(ext.Series); err != nil {
		return TrainReport{}, wrapTraining(fmt.Sprintf("fit forecaster for %s", ext.Region), err)
	}

	horizon := fc.Horizon(p.cfg.Forecaster.HorizonMonths)
	png, err := chart.TrendPNG(
		fmt.Sprintf("Monthly events: %s", ext.Region.Label()),
		ext.Series, fc.Fitted(), horizon,
	)
	if err != nil {
		return TrainReport{}, wrapTraining("render chart", err)
	}

	meta := model.Meta{
		RunID:     p.newRunID(),
		TrainedAt: p.clock.Now().UTC(),
	}
	regMeta := meta
	if !math.IsNaN(mae) {
		regMeta.Metrics = map[string]float64{"validation_mae": mae}
	}
	regJSON, err := model.EncodeRegressor(reg, regMeta)
	if err != nil {
		return TrainReport{}, wrapTraining("encode regressor", err)
	}

	fcMeta := meta
	fcMeta.Metrics = map[string]float64{"residual_sigma": fc.Sigma, "months": float64(fc.Observations)}
	fcJSON, err := model.EncodeForecaster(fc, fcMeta)
	if err != nil {
		return TrainReport{}, wrapTraining("encode forecaster", err)
	}

	files := map[string][]byte{
		model.RegressorFile:  regJSON,
		model.ForecasterFile: fcJSON,
		model.ChartFile:      png,
	}
	if err := model.WriteFiles(p.modelDir, files); err != nil {
		return TrainReport{}, wrapTraining("persist artifacts", err)
	}

	p.observeStage("train", start, int64(len(ext.Dataset.Train)))
	for _, pt := range horizon {
		p.logger.Debug("forecast",
			"region", ext.Region,
			"month", pt.Month.Format("2006-01"),
			"yhat", pt.Yhat,
			"lower", pt.Lower,
			"upper", pt.Upper,
		)
	}
	attrs := []any{
		"run_id", meta.RunID,
		"forecast_region", ext.Region,
		"model_dir", p.modelDir,
		"duration", p.clock.Since(start),
	}
	if !math.IsNaN(mae) {
		attrs = append(attrs, "validation_mae", mae)
	}
	p.logger.Info("training complete", attrs...)

	return TrainReport{
		RunID:          meta.RunID,
		TrainRows:      len(ext.Dataset.Train),
		ValidationRows: len(ext.Dataset.Validation),
		ValidationMAE:  mae,
		Region:         ext.Region,
		SeriesMonths:   fc.Observations,
		Files:          []string{model.RegressorFile, model.ForecasterFile, model.ChartFile},
	}, nil
}

// fitRegressor trains on the training split and scores the validation split.
// The MAE is NaN when the validation split is empty.
func (p *Pipeline) fitRegressor(ds domain.Dataset) (*model.Regressor, float64, error) {
	X, y := matrix(ds.Train)

	rc := p.cfg.Regressor
	reg := model.NewRegressor(model.Params{
		NumTrees:       rc.NumTrees,
		LearningRate:   rc.LearningRate,
		MaxDepth:       rc.MaxDepth,
		MinSamplesLeaf: rc.MinSamplesLeaf,
		MaxBins:        rc.MaxBins,
		Subsample:      rc.Subsample,
		Seed:           rc.Seed,
	})
	if err := reg.Fit(domain.FeatureNames, X, y); err != nil {
		return nil, 0, wrapTraining("fit regressor", err)
	}

	if len(ds.Validation) == 0 {
		p.logger.Warn("validation split is empty, skipping evaluation")
		return reg, math.NaN(), nil
	}
	vX, vy := matrix(ds.Validation)
	pred, err := reg.PredictBatch(vX)
	if err != nil {
		return nil, 0, wrapTraining("score validation split", err)
	}
	mae := model.MeanAbsoluteError(pred, vy)
	p.metrics.ValidationMAE.Set(mae)
	return reg, mae, nil
}

func matrix(rows []domain.LabeledRow) ([][]float64, []float64) {
	X := make([][]float64, len(rows))
	y := make([]float64, len(rows))
	for i, r := range rows {
		X[i] = r.Features.Values()
		y[i] = r.Magnitude
	}
	return X, y
}
