package pipeline

import (
	"context"
	"fmt"

	"github.com/couchcryptid/quake-risk-service/internal/domain"
	"github.com/couchcryptid/quake-risk-service/internal/model"
)

// Extraction is the training input derived from the cleaned table.
type Extraction struct {
	Dataset domain.Dataset
	Buckets []domain.MonthlyBucket
	Region  domain.Region
	Series  []model.Observation
}

// Extract builds the regression split and the monthly series of the
// designated forecast region.
func (p *Pipeline) Extract(ctx context.Context) (Extraction, error) {
	start := p.clock.Now()

	rows, err := p.store.FeatureRows(ctx)
	if err != nil {
		return Extraction{}, fmt.Errorf("extract features: %w", err)
	}
	dataset := domain.SplitDataset(rows, p.cfg.Split.TrainFraction, p.cfg.Split.Seed)

	buckets, err := p.store.MonthlySeries(ctx)
	if err != nil {
		return Extraction{}, fmt.Errorf("extract monthly series: %w", err)
	}

	region, err := p.designatedRegion(buckets)
	if err != nil {
		return Extraction{}, err
	}

	series := domain.SeriesFor(buckets, region)
	obs := make([]model.Observation, len(series))
	for i, b := range series {
		obs[i] = model.Observation{Month: b.Month, Value: float64(b.Count)}
	}

	for _, r := range domain.Regions() {
		s := domain.SeriesFor(buckets, r)
		var total int
		for _, b := range s {
			total += b.Count
		}
		p.logger.Info("monthly series",
			"region", r,
			"months", len(s),
			"events", total,
			"designated", r == region,
		)
	}

	p.observeStage("extract", start, int64(len(rows)))
	p.logger.Info("extract complete",
		"rows", len(rows),
		"train_rows", len(dataset.Train),
		"validation_rows", len(dataset.Validation),
		"forecast_region", region,
		"duration", p.clock.Since(start),
	)

	return Extraction{Dataset: dataset, Buckets: buckets, Region: region, Series: obs}, nil
}

func (p *Pipeline) designatedRegion(buckets []domain.MonthlyBucket) (domain.Region, error) {
	if p.cfg.Forecaster.Region != "auto" {
		return domain.Region(p.cfg.Forecaster.Region), nil
	}
	region, ok := domain.LargestRegion(buckets)
	if !ok {
		return "", fmt.Errorf("%w: no monthly buckets to pick a forecast region from", domain.ErrTraining)
	}
	return region, nil
}
