// Package sqlite is the local analytical store: the raw catalog table, the
// cleaned and enriched table, and the aggregates read by training and serving.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/couchcryptid/quake-risk-service/internal/domain"
)

const (
	rawTable     = "earthquakes_raw"
	cleanTable   = "earthquakes"
	stagingAfter = "_staging"
)

// Store wraps a gorm handle on the SQLite catalog database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database for the batch pipeline.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", domain.ErrDataSource, dir, err)
		}
	}
	return open(path)
}

// OpenReadOnly opens an existing database without write access, for serving.
func OpenReadOnly(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDataSource, err)
	}
	return open("file:" + path + "?mode=ro")
}

func open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", domain.ErrDataSource, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDataSource, err)
	}
	// SQLite serializes writers; one connection also keeps the transaction
	// and its staging table on the same handle.
	sqlDB.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ReplaceRaw loads every row of src into a fresh raw table. The new table is
// built under a staging name and swapped in by one transaction, so a failure
// leaves the previous raw table untouched.
func (s *Store) ReplaceRaw(ctx context.Context, src domain.RawBatchSource, batchSize int) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		staging := rawTable + stagingAfter
		if err := recreate(tx, staging, &rawRow{}); err != nil {
			return err
		}
		for {
			events, err := src.ExtractBatch(ctx, batchSize)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			rows := make([]rawRow, len(events))
			for i := range events {
				rows[i] = newRawRow(events[i])
			}
			if err := tx.Table(staging).CreateInBatches(rows, batchSize).Error; err != nil {
				return fmt.Errorf("insert raw rows: %w", err)
			}
			total += int64(len(rows))
		}
		return swap(tx, staging, rawTable, nil)
	})
	if err != nil {
		return 0, wrapSource("replace raw table", err)
	}
	return total, nil
}

// CleanFunc turns one batch of raw rows into the rows to keep.
type CleanFunc = func([]domain.RawEvent) []domain.CleanEvent

// RebuildCleaned streams the raw table through clean in ingestion order and
// replaces the cleaned table with the result, atomically.
func (s *Store) RebuildCleaned(ctx context.Context, batchSize int, clean CleanFunc) (int64, error) {
	var kept int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !tx.Migrator().HasTable(rawTable) {
			return fmt.Errorf("table %s does not exist; run ingestion first", rawTable)
		}
		staging := cleanTable + stagingAfter
		if err := recreate(tx, staging, &eventRow{}); err != nil {
			return err
		}

		var batch []rawRow
		var insertErr error
		res := tx.Table(rawTable).FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			raws := make([]domain.RawEvent, len(batch))
			for i := range batch {
				raws[i] = batch[i].toDomain()
			}
			events := clean(raws)
			if len(events) == 0 {
				return nil
			}
			rows := make([]eventRow, len(events))
			for i := range events {
				rows[i] = newEventRow(events[i])
			}
			if err := tx.Table(staging).CreateInBatches(rows, batchSize).Error; err != nil {
				insertErr = fmt.Errorf("insert cleaned rows: %w", err)
				return insertErr
			}
			kept += int64(len(rows))
			return nil
		})
		if insertErr != nil {
			return insertErr
		}
		if res.Error != nil {
			return fmt.Errorf("read raw rows: %w", res.Error)
		}
		return swap(tx, staging, cleanTable, cleanIndexes)
	})
	if err != nil {
		return 0, wrapSource("rebuild cleaned table", err)
	}
	return kept, nil
}

var cleanIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_earthquakes_event_id ON earthquakes(event_id)",
	"CREATE INDEX IF NOT EXISTS idx_earthquakes_time ON earthquakes(time)",
	"CREATE INDEX IF NOT EXISTS idx_earthquakes_region_month ON earthquakes(region, year, month)",
}

func recreate(tx *gorm.DB, table string, model any) error {
	if err := tx.Migrator().DropTable(table); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	if err := tx.Table(table).Migrator().CreateTable(model); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}

func swap(tx *gorm.DB, staging, target string, indexes []string) error {
	if err := tx.Migrator().DropTable(target); err != nil {
		return fmt.Errorf("drop %s: %w", target, err)
	}
	if err := tx.Migrator().RenameTable(staging, target); err != nil {
		return fmt.Errorf("rename %s: %w", staging, err)
	}
	for _, stmt := range indexes {
		if err := tx.Exec(stmt).Error; err != nil {
			return fmt.Errorf("index %s: %w", target, err)
		}
	}
	return nil
}

// RawCount returns the number of rows in the raw table.
func (s *Store) RawCount(ctx context.Context) (int64, error) {
	return s.count(ctx, rawTable)
}

// CleanedCount returns the number of rows in the cleaned table.
func (s *Store) CleanedCount(ctx context.Context) (int64, error) {
	return s.count(ctx, cleanTable)
}

func (s *Store) count(ctx context.Context, table string) (int64, error) {
	db := s.db.WithContext(ctx)
	if err := requireTable(db, table); err != nil {
		return 0, err
	}
	var n int64
	if err := db.Table(table).Count(&n).Error; err != nil {
		return 0, wrapSource("count "+table, err)
	}
	return n, nil
}

// EachCleaned calls fn with consecutive batches of the cleaned table in
// insertion order.
func (s *Store) EachCleaned(ctx context.Context, batchSize int, fn func([]domain.CleanEvent) error) error {
	db := s.db.WithContext(ctx)
	if err := requireTable(db, cleanTable); err != nil {
		return err
	}
	var batch []eventRow
	var fnErr error
	res := db.Table(cleanTable).FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
		events := make([]domain.CleanEvent, len(batch))
		for i := range batch {
			events[i] = batch[i].toDomain()
		}
		fnErr = fn(events)
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if res.Error != nil {
		return wrapSource("read cleaned rows", res.Error)
	}
	return nil
}

// FeatureRows returns the feature/target projection of every cleaned row,
// ordered by event id so the extraction is reproducible.
func (s *Store) FeatureRows(ctx context.Context) ([]domain.LabeledRow, error) {
	db := s.db.WithContext(ctx)
	if err := requireTable(db, cleanTable); err != nil {
		return nil, err
	}
	var rows []featureRow
	err := db.Table(cleanTable).
		Select("event_id, latitude, longitude, depth, year, month, day, hour, magnitude").
		Order("event_id, id").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapSource("read feature rows", err)
	}

	out := make([]domain.LabeledRow, len(rows))
	for i, r := range rows {
		out[i] = domain.LabeledRow{
			EventID: r.EventID,
			Features: domain.FeatureVector{
				Latitude:  r.Latitude,
				Longitude: r.Longitude,
				Depth:     r.Depth,
				Year:      r.Year,
				Month:     r.Month,
				Day:       r.Day,
				Hour:      r.Hour,
			},
			Magnitude: r.Magnitude,
		}
	}
	return out, nil
}

// MonthlySeries counts cleaned events per UTC calendar month and region,
// ordered by month then region.
func (s *Store) MonthlySeries(ctx context.Context) ([]domain.MonthlyBucket, error) {
	db := s.db.WithContext(ctx)
	if err := requireTable(db, cleanTable); err != nil {
		return nil, err
	}
	var rows []monthlyRow
	err := db.Table(cleanTable).
		Select("year, month, region, COUNT(*) AS count, AVG(magnitude) AS mean_magnitude").
		Group("year, month, region").
		Order("year, month, region").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapSource("aggregate monthly series", err)
	}

	out := make([]domain.MonthlyBucket, len(rows))
	for i, r := range rows {
		out[i] = domain.MonthlyBucket{
			Month:         time.Date(r.Year, time.Month(r.Month), 1, 0, 0, 0, 0, time.UTC),
			Region:        domain.Region(r.Region),
			Count:         r.Count,
			MeanMagnitude: r.MeanMagnitude,
		}
	}
	return out, nil
}

// Summary describes the cleaned table as a whole.
func (s *Store) Summary(ctx context.Context) (domain.CatalogSummary, error) {
	db := s.db.WithContext(ctx)
	if err := requireTable(db, cleanTable); err != nil {
		return domain.CatalogSummary{}, err
	}

	var agg summaryRow
	err := db.Table(cleanTable).
		Select("COUNT(*) AS total, COALESCE(AVG(magnitude), 0) AS mean_mag, COALESCE(MAX(magnitude), 0) AS max_mag, " +
			"COALESCE(MIN(energy_joules), 0) AS min_energy, COALESCE(MAX(energy_joules), 0) AS max_energy").
		Scan(&agg).Error
	if err != nil {
		return domain.CatalogSummary{}, wrapSource("summarize catalog", err)
	}

	summary := domain.CatalogSummary{
		TotalEvents:   agg.Total,
		MeanMagnitude: agg.MeanMag,
		MaxMagnitude:  agg.MaxMag,
		MinEnergy:     agg.MinEnergy,
		MaxEnergy:     agg.MaxEnergy,
		ByRegion:      []domain.RegionCount{},
	}
	if agg.Total == 0 {
		return summary, nil
	}

	var first, last eventRow
	if err := db.Table(cleanTable).Order("time ASC").Limit(1).Take(&first).Error; err != nil {
		return domain.CatalogSummary{}, wrapSource("earliest event", err)
	}
	if err := db.Table(cleanTable).Order("time DESC").Limit(1).Take(&last).Error; err != nil {
		return domain.CatalogSummary{}, wrapSource("latest event", err)
	}
	summary.From, summary.To = first.Time.UTC(), last.Time.UTC()

	var regions []regionRow
	err = db.Table(cleanTable).
		Select("region, COUNT(*) AS events").
		Group("region").
		Order("events DESC, region").
		Scan(&regions).Error
	if err != nil {
		return domain.CatalogSummary{}, wrapSource("count regions", err)
	}
	for _, r := range regions {
		region := domain.Region(r.Region)
		summary.ByRegion = append(summary.ByRegion, domain.RegionCount{
			Region: region,
			Label:  region.Label(),
			Events: r.Events,
		})
	}
	return summary, nil
}

func requireTable(db *gorm.DB, table string) error {
	if !db.Migrator().HasTable(table) {
		return fmt.Errorf("%w: table %s does not exist", domain.ErrDataSource, table)
	}
	return nil
}

func wrapSource(op string, err error) error {
	if errors.Is(err, domain.ErrDataSource) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrDataSource, op, err)
}
