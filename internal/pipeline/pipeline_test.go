package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-risk-service/internal/adapter/csvsource"
	"github.com/couchcryptid/quake-risk-service/internal/adapter/sqlite"
	"github.com/couchcryptid/quake-risk-service/internal/config"
	"github.com/couchcryptid/quake-risk-service/internal/domain"
	"github.com/couchcryptid/quake-risk-service/internal/mockdata"
	"github.com/couchcryptid/quake-risk-service/internal/model"
	"github.com/couchcryptid/quake-risk-service/internal/observability"
	"github.com/couchcryptid/quake-risk-service/internal/pipeline"
)

var trainedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Pipeline {
	cfg := config.DefaultPipeline()
	cfg.BatchSize = 128
	cfg.Window = config.WindowConfig{From: "2018-01-01", To: "2020-12-31"}
	cfg.Regressor.NumTrees = 20
	cfg.Regressor.MaxDepth = 3
	cfg.Regressor.MinSamplesLeaf = 5
	cfg.Regressor.MaxBins = 32
	cfg.Forecaster.FourierOrder = 2
	return cfg
}

// catalog renders a small synthetic catalog with every kind of dirty row.
func catalog(t *testing.T, rows int) *csvsource.Reader {
	t.Helper()
	opts := mockdata.Options{
		Rows:             rows,
		Seed:             7,
		Start:            time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
		End:              time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		MissingMagnitude: 0.05,
		OutOfRange:       0.05,
		OutsideWindow:    0.05,
	}
	var buf bytes.Buffer
	require.NoError(t, mockdata.WriteCSV(&buf, mockdata.Generate(opts)))
	r, err := csvsource.NewReader(&buf)
	require.NoError(t, err)
	return r
}

type fixture struct {
	pipeline *pipeline.Pipeline
	store    *sqlite.Store
	metrics  *observability.Metrics
	modelDir string
}

func newFixture(t *testing.T, cfg config.Pipeline, wrap func(pipeline.Store) pipeline.Store) fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.Open(filepath.Join(dir, "earthquake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var s pipeline.Store = store
	if wrap != nil {
		s = wrap(store)
	}
	metrics := observability.NewMetricsForTesting()
	modelDir := filepath.Join(dir, "models")
	p, err := pipeline.New(s, cfg, modelDir, discardLogger(), metrics, clockwork.NewFakeClockAt(trainedAt))
	require.NoError(t, err)
	return fixture{pipeline: p, store: store, metrics: metrics, modelDir: modelDir}
}

// flakyStore fails MonthlySeries on demand.
type flakyStore struct {
	pipeline.Store
	monthlyErr error
}

func (f *flakyStore) MonthlySeries(ctx context.Context) ([]domain.MonthlyBucket, error) {
	if f.monthlyErr != nil {
		return nil, f.monthlyErr
	}
	return f.Store.MonthlySeries(ctx)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Split.TrainFraction = 1

	_, err := pipeline.New(nil, cfg, t.TempDir(), discardLogger(), observability.NewMetricsForTesting(), clockwork.NewFakeClock())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "train_fraction")
}

func TestRunETL_ReportsEveryRow(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()

	report, err := f.pipeline.RunETL(ctx, catalog(t, 600))
	require.NoError(t, err)

	assert.Equal(t, int64(600), report.RowsRead)
	assert.Equal(t, report.RowsRead, report.RowsKept+report.RowsRejected())
	assert.Positive(t, report.Rejected[domain.RejectMissingMagnitude])
	assert.Positive(t, report.Rejected[domain.RejectOutOfRange])
	assert.Positive(t, report.Rejected[domain.RejectOutsideWindow])

	raw, err := f.store.RawCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(600), raw)
	kept, err := f.store.CleanedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.RowsKept, kept)

	assert.InDelta(t, 600, testutil.ToFloat64(f.metrics.StageRows.WithLabelValues("ingest")), 0)
	assert.InDelta(t, float64(report.RowsKept), testutil.ToFloat64(f.metrics.StageRows.WithLabelValues("clean")), 0)
	assert.InDelta(t, float64(report.Rejected[domain.RejectMissingMagnitude]),
		testutil.ToFloat64(f.metrics.RowsRejected.WithLabelValues(string(domain.RejectMissingMagnitude))), 0)
}

func TestRunETL_RerunReplacesTables(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()

	_, err := f.pipeline.RunETL(ctx, catalog(t, 400))
	require.NoError(t, err)
	second, err := f.pipeline.RunETL(ctx, catalog(t, 150))
	require.NoError(t, err)

	raw, err := f.store.RawCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(150), raw)
	kept, err := f.store.CleanedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.RowsKept, kept)
}

func TestClean_WithoutIngest(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	_, err := f.pipeline.Clean(context.Background())
	require.ErrorIs(t, err, domain.ErrDataSource)
}

func TestIngest_SourceFailureKeepsPreviousTable(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, catalog(t, 200))
	require.NoError(t, err)

	bad := bytes.NewBufferString("time,latitude,longitude,depth,mag,place,title\nnot-a-time,1,2,3,4,x,y\n")
	r, err := csvsource.NewReader(bad)
	require.NoError(t, err)
	_, err = f.pipeline.Ingest(ctx, r)
	require.ErrorIs(t, err, domain.ErrDataSource)

	raw, err := f.store.RawCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200), raw)
}

func TestExtract_DesignatedRegion(t *testing.T) {
	ctx := context.Background()

	t.Run("auto picks the busiest region", func(t *testing.T) {
		f := newFixture(t, testConfig(), nil)
		_, err := f.pipeline.RunETL(ctx, catalog(t, 600))
		require.NoError(t, err)

		ext, err := f.pipeline.Extract(ctx)
		require.NoError(t, err)
		want, ok := domain.LargestRegion(ext.Buckets)
		require.True(t, ok)
		assert.Equal(t, want, ext.Region)
		assert.NotEmpty(t, ext.Series)
		assert.Equal(t, len(ext.Dataset.Train)+len(ext.Dataset.Validation), countRows(t, f.store))
	})

	t.Run("configured region wins", func(t *testing.T) {
		cfg := testConfig()
		cfg.Forecaster.Region = string(domain.RegionEuropeAfrica)
		f := newFixture(t, cfg, nil)
		_, err := f.pipeline.RunETL(ctx, catalog(t, 600))
		require.NoError(t, err)

		ext, err := f.pipeline.Extract(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.RegionEuropeAfrica, ext.Region)
		for _, o := range ext.Series {
			assert.Equal(t, 1, o.Month.Day())
		}
	})
}

func countRows(t *testing.T, s *sqlite.Store) int {
	t.Helper()
	n, err := s.CleanedCount(context.Background())
	require.NoError(t, err)
	return int(n)
}

func TestTrain_WritesArtifacts(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()
	_, err := f.pipeline.RunETL(ctx, catalog(t, 800))
	require.NoError(t, err)

	report, err := f.pipeline.Train(ctx)
	require.NoError(t, err)

	_, err = uuid.Parse(report.RunID)
	require.NoError(t, err)
	assert.Positive(t, report.TrainRows)
	assert.Positive(t, report.ValidationRows)
	assert.False(t, math.IsNaN(report.ValidationMAE))
	assert.Less(t, report.ValidationMAE, 1.5)
	assert.ElementsMatch(t, []string{model.RegressorFile, model.ForecasterFile, model.ChartFile}, report.Files)

	reg, meta, err := model.LoadRegressor(filepath.Join(f.modelDir, model.RegressorFile))
	require.NoError(t, err)
	assert.Equal(t, report.RunID, meta.RunID)
	assert.True(t, meta.TrainedAt.Equal(trainedAt))
	assert.InDelta(t, report.ValidationMAE, meta.Metrics["validation_mae"], 1e-9)
	assert.Len(t, reg.Trees, 20)

	fc, fcMeta, err := model.LoadForecaster(filepath.Join(f.modelDir, model.ForecasterFile))
	require.NoError(t, err)
	assert.Equal(t, report.RunID, fcMeta.RunID)
	assert.Equal(t, string(report.Region), fc.Region)
	assert.Equal(t, report.SeriesMonths, fc.Observations)

	png, err := os.ReadFile(filepath.Join(f.modelDir, model.ChartFile))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	assert.InDelta(t, report.ValidationMAE, testutil.ToFloat64(f.metrics.ValidationMAE), 1e-9)
}

func TestTrain_EmptyCatalog(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	ctx := context.Background()

	empty, err := csvsource.NewReader(bytes.NewBufferString("time,latitude,longitude,depth,mag,place,title\n"))
	require.NoError(t, err)
	_, err = f.pipeline.RunETL(ctx, empty)
	require.NoError(t, err)

	_, err = f.pipeline.Train(ctx)
	require.ErrorIs(t, err, domain.ErrTraining)
	_, statErr := os.Stat(filepath.Join(f.modelDir, model.RegressorFile))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestTrain_WithoutCleanedTable(t *testing.T) {
	f := newFixture(t, testConfig(), nil)

	_, err := f.pipeline.Train(context.Background())
	require.ErrorIs(t, err, domain.ErrDataSource)
}

func TestTrain_FailureKeepsPreviousArtifacts(t *testing.T) {
	var flaky *flakyStore
	f := newFixture(t, testConfig(), func(s pipeline.Store) pipeline.Store {
		flaky = &flakyStore{Store: s}
		return flaky
	})
	ctx := context.Background()
	_, err := f.pipeline.RunETL(ctx, catalog(t, 600))
	require.NoError(t, err)
	_, err = f.pipeline.Train(ctx)
	require.NoError(t, err)

	before := readArtifacts(t, f.modelDir)

	flaky.monthlyErr = errors.New("database is locked")
	_, err = f.pipeline.Train(ctx)
	require.ErrorIs(t, err, domain.ErrTraining)

	assert.Equal(t, before, readArtifacts(t, f.modelDir))
}

func TestTrain_SeriesTooShort(t *testing.T) {
	cfg := testConfig()
	cfg.Window = config.WindowConfig{From: "2018-01-01", To: "2018-03-31"}
	f := newFixture(t, cfg, nil)
	ctx := context.Background()
	_, err := f.pipeline.RunETL(ctx, catalog(t, 600))
	require.NoError(t, err)

	_, err = f.pipeline.Train(ctx)
	require.ErrorIs(t, err, domain.ErrTraining)
	require.ErrorIs(t, err, model.ErrSeriesTooShort)
}

func TestTrain_Canceled(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	_, err := f.pipeline.RunETL(context.Background(), catalog(t, 300))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.pipeline.Train(ctx)
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(f.modelDir, model.RegressorFile))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func readArtifacts(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte)
	for _, name := range []string{model.RegressorFile, model.ForecasterFile, model.ChartFile} {
		b, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		out[name] = b
	}
	return out
}
