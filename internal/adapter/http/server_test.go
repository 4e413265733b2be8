package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/quake-risk-service/internal/adapter/http"
	"github.com/couchcryptid/quake-risk-service/internal/alerts"
	"github.com/couchcryptid/quake-risk-service/internal/domain"
	"github.com/couchcryptid/quake-risk-service/internal/model"
	"github.com/couchcryptid/quake-risk-service/internal/observability"
	"github.com/couchcryptid/quake-risk-service/internal/serving"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

var now = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type fixedRegressor float64

func (r fixedRegressor) Predict([]float64) (float64, error) { return float64(r), nil }

type fixedAlerts alerts.Result

func (a fixedAlerts) Recent(context.Context) alerts.Result { return alerts.Result(a) }

type fixedStats struct {
	summary domain.CatalogSummary
	err     error
}

func (s fixedStats) Summary(context.Context) (domain.CatalogSummary, error) { return s.summary, s.err }

type deps struct {
	modelsLoaded bool
	chartPath    string
	stats        serving.StatsSource
	readyErr     error
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fittedForecaster(t *testing.T) *model.Forecaster {
	t.Helper()
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := make([]model.Observation, 24)
	for i := range obs {
		obs[i] = model.Observation{Month: start.AddDate(0, i, 0), Value: float64(50 + i%12)}
	}
	fc := model.NewForecaster(string(domain.RegionAmericas), 1, 0.8)
	require.NoError(t, fc.Fit(obs))
	return fc
}

func newTestServer(t *testing.T, d deps) *httpadapter.Server {
	t.Helper()
	clock := clockwork.NewFakeClockAt(now)
	metrics := observability.NewMetricsForTesting()
	logger := discardLogger()

	var (
		reg     serving.Regressor
		fc      *model.Forecaster
		loadErr error
	)
	if d.modelsLoaded {
		reg = fixedRegressor(5.7)
		fc = fittedForecaster(t)
	} else {
		loadErr = fmt.Errorf("%w: no artifacts", domain.ErrModelUnavailable)
	}

	opts := serving.PredictorOptions{
		DefaultLocation: domain.Location{Lat: -23.55, Lon: -46.63, Name: "São Paulo, Brazil"},
		DepthKm:         10,
		ReferenceTime:   time.Date(2025, 12, 29, 12, 0, 0, 0, time.UTC),
		CacheSize:       8,
	}
	predictor := serving.NewPredictor(reg, model.Meta{RunID: "run-1"}, loadErr, opts, nil, clock, logger, metrics)
	view := serving.NewForecastView(fc, model.Meta{RunID: "run-1"}, loadErr, d.chartPath, 12, clock, metrics)
	recent := fixedAlerts{Status: alerts.StatusOK, Message: "1 earthquake", Alerts: []domain.Alert{{EventID: "us1", Magnitude: 6.4}}, UpdatedAt: now}
	dash := serving.NewDashboard(predictor, view, recent, d.stats, clock, logger)

	return httpadapter.NewServer(":0", dash, &mockReadiness{err: d.readyErr}, logger)
}

func get(t *testing.T, srv *httpadapter.Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(t, newTestServer(t, deps{}), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(t, newTestServer(t, deps{}), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(t, newTestServer(t, deps{readyErr: fmt.Errorf("not ready yet")}), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "not ready yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t, deps{}), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestPredict(t *testing.T) {
	srv := newTestServer(t, deps{modelsLoaded: true})

	t.Run("default location", func(t *testing.T) {
		rec := get(t, srv, "/api/predict")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		assert.Equal(t, 5.7, body["predicted_magnitude"])
		assert.Equal(t, "High", body["risk_level"])
		assert.Equal(t, "run-1", body["model_run_id"])
		loc := body["location"].(map[string]any)
		assert.Equal(t, true, loc["is_default"])
		assert.Equal(t, "São Paulo, Brazil", loc["name"])
	})

	t.Run("coordinates", func(t *testing.T) {
		rec := get(t, srv, "/api/predict?lat=35.68&lon=139.69")
		require.Equal(t, http.StatusOK, rec.Code)

		loc := decode(t, rec)["location"].(map[string]any)
		assert.Equal(t, 35.68, loc["lat"])
		assert.Equal(t, false, loc["is_default"])
	})

	t.Run("out of range", func(t *testing.T) {
		rec := get(t, srv, "/api/predict?lat=91&lon=0")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode(t, rec)["error"], "latitude")
	})

	t.Run("not a number", func(t *testing.T) {
		rec := get(t, srv, "/api/predict?lat=north&lon=0")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode(t, rec)["error"], "not a number")
	})

	t.Run("place search disabled", func(t *testing.T) {
		rec := get(t, srv, "/api/predict?place=Lima")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPredict_ModelUnavailable(t *testing.T) {
	rec := get(t, newTestServer(t, deps{}), "/api/predict")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, serving.StatusUnavailable, body["status"])
	assert.NotEmpty(t, body["message"])
}

func TestForecast(t *testing.T) {
	rec := get(t, newTestServer(t, deps{modelsLoaded: true}), "/api/forecast")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "americas", body["region"])
	points := body["points"].([]any)
	require.Len(t, points, 12)
	first := points[0].(map[string]any)
	assert.Equal(t, "2026-04-01T00:00:00Z", first["month"])

	rec = get(t, newTestServer(t, deps{}), "/api/forecast")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestForecastChart(t *testing.T) {
	path := filepath.Join(t.TempDir(), model.ChartFile)
	srv := newTestServer(t, deps{chartPath: path})

	rec := get(t, srv, "/api/forecast/chart.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, serving.StatusUnavailable, decode(t, rec)["status"])

	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0o644))
	rec = get(t, srv, "/api/forecast/chart.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), rec.Body.Bytes())
}

func TestAlerts(t *testing.T) {
	rec := get(t, newTestServer(t, deps{}), "/api/alerts")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Len(t, body["alerts"], 1)
}

func TestStats(t *testing.T) {
	srv := newTestServer(t, deps{stats: fixedStats{summary: domain.CatalogSummary{TotalEvents: 1234, MaxMagnitude: 8.8}}})
	rec := get(t, srv, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1234), decode(t, rec)["total_events"])

	rec = get(t, newTestServer(t, deps{}), "/api/stats")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = get(t, newTestServer(t, deps{stats: fixedStats{err: domain.ErrDataSource}}), "/api/stats")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMagnitudeScale(t *testing.T) {
	rec := get(t, newTestServer(t, deps{}), "/api/magnitude-scale")
	require.Equal(t, http.StatusOK, rec.Code)

	var bands []domain.MagnitudeBand
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bands))
	assert.Equal(t, domain.MagnitudeScale(), bands)
}

func TestDashboard(t *testing.T) {
	t.Run("everything available", func(t *testing.T) {
		srv := newTestServer(t, deps{modelsLoaded: true, stats: fixedStats{}})
		rec := get(t, srv, "/api/dashboard?lat=-33.45&lon=-70.66")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		for _, section := range []string{"prediction", "forecast", "alerts", "stats"} {
			assert.Equal(t, "ok", body[section].(map[string]any)["status"], section)
		}
		assert.NotEmpty(t, body["magnitude_scale"])
	})

	t.Run("degraded sections still answer 200", func(t *testing.T) {
		rec := get(t, newTestServer(t, deps{}), "/api/dashboard")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		assert.Equal(t, "unavailable", body["prediction"].(map[string]any)["status"])
		assert.Equal(t, "unavailable", body["forecast"].(map[string]any)["status"])
		assert.Equal(t, "unavailable", body["stats"].(map[string]any)["status"])
		assert.Equal(t, "ok", body["alerts"].(map[string]any)["status"])
	})

	t.Run("unparseable coordinates", func(t *testing.T) {
		rec := get(t, newTestServer(t, deps{modelsLoaded: true}), "/api/dashboard?lat=abc&lon=1")
		require.Equal(t, http.StatusOK, rec.Code)

		prediction := decode(t, rec)["prediction"].(map[string]any)
		assert.Equal(t, "invalid", prediction["status"])
		assert.Contains(t, prediction["message"], "not a number")
	})
}
