package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/quake-risk-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/quake-risk-service/internal/adapter/kafka"
	"github.com/couchcryptid/quake-risk-service/internal/adapter/mapbox"
	"github.com/couchcryptid/quake-risk-service/internal/adapter/sqlite"
	"github.com/couchcryptid/quake-risk-service/internal/adapter/usgs"
	"github.com/couchcryptid/quake-risk-service/internal/alerts"
	"github.com/couchcryptid/quake-risk-service/internal/config"
	"github.com/couchcryptid/quake-risk-service/internal/domain"
	"github.com/couchcryptid/quake-risk-service/internal/model"
	"github.com/couchcryptid/quake-risk-service/internal/observability"
	"github.com/couchcryptid/quake-risk-service/internal/serving"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	// Artifacts are loaded once. A missing or corrupt artifact degrades its
	// dashboard section instead of stopping the process.
	var regressor serving.Regressor
	reg, regMeta, regErr := model.LoadRegressor(filepath.Join(cfg.ModelDir, model.RegressorFile))
	if regErr != nil {
		logger.Warn("magnitude regressor unavailable", "error", regErr)
	} else {
		regressor = reg
		logger.Info("magnitude regressor loaded", "run_id", regMeta.RunID, "trees", len(reg.Trees))
	}

	fc, fcMeta, fcErr := model.LoadForecaster(filepath.Join(cfg.ModelDir, model.ForecasterFile))
	if fcErr != nil {
		logger.Warn("region forecaster unavailable", "error", fcErr)
	} else {
		logger.Info("region forecaster loaded", "run_id", fcMeta.RunID, "region", fc.Region)
	}

	var stats serving.StatsSource
	store, err := sqlite.OpenReadOnly(cfg.DBPath)
	if err != nil {
		logger.Warn("catalog store unavailable", "error", err)
	} else {
		stats = store
	}

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	// Optional fan-out of fetched alerts.
	var publisher alerts.Publisher
	var kafkaWriter *kafkaadapter.AlertPublisher
	if cfg.AlertsKafka {
		kafkaWriter = kafkaadapter.NewAlertPublisher(cfg.KafkaBrokers, cfg.AlertsKafkaTopic, logger)
		publisher = kafkaWriter
		logger.Info("alert publishing enabled", "topic", cfg.AlertsKafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	recent := alerts.NewService(
		usgs.NewClient(cfg.USGSBaseURL, cfg.AlertsTimeout, logger),
		publisher,
		alerts.Options{
			Lookback:     cfg.AlertsLookback,
			MinMagnitude: cfg.AlertsMinMagnitude,
			Limit:        cfg.AlertsLimit,
			DisplayLimit: cfg.AlertsDisplayLimit,
			CacheTTL:     cfg.AlertsCacheTTL,
			FetchTimeout: cfg.AlertsTimeout,
		},
		clock, logger, metrics,
	)

	predictor := serving.NewPredictor(regressor, regMeta, regErr, serving.PredictorOptions{
		DefaultLocation: domain.Location{
			Lat:  cfg.DefaultLatitude,
			Lon:  cfg.DefaultLongitude,
			Name: cfg.DefaultLocationName,
		},
		DepthKm:       cfg.DefaultDepthKm,
		ReferenceTime: cfg.ReferenceTime,
		CacheSize:     cfg.PredictionCacheSize,
	}, geocoder, clock, logger, metrics)

	view := serving.NewForecastView(fc, fcMeta, fcErr,
		filepath.Join(cfg.ModelDir, model.ChartFile), cfg.ForecastHorizon, clock, metrics)

	dash := serving.NewDashboard(predictor, view, recent, stats, clock, logger)

	gin.SetMode(gin.ReleaseMode)
	srv := httpadapter.NewServer(cfg.HTTPAddr, dash, dash, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	recent.Wait()
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
