package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Storage and artifacts.
	CatalogPath    string
	DBPath         string
	ModelDir       string
	PipelineConfig string

	// Prediction defaults.
	DefaultLatitude     float64
	DefaultLongitude    float64
	DefaultLocationName string
	DefaultDepthKm      float64
	ReferenceTime       time.Time // zero means "use the current time"
	PredictionCacheSize int
	ForecastHorizon     int

	// Recent alerts (USGS FDSN event service).
	USGSBaseURL        string
	AlertsTimeout      time.Duration
	AlertsCacheTTL     time.Duration
	AlertsLookback     time.Duration
	AlertsMinMagnitude float64
	AlertsLimit        int
	AlertsDisplayLimit int

	// Optional Kafka fan-out of fresh alerts.
	KafkaBrokers     []string
	AlertsKafkaTopic string
	AlertsKafka      bool

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	alertsTimeout, err := parsePositiveDuration("ALERTS_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	alertsTTL, err := parsePositiveDuration("ALERTS_CACHE_TTL", "60s")
	if err != nil {
		return nil, err
	}
	alertsLookback, err := parsePositiveDuration("ALERTS_LOOKBACK", "720h")
	if err != nil {
		return nil, err
	}

	defaultLat, err := parseFloat("DEFAULT_LATITUDE", "-23.55", -90, 90)
	if err != nil {
		return nil, err
	}
	defaultLon, err := parseFloat("DEFAULT_LONGITUDE", "-46.63", -180, 180)
	if err != nil {
		return nil, err
	}
	defaultDepth, err := parseFloat("DEFAULT_DEPTH_KM", "10", 0, 1000)
	if err != nil {
		return nil, err
	}
	minMag, err := parseFloat("ALERTS_MIN_MAGNITUDE", "6.0", -1, 10)
	if err != nil {
		return nil, err
	}

	alertsLimit, err := parseIntRange("ALERTS_LIMIT", 20, 1, 20000)
	if err != nil {
		return nil, err
	}
	displayLimit, err := parseIntRange("ALERTS_DISPLAY_LIMIT", 10, 1, 20000)
	if err != nil {
		return nil, err
	}
	horizon, err := parseIntRange("FORECAST_HORIZON_MONTHS", 12, 1, 120)
	if err != nil {
		return nil, err
	}

	refTime, err := parseReferenceTime()
	if err != nil {
		return nil, err
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	brokers := sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092"))
	alertsKafka := os.Getenv("ALERTS_KAFKA_ENABLED") == "true"

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		CatalogPath:    sharedcfg.EnvOrDefault("CATALOG_CSV", "data/earthquakes.csv"),
		DBPath:         sharedcfg.EnvOrDefault("QUAKE_DB_PATH", "data/earthquake.db"),
		ModelDir:       sharedcfg.EnvOrDefault("MODEL_DIR", "models"),
		PipelineConfig: os.Getenv("PIPELINE_CONFIG"),

		DefaultLatitude:     defaultLat,
		DefaultLongitude:    defaultLon,
		DefaultLocationName: sharedcfg.EnvOrDefault("DEFAULT_LOCATION_NAME", "São Paulo, Brazil"),
		DefaultDepthKm:      defaultDepth,
		ReferenceTime:       refTime,
		PredictionCacheSize: parseCacheSize("PREDICTION_CACHE_SIZE"),
		ForecastHorizon:     horizon,

		USGSBaseURL:        sharedcfg.EnvOrDefault("USGS_BASE_URL", "https://earthquake.usgs.gov/fdsnws/event/1/query"),
		AlertsTimeout:      alertsTimeout,
		AlertsCacheTTL:     alertsTTL,
		AlertsLookback:     alertsLookback,
		AlertsMinMagnitude: minMag,
		AlertsLimit:        alertsLimit,
		AlertsDisplayLimit: displayLimit,

		KafkaBrokers:     brokers,
		AlertsKafkaTopic: sharedcfg.EnvOrDefault("ALERTS_KAFKA_TOPIC", "significant-earthquakes"),
		AlertsKafka:      alertsKafka,

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseCacheSize("MAPBOX_CACHE_SIZE"),
	}

	if cfg.DBPath == "" {
		return nil, errors.New("QUAKE_DB_PATH is required")
	}
	if cfg.ModelDir == "" {
		return nil, errors.New("MODEL_DIR is required")
	}
	if cfg.AlertsKafka && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("ALERTS_KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.AlertsKafka && cfg.AlertsKafkaTopic == "" {
		return nil, errors.New("ALERTS_KAFKA_TOPIC is required when ALERTS_KAFKA_ENABLED is true")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseFloat(key, def string, lo, hi float64) (float64, error) {
	v, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, def), 64)
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("invalid %s: must be a number in [%g, %g]", key, lo, hi)
	}
	return v, nil
}

func parseIntRange(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer in [%d, %d]", key, lo, hi)
	}
	return n, nil
}

// parseReferenceTime reads PREDICTION_REFERENCE_TIME. The variable unset
// gives the fixed dashboard date; set to an empty string or "now" it gives
// the zero time, which means the current time.
func parseReferenceTime() (time.Time, error) {
	s, ok := os.LookupEnv("PREDICTION_REFERENCE_TIME")
	if !ok {
		return time.Date(2025, time.December, 29, 12, 0, 0, 0, time.UTC), nil
	}
	if s == "" || s == "now" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.New("invalid PREDICTION_REFERENCE_TIME: must be RFC 3339 or \"now\"")
	}
	return t.UTC(), nil
}

func parseCacheSize(key string) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
