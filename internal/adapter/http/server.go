package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/quake-risk-service/internal/domain"
	"github.com/couchcryptid/quake-risk-service/internal/serving"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker = sharedobs.ReadinessChecker

// Server exposes the dashboard API plus health, readiness, and metrics.
type Server struct {
	httpServer *http.Server
	dash       *serving.Dashboard
	logger     *slog.Logger
}

// NewServer creates the HTTP server and its routes.
func NewServer(addr string, dash *serving.Dashboard, ready ReadinessChecker, logger *slog.Logger) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      engine,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		dash:   dash,
		logger: logger,
	}

	engine.GET("/healthz", gin.WrapF(sharedobs.LivenessHandler()))
	engine.GET("/readyz", gin.WrapF(sharedobs.ReadinessHandler(ready)))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api")
	api.GET("/predict", s.handlePredict)
	api.GET("/forecast", s.handleForecast)
	api.GET("/forecast/chart.png", s.handleChart)
	api.GET("/alerts", s.handleAlerts)
	api.GET("/stats", s.handleStats)
	api.GET("/magnitude-scale", s.handleMagnitudeScale)
	api.GET("/dashboard", s.handleDashboard)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handlePredict(c *gin.Context) {
	req, err := parseRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	section := s.dash.PredictionSection(c.Request.Context(), req)
	switch section.Status {
	case serving.StatusOK:
		c.JSON(http.StatusOK, section.Data)
	case serving.StatusInvalid:
		c.JSON(http.StatusBadRequest, gin.H{"error": section.Message})
	default:
		c.JSON(http.StatusServiceUnavailable, section)
	}
}

func (s *Server) handleForecast(c *gin.Context) {
	section := s.dash.ForecastSection()
	if section.Status != serving.StatusOK {
		c.JSON(http.StatusServiceUnavailable, section)
		return
	}
	c.JSON(http.StatusOK, section.Data)
}

func (s *Server) handleChart(c *gin.Context) {
	png, err := s.dash.ForecastView().ChartPNG()
	switch {
	case err == nil:
		c.Data(http.StatusOK, "image/png", png)
	case errors.Is(err, serving.ErrChartMissing):
		c.JSON(http.StatusNotFound, gin.H{
			"status":  serving.StatusUnavailable,
			"message": "No forecast chart yet. Run the training pipeline first.",
		})
	default:
		s.logger.Error("read forecast chart", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read forecast chart"})
	}
}

func (s *Server) handleAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, s.dash.Alerts().Recent(c.Request.Context()))
}

func (s *Server) handleStats(c *gin.Context) {
	section := s.dash.StatsSection(c.Request.Context())
	if section.Status != serving.StatusOK {
		c.JSON(http.StatusServiceUnavailable, section)
		return
	}
	c.JSON(http.StatusOK, section.Data)
}

func (s *Server) handleMagnitudeScale(c *gin.Context) {
	c.JSON(http.StatusOK, domain.MagnitudeScale())
}

// handleDashboard always answers 200; failures are reported per section.
func (s *Server) handleDashboard(c *gin.Context) {
	req, err := parseRequest(c)
	if err != nil {
		c.JSON(http.StatusOK, s.dash.BuildInvalid(c.Request.Context(), err))
		return
	}
	c.JSON(http.StatusOK, s.dash.Build(c.Request.Context(), req))
}

// parseRequest reads lat, lon and place from the query string. On a parse
// error the returned request is empty.
func parseRequest(c *gin.Context) (serving.Request, error) {
	var req serving.Request
	for _, p := range []struct {
		name string
		dst  **float64
	}{
		{"lat", &req.Lat},
		{"lon", &req.Lon},
	} {
		raw := strings.TrimSpace(c.Query(p.name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return serving.Request{}, fmt.Errorf("%w: %s %q is not a number", domain.ErrInvalidLocation, p.name, raw)
		}
		*p.dst = &v
	}
	req.Place = strings.TrimSpace(c.Query("place"))
	return req, nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
