// Package alerts serves the recent significant earthquakes table. Remote
// failures never escape: every call yields a displayable Result.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/quake-risk-service/internal/adapter/usgs"
	"github.com/couchcryptid/quake-risk-service/internal/cache"
	"github.com/couchcryptid/quake-risk-service/internal/domain"
	"github.com/couchcryptid/quake-risk-service/internal/observability"
)

// Status of a recent-alerts result.
type Status string

const (
	StatusOK          Status = "ok"
	StatusEmpty       Status = "empty"
	StatusUnavailable Status = "unavailable"
)

// Fetcher queries the remote catalog.
type Fetcher interface {
	FetchRecent(ctx context.Context, q usgs.Query) ([]domain.Alert, error)
}

// Publisher fans fresh alerts out to downstream consumers.
type Publisher interface {
	PublishAlerts(ctx context.Context, alerts []domain.Alert) error
}

// Options bounds the remote query and the displayed table.
type Options struct {
	Lookback     time.Duration
	MinMagnitude float64
	Limit        int
	DisplayLimit int
	CacheTTL     time.Duration

	// FetchTimeout bounds the shared remote call. Zero leaves it to the
	// fetcher's own client timeout.
	FetchTimeout time.Duration
	// PublishTimeout bounds one fan-out. Zero means defaultPublishTimeout.
	PublishTimeout time.Duration
}

const defaultPublishTimeout = 10 * time.Second

// Result is what the dashboard shows.
type Result struct {
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	Alerts    []domain.Alert `json:"alerts"`
	UpdatedAt time.Time      `json:"updated_at"`
	Cached    bool           `json:"cached"`
}

const cacheKey = "recent"

// Service fetches, shapes, caches and optionally publishes recent alerts.
type Service struct {
	fetcher   Fetcher
	publisher Publisher
	opts      Options
	cache     *cache.LRU[string, Result]
	flight    singleflight.Group
	pending   sync.WaitGroup
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewService creates the alerts service. publisher may be nil.
func NewService(fetcher Fetcher, publisher Publisher, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		fetcher:   fetcher,
		publisher: publisher,
		opts:      opts,
		cache:     cache.NewWithTTL[string, Result](1, opts.CacheTTL, clock),
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// Recent returns the current table. Concurrent misses share one remote call,
// which is not cancelled when the caller that started it goes away. A caller
// whose own ctx ends first gets the unavailable result.
func (s *Service) Recent(ctx context.Context) Result {
	if s.opts.CacheTTL > 0 {
		if r, ok := s.cache.Get(cacheKey); ok {
			s.metrics.AlertsCache.WithLabelValues("hit").Inc()
			r.Cached = true
			return r
		}
		s.metrics.AlertsCache.WithLabelValues("miss").Inc()
	}

	ch := s.flight.DoChan(cacheKey, func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if s.opts.FetchTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, s.opts.FetchTimeout)
			defer cancel()
		}
		return s.refresh(fetchCtx), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Result)
	case <-ctx.Done():
		return unavailable(s.clock.Now().UTC())
	}
}

// Wait blocks until in-flight fan-outs finish. Call it before closing the
// publisher.
func (s *Service) Wait() {
	s.pending.Wait()
}

func unavailable(now time.Time) Result {
	return Result{
		Status:    StatusUnavailable,
		Message:   "Could not load recent earthquakes from USGS right now. Try again in a minute.",
		Alerts:    []domain.Alert{},
		UpdatedAt: now,
	}
}

func (s *Service) refresh(ctx context.Context) Result {
	now := s.clock.Now().UTC()
	q := usgs.Query{
		Start:        now.Add(-s.opts.Lookback),
		End:          now,
		MinMagnitude: s.opts.MinMagnitude,
		Limit:        s.opts.Limit,
	}

	start := s.clock.Now()
	fetched, err := s.fetcher.FetchRecent(ctx, q)
	s.metrics.AlertsFetchSeconds.Observe(s.clock.Since(start).Seconds())
	if err != nil {
		s.metrics.AlertsFetches.WithLabelValues("error").Inc()
		s.logger.Warn("recent alerts unavailable", "error", err)
		return unavailable(now)
	}

	r := Result{UpdatedAt: now, Alerts: s.shape(fetched)}
	if len(r.Alerts) == 0 {
		s.metrics.AlertsFetches.WithLabelValues("empty").Inc()
		r.Status = StatusEmpty
		r.Message = fmt.Sprintf("No earthquakes of magnitude %.1f or greater in the last %s.", s.opts.MinMagnitude, lookbackText(s.opts.Lookback))
	} else {
		s.metrics.AlertsFetches.WithLabelValues("ok").Inc()
		r.Status = StatusOK
		r.Message = fmt.Sprintf("%d earthquakes of magnitude %.1f or greater in the last %s.", len(fetched), s.opts.MinMagnitude, lookbackText(s.opts.Lookback))
	}
	if s.opts.CacheTTL > 0 {
		s.cache.Put(cacheKey, r)
	}

	s.publish(ctx, fetched)
	return r
}

// shape rounds magnitudes for display and truncates to the display limit.
func (s *Service) shape(fetched []domain.Alert) []domain.Alert {
	n := len(fetched)
	if s.opts.DisplayLimit > 0 {
		n = min(n, s.opts.DisplayLimit)
	}
	out := make([]domain.Alert, n)
	for i := range out {
		a := fetched[i]
		a.Magnitude = math.Round(a.Magnitude*10) / 10
		out[i] = a
	}
	return out
}

// publish fans fetched out in the background so a slow broker never holds up
// the response. Failures are logged only.
func (s *Service) publish(ctx context.Context, fetched []domain.Alert) {
	if s.publisher == nil || len(fetched) == 0 {
		return
	}
	timeout := s.opts.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		if err := s.publisher.PublishAlerts(pubCtx, fetched); err != nil {
			s.logger.Warn("alerts fan-out failed", "count", len(fetched), "error", err)
			return
		}
		s.metrics.AlertsPublished.Add(float64(len(fetched)))
	}()
}

func lookbackText(d time.Duration) string {
	days := int(math.Round(d.Hours() / 24))
	if days == 1 {
		return "day"
	}
	if days > 1 {
		return fmt.Sprintf("%d days", days)
	}
	return d.String()
}
