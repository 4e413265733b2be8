package alerts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-risk-service/internal/adapter/usgs"
	"github.com/couchcryptid/quake-risk-service/internal/domain"
	"github.com/couchcryptid/quake-risk-service/internal/observability"
)

var now = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu      sync.Mutex
	alerts  []domain.Alert
	err     error
	calls   int
	queries []usgs.Query
}

func (f *fakeFetcher) FetchRecent(_ context.Context, q usgs.Query) ([]domain.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.queries = append(f.queries, q)
	return f.alerts, f.err
}

type fakePublisher struct {
	mu        sync.Mutex
	published [][]domain.Alert
	err       error
}

func (p *fakePublisher) PublishAlerts(_ context.Context, alerts []domain.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, alerts)
	return p.err
}

// blockingPublisher holds every publish until release is closed, then records
// the state of the context it was given.
type blockingPublisher struct {
	release     chan struct{}
	ctxErr      error
	hasDeadline bool
}

func newBlockingPublisher() *blockingPublisher {
	return &blockingPublisher{release: make(chan struct{})}
}

func (p *blockingPublisher) PublishAlerts(ctx context.Context, _ []domain.Alert) error {
	<-p.release
	p.ctxErr = ctx.Err()
	_, p.hasDeadline = ctx.Deadline()
	return nil
}

// blockingFetcher signals started, waits for release and reports whether its
// context was cancelled in the meantime.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	alerts  []domain.Alert
	ctxErr  error
}

func (f *blockingFetcher) FetchRecent(ctx context.Context, _ usgs.Query) ([]domain.Alert, error) {
	close(f.started)
	<-f.release
	f.ctxErr = ctx.Err()
	if f.ctxErr != nil {
		return nil, f.ctxErr
	}
	return f.alerts, nil
}

func testOptions() Options {
	return Options{
		Lookback:     30 * 24 * time.Hour,
		MinMagnitude: 6,
		Limit:        20,
		DisplayLimit: 10,
		CacheTTL:     time.Minute,
	}
}

func sampleAlerts(n int) []domain.Alert {
	out := make([]domain.Alert, n)
	for i := range out {
		out[i] = domain.Alert{
			EventID:   fmt.Sprintf("us%04d", i),
			Time:      now.Add(-time.Duration(i) * time.Hour),
			Magnitude: 6.04 + float64(i)*0.01,
			Place:     "off the coast",
			Depth:     10,
		}
	}
	return out
}

type harness struct {
	svc     *Service
	fetcher *fakeFetcher
	pub     *fakePublisher
	clock   *clockwork.FakeClock
	metrics *observability.Metrics
}

func newHarness(withPublisher bool) harness {
	h := harness{
		fetcher: &fakeFetcher{},
		clock:   clockwork.NewFakeClockAt(now),
		metrics: observability.NewMetricsForTesting(),
	}
	var pub Publisher
	if withPublisher {
		h.pub = &fakePublisher{}
		pub = h.pub
	}
	h.svc = NewService(h.fetcher, pub, testOptions(), h.clock, slog.New(slog.NewTextHandler(io.Discard, nil)), h.metrics)
	return h
}

func TestRecent_OK(t *testing.T) {
	h := newHarness(false)
	h.fetcher.alerts = sampleAlerts(3)

	r := h.svc.Recent(context.Background())

	assert.Equal(t, StatusOK, r.Status)
	assert.Equal(t, "3 earthquakes of magnitude 6.0 or greater in the last 30 days.", r.Message)
	assert.Equal(t, now, r.UpdatedAt)
	assert.False(t, r.Cached)
	require.Len(t, r.Alerts, 3)
	assert.Equal(t, 6.0, r.Alerts[0].Magnitude)
	assert.Equal(t, 6.1, r.Alerts[2].Magnitude)

	require.Len(t, h.fetcher.queries, 1)
	q := h.fetcher.queries[0]
	assert.Equal(t, now.Add(-30*24*time.Hour), q.Start)
	assert.Equal(t, now, q.End)
	assert.Equal(t, 6.0, q.MinMagnitude)
	assert.Equal(t, 20, q.Limit)
}

func TestRecent_TruncatesToDisplayLimit(t *testing.T) {
	h := newHarness(false)
	h.fetcher.alerts = sampleAlerts(20)

	r := h.svc.Recent(context.Background())

	require.Len(t, r.Alerts, 10)
	assert.Equal(t, "us0000", r.Alerts[0].EventID)
	assert.Equal(t, "us0009", r.Alerts[9].EventID)
}

func TestRecent_DoesNotMutateFetched(t *testing.T) {
	h := newHarness(false)
	h.fetcher.alerts = sampleAlerts(1)

	h.svc.Recent(context.Background())

	assert.Equal(t, 6.04, h.fetcher.alerts[0].Magnitude)
}

func TestRecent_Empty(t *testing.T) {
	h := newHarness(false)
	h.fetcher.alerts = []domain.Alert{}

	r := h.svc.Recent(context.Background())

	assert.Equal(t, StatusEmpty, r.Status)
	assert.Equal(t, "No earthquakes of magnitude 6.0 or greater in the last 30 days.", r.Message)
	assert.NotNil(t, r.Alerts)
	assert.Empty(t, r.Alerts)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.AlertsFetches.WithLabelValues("empty")), 0)
}

func TestRecent_Unavailable(t *testing.T) {
	h := newHarness(false)
	h.fetcher.err = fmt.Errorf("%w: status 503", domain.ErrRemoteFetch)

	r := h.svc.Recent(context.Background())

	assert.Equal(t, StatusUnavailable, r.Status)
	assert.NotEmpty(t, r.Message)
	assert.Empty(t, r.Alerts)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.AlertsFetches.WithLabelValues("error")), 0)

	// Failures are not cached.
	h.fetcher.err = nil
	h.fetcher.alerts = sampleAlerts(1)
	r = h.svc.Recent(context.Background())
	assert.Equal(t, StatusOK, r.Status)
	assert.Equal(t, 2, h.fetcher.calls)
}

func TestRecent_CacheTTL(t *testing.T) {
	h := newHarness(false)
	h.fetcher.alerts = sampleAlerts(2)

	first := h.svc.Recent(context.Background())
	h.clock.Advance(30 * time.Second)
	second := h.svc.Recent(context.Background())

	assert.Equal(t, 1, h.fetcher.calls)
	assert.True(t, second.Cached)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	assert.Equal(t, first.Alerts, second.Alerts)

	h.clock.Advance(30 * time.Second)
	third := h.svc.Recent(context.Background())
	assert.Equal(t, 2, h.fetcher.calls)
	assert.False(t, third.Cached)
	assert.Equal(t, now.Add(time.Minute), third.UpdatedAt)

	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.AlertsCache.WithLabelValues("hit")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(h.metrics.AlertsCache.WithLabelValues("miss")), 0)
}

func TestRecent_PublishesFreshResultsOnly(t *testing.T) {
	h := newHarness(true)
	h.fetcher.alerts = sampleAlerts(12)

	h.svc.Recent(context.Background())
	h.svc.Recent(context.Background())
	h.svc.Wait()

	require.Len(t, h.pub.published, 1)
	assert.Len(t, h.pub.published[0], 12)
	assert.InDelta(t, 12, testutil.ToFloat64(h.metrics.AlertsPublished), 0)
}

func TestRecent_PublishFailureIsLoggedOnly(t *testing.T) {
	h := newHarness(true)
	h.fetcher.alerts = sampleAlerts(2)
	h.pub.err = errors.New("broker not available")

	r := h.svc.Recent(context.Background())
	h.svc.Wait()

	assert.Equal(t, StatusOK, r.Status)
	assert.Len(t, r.Alerts, 2)
	assert.Len(t, h.pub.published, 1)
	assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.AlertsPublished), 0)
}

func TestRecent_NothingPublishedWhenEmpty(t *testing.T) {
	h := newHarness(true)
	h.fetcher.alerts = []domain.Alert{}

	h.svc.Recent(context.Background())
	h.svc.Wait()

	assert.Empty(t, h.pub.published)
}

func TestRecent_SlowPublisherDoesNotDelayResult(t *testing.T) {
	fetcher := &fakeFetcher{alerts: sampleAlerts(3)}
	pub := newBlockingPublisher()
	metrics := observability.NewMetricsForTesting()
	svc := NewService(fetcher, pub, testOptions(), clockwork.NewFakeClockAt(now), slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	reqCtx, cancel := context.WithCancel(context.Background())
	got := make(chan Result, 1)
	go func() { got <- svc.Recent(reqCtx) }()

	select {
	case r := <-got:
		assert.Equal(t, StatusOK, r.Status)
		assert.Len(t, r.Alerts, 3)
	case <-time.After(5 * time.Second):
		t.Fatal("Recent waited for the publisher")
	}

	// The request is over; the fan-out still runs under its own deadline.
	cancel()
	close(pub.release)
	svc.Wait()

	assert.NoError(t, pub.ctxErr)
	assert.True(t, pub.hasDeadline)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.AlertsPublished), 0)
}

func TestRecent_CancelledCallerDoesNotCancelSharedFetch(t *testing.T) {
	fetcher := &blockingFetcher{
		started: make(chan struct{}),
		release: make(chan struct{}),
		alerts:  sampleAlerts(2),
	}
	svc := NewService(fetcher, nil, testOptions(), clockwork.NewFakeClockAt(now), slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leader := make(chan Result, 1)
	go func() { leader <- svc.Recent(leaderCtx) }()
	<-fetcher.started

	follower := make(chan Result, 1)
	go func() { follower <- svc.Recent(context.Background()) }()

	cancelLeader()
	select {
	case r := <-leader:
		assert.Equal(t, StatusUnavailable, r.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting for the fetch")
	}

	close(fetcher.release)
	select {
	case r := <-follower:
		assert.Equal(t, StatusOK, r.Status)
		assert.Len(t, r.Alerts, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("follower never got a result")
	}
	require.NoError(t, fetcher.ctxErr)

	// The shared result was cached for later callers.
	assert.True(t, svc.Recent(context.Background()).Cached)
}

func TestLookbackText(t *testing.T) {
	assert.Equal(t, "30 days", lookbackText(720*time.Hour))
	assert.Equal(t, "day", lookbackText(24*time.Hour))
	assert.Equal(t, "6h0m0s", lookbackText(6*time.Hour))
}
