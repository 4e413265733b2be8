// Package usgs queries the USGS FDSN event service for recent significant
// earthquakes.
package usgs

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/quake-risk-service/internal/domain"
)

const DefaultBaseURL = "https://earthquake.usgs.gov/fdsnws/event/1/query"

var requiredColumns = []string{"time", "mag", "place", "depth"}

// Query selects events from the catalog.
type Query struct {
	Start        time.Time
	End          time.Time
	MinMagnitude float64
	Limit        int
}

// Client fetches events as CSV. It does not retry.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a client with a fixed request timeout.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     logger,
	}
}

// FetchRecent returns events matching q, newest first. An empty slice with a
// nil error means nothing qualified. Every failure wraps domain.ErrRemoteFetch.
func (c *Client) FetchRecent(ctx context.Context, q Query) ([]domain.Alert, error) {
	params := url.Values{
		"format":       {"csv"},
		"starttime":    {q.Start.UTC().Format("2006-01-02T15:04:05")},
		"endtime":      {q.End.UTC().Format("2006-01-02T15:04:05")},
		"minmagnitude": {strconv.FormatFloat(q.MinMagnitude, 'f', -1, 64)},
		"orderby":      {"time"},
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", domain.ErrRemoteFetch, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request: %w", domain.ErrRemoteFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return []domain.Alert{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrRemoteFetch, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	alerts, err := parseCSV(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRemoteFetch, err)
	}
	c.logger.Debug("usgs query complete", "events", len(alerts), "min_magnitude", q.MinMagnitude)
	return alerts, nil
}

func parseCSV(body io.Reader) ([]domain.Alert, error) {
	br := bufio.NewReader(body)
	if _, err := br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty response body")
		}
		return nil, fmt.Errorf("read body: %w", err)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("response is missing column %q", c)
		}
	}

	alerts := []domain.Alert{}
	line := 1
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		a, err := parseRow(record, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func parseRow(record []string, cols map[string]int) (domain.Alert, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	num := func(name string) (float64, error) {
		s := get(name)
		if s == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", name, err)
		}
		return v, nil
	}

	var (
		a   domain.Alert
		err error
	)
	if a.Time, err = time.Parse(time.RFC3339Nano, get("time")); err != nil {
		return a, fmt.Errorf("column time: %w", err)
	}
	if a.Magnitude, err = num("mag"); err != nil {
		return a, err
	}
	if a.Depth, err = num("depth"); err != nil {
		return a, err
	}
	if a.Latitude, err = num("latitude"); err != nil {
		return a, err
	}
	if a.Longitude, err = num("longitude"); err != nil {
		return a, err
	}
	a.Place = get("place")
	a.EventID = get("id")
	return a, nil
}
