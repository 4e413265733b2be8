package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/quake-risk-service/internal/domain"
	"github.com/couchcryptid/quake-risk-service/internal/observability"
)

const defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// forwardTypes limits place search to areas a user would type, so "Lima"
// does not resolve to a street or a shop.
const forwardTypes = "country,region,place,locality"

// Client implements domain.Geocoder on the Mapbox Geocoding v5 API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultBaseURL,
		metrics:    metrics,
		logger:     logger,
	}
}

// ForwardGeocode resolves a place search such as "Lima, Peru". A blank query
// is not sent.
func (c *Client) ForwardGeocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.GeocodingResult{}, nil
	}
	return c.geocode(ctx, "forward", url.PathEscape(query), url.Values{"types": {forwardTypes}})
}

// ReverseGeocode names the area around a clicked point.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	// Mapbox takes lon,lat.
	return c.geocode(ctx, "reverse", fmt.Sprintf("%.6f,%.6f", lon, lat), nil)
}

func (c *Client) geocode(ctx context.Context, method, search string, extra url.Values) (domain.GeocodingResult, error) {
	params := url.Values{
		"access_token": {c.token},
		"limit":        {"1"},
	}
	for k, v := range extra {
		params[k] = v
	}
	endpoint := c.baseURL + "/" + search + ".json?" + params.Encode()

	start := time.Now()
	result, err := c.fetch(ctx, endpoint)
	c.metrics.GeocodeAPIDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		c.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
		c.logger.Debug("geocode request failed", "method", method, "error", err)
		return domain.GeocodingResult{}, fmt.Errorf("mapbox %s geocode: %w", method, err)
	case !result.Found():
		c.metrics.GeocodeRequests.WithLabelValues(method, "empty").Inc()
	default:
		c.metrics.GeocodeRequests.WithLabelValues(method, "success").Inc()
	}
	return result, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) (domain.GeocodingResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.GeocodingResult{}, err
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.GeocodingResult{}, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("decode response: %w", err)
	}
	if len(fc.Features) == 0 {
		return domain.GeocodingResult{}, nil
	}
	return fc.Features[0].result(), nil
}

// Mapbox v5 response, trimmed to what the dashboard shows.

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64      `json:"center"` // [lon, lat]
	PlaceName string         `json:"place_name"`
	Text      string         `json:"text"`
	PlaceType []string       `json:"place_type"`
	Relevance float64        `json:"relevance"`
	Context   []contextEntry `json:"context"`
}

// contextEntry is one enclosing area; ids look like "country.8754".
type contextEntry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (f feature) result() domain.GeocodingResult {
	r := domain.GeocodingResult{
		FormattedAddress: f.PlaceName,
		PlaceName:        f.Text,
		Confidence:       f.Relevance,
	}
	if len(f.Center) == 2 {
		r.Lon, r.Lat = f.Center[0], f.Center[1]
	}
	if len(f.PlaceType) > 0 {
		r.Kind = f.PlaceType[0]
	}
	if slices.Contains(f.PlaceType, "country") {
		r.Country = f.Text
		return r
	}
	for _, e := range f.Context {
		if strings.HasPrefix(e.ID, "country.") {
			r.Country = e.Text
			break
		}
	}
	return r
}
