package mapbox

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-risk-service/internal/observability"
)

const (
	testToken         = "test-token"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

func testClient(baseURL string, timeout time.Duration) *Client {
	c := NewClient(testToken, timeout, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.baseURL = baseURL
	return c
}

func TestClient_ForwardGeocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "Lima, Peru")
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, forwardTypes, r.URL.Query().Get("types"))
		assert.Equal(t, testToken, r.URL.Query().Get("access_token"))

		resp := featureCollection{
			Features: []feature{{
				Center:    []float64{-77.0428, -12.0464},
				PlaceName: "Lima, Lima, Peru",
				Text:      "Lima",
				PlaceType: []string{"place"},
				Relevance: 0.97,
				Context: []contextEntry{
					{ID: "region.9175", Text: "Lima"},
					{ID: "country.8958", Text: "Peru"},
				},
			}},
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	result, err := c.ForwardGeocode(context.Background(), "  Lima, Peru ")
	require.NoError(t, err)

	assert.Equal(t, -12.0464, result.Lat)
	assert.Equal(t, -77.0428, result.Lon)
	assert.Equal(t, "Lima, Lima, Peru", result.FormattedAddress)
	assert.Equal(t, "Lima", result.PlaceName)
	assert.Equal(t, 0.97, result.Confidence)
	assert.Equal(t, "Peru", result.Country)
	assert.Equal(t, "place", result.Kind)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.GeocodeRequests.WithLabelValues("forward", "success")), 0)
}

func TestClient_ForwardGeocode_BlankQuery(t *testing.T) {
	c := testClient("http://127.0.0.1:0", time.Second)

	result, err := c.ForwardGeocode(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, result.FormattedAddress)
}

func TestClient_ReverseGeocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "-46.630000,-23.550000")
		assert.Empty(t, r.URL.Query().Get("types"))
		resp := featureCollection{
			Features: []feature{{
				Center:    []float64{-46.63, -23.55},
				PlaceName: "São Paulo, São Paulo, Brazil",
				Text:      "São Paulo",
				Relevance: 1,
			}},
		}
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	result, err := c.ReverseGeocode(context.Background(), -23.55, -46.63)
	require.NoError(t, err)

	assert.Equal(t, "São Paulo, São Paulo, Brazil", result.FormattedAddress)
	assert.Equal(t, "São Paulo", result.PlaceName)
}

func TestClient_ForwardGeocode_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode(featureCollection{Features: []feature{}}))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	result, err := c.ForwardGeocode(context.Background(), "Atlantis")
	require.NoError(t, err)
	assert.Zero(t, result.Lat)
	assert.Empty(t, result.FormattedAddress)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.GeocodeRequests.WithLabelValues("forward", "empty")), 0)
}

func TestClient_ForwardGeocode_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Not Authorized"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	_, err := c.ForwardGeocode(context.Background(), "Lima")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "Not Authorized")
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.GeocodeRequests.WithLabelValues("forward", "error")), 0)
}

func TestClient_ForwardGeocode_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 50*time.Millisecond)
	_, err := c.ForwardGeocode(context.Background(), "Lima")
	require.Error(t, err)
}

func TestFeature_CountryMatch(t *testing.T) {
	f := feature{
		Center:    []float64{-71.5, -35.7},
		PlaceName: "Chile",
		Text:      "Chile",
		PlaceType: []string{"country"},
	}

	r := f.result()
	assert.Equal(t, "Chile", r.Country)
	assert.Equal(t, "country", r.Kind)
	assert.Equal(t, -35.7, r.Lat)
	assert.Equal(t, -71.5, r.Lon)
}

func TestFeature_AtSeaHasNoCountry(t *testing.T) {
	f := feature{PlaceName: "Pacific Ocean", Text: "Pacific Ocean", PlaceType: []string{"poi"}}

	r := f.result()
	assert.Empty(t, r.Country)
	assert.True(t, r.Found())
}

func TestClient_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"features": [`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	_, err := c.ReverseGeocode(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}
