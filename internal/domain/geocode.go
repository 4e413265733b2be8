package domain

import (
	"context"
	"fmt"
	"log/slog"
)

// GeocodingResult is the best match a geocoding provider returned. The zero
// value means no match.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string  // full label, e.g. "Lima, Lima, Peru"
	PlaceName        string  // short name, e.g. "Lima"
	Country          string  // empty for matches at sea
	Kind             string  // provider feature type: country, region, place, ...
	Confidence       float64 // provider relevance in [0, 1]
}

// Found reports whether the provider matched anything.
func (r GeocodingResult) Found() bool {
	return r.FormattedAddress != "" || r.PlaceName != ""
}

// Label is the name shown next to a prediction.
func (r GeocodingResult) Label() string {
	if r.FormattedAddress != "" {
		return r.FormattedAddress
	}
	return r.PlaceName
}

// Geocoder resolves place searches and names clicked coordinates.
// Implementations return the zero result, not an error, when nothing matches.
type Geocoder interface {
	ForwardGeocode(ctx context.Context, query string) (GeocodingResult, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) (GeocodingResult, error)
}

// ResolvePlace turns a place search into a Location. Search being disabled
// (nil geocoder), a failed lookup and no match all wrap ErrInvalidLocation:
// the user asked for a place that cannot be scored.
func ResolvePlace(ctx context.Context, query string, geocoder Geocoder) (Location, error) {
	if geocoder == nil {
		return Location{}, fmt.Errorf("%w: place search is disabled", ErrInvalidLocation)
	}
	result, err := geocoder.ForwardGeocode(ctx, query)
	if err != nil {
		return Location{}, fmt.Errorf("%w: geocode %q: %w", ErrInvalidLocation, query, err)
	}
	if !result.Found() {
		return Location{}, fmt.Errorf("%w: no match for %q", ErrInvalidLocation, query)
	}
	return Location{Lat: result.Lat, Lon: result.Lon, Name: result.Label(), GeoSource: "forward"}, nil
}

// LabelLocation names an unnamed location by reverse geocoding. A lookup
// failure is logged and marks the location "failed"; the prediction is still
// served.
func LabelLocation(ctx context.Context, loc Location, geocoder Geocoder, logger *slog.Logger) Location {
	if geocoder == nil || loc.Name != "" {
		return loc
	}

	result, err := geocoder.ReverseGeocode(ctx, loc.Lat, loc.Lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"lat", loc.Lat,
			"lon", loc.Lon,
			"error", err,
		)
		loc.GeoSource = "failed"
		return loc
	}
	if result.Found() {
		loc.Name = result.Label()
		loc.GeoSource = "reverse"
	}
	return loc
}
