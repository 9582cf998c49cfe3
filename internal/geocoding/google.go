package geocoding

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"googlemaps.github.io/maps"
)

// GoogleAPIClient is the part of *maps.Client the provider uses.
type GoogleAPIClient interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// GoogleProvider geocodes with the Google Maps Geocoding API.
type GoogleProvider struct {
	client   GoogleAPIClient
	language string
	log      *zap.Logger
}

func NewGoogleProvider(client GoogleAPIClient, language string, log *zap.Logger) *GoogleProvider {
	return &GoogleProvider{client: client, language: language, log: log}
}

func (gp *GoogleProvider) Geocode(ctx context.Context, query string) (*Place, error) {
	gp.log.Debug("geocoding with Google Maps", zap.String("query", query))

	req := maps.GeocodingRequest{Address: query, Language: gp.language}
	results, err := gp.client.Geocode(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("failed to geocode %q: %w", query, err)
	}
	if len(results) == 0 {
		return nil, ErrEmptyResponse
	}

	best := results[0]
	place := &Place{
		Name:      best.FormattedAddress,
		Latitude:  best.Geometry.Location.Lat,
		Longitude: best.Geometry.Location.Lng,
	}
	if len(best.Types) > 0 {
		place.Category = best.Types[0]
	}
	return place, nil
}
