// Package geocoding resolves free-text queries into target points.
package geocoding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"googlemaps.github.io/maps"
)

// Place is a geocoded result.
type Place struct {
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Provider resolves a query into the best matching place.
type Provider interface {
	Geocode(ctx context.Context, query string) (*Place, error)
}

// ErrEmptyResponse is returned when a provider found nothing.
var ErrEmptyResponse = errors.New("geocoding: empty response")

// ProviderType represents the type of geocoding provider.
type ProviderType string

const (
	ProviderTypeGoogle    ProviderType = "google"
	ProviderTypeNominatim ProviderType = "nominatim"
	ProviderTypeDisabled  ProviderType = "disabled"
)

// ProviderConfig holds configuration for creating a geocoding provider.
type ProviderConfig struct {
	Type      ProviderType
	APIKey    string // Required by Google
	RateLimit int    // Requests per second, Google only
	Language  string // Preferred result language, e.g. "en"
	Logger    *zap.Logger
}

// NewProvider creates a geocoding provider based on the configuration.
// The disabled type yields a nil provider and no error.
func NewProvider(config ProviderConfig) (Provider, error) {
	switch config.Type {
	case ProviderTypeGoogle:
		return newGoogleProvider(config)
	case ProviderTypeNominatim:
		return NewNominatimProvider(&http.Client{Timeout: 10 * time.Second}, config.Language, config.Logger), nil
	case ProviderTypeDisabled, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.Type)
	}
}

func newGoogleProvider(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" {
		return nil, errors.New("API key is required for Google provider")
	}

	clientOpts := []maps.ClientOption{maps.WithAPIKey(config.APIKey)}
	if config.RateLimit > 0 {
		clientOpts = append(clientOpts, maps.WithRateLimit(config.RateLimit))
	}

	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}
	return NewGoogleProvider(client, config.Language, config.Logger), nil
}
