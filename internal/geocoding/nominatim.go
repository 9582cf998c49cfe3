package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

// HTTPClient allows the HTTP transport to be swapped in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

const (
	nominatimURL       = "https://nominatim.openstreetmap.org/search"
	nominatimUserAgent = "pointdash/1.0 (https://github.com/shaunagostinho/pointdash)"
)

// NominatimProvider geocodes with OpenStreetMap's Nominatim API. The public
// instance allows about one request per second.
type NominatimProvider struct {
	client   HTTPClient
	baseURL  string
	language string
	log      *zap.Logger
}

type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
	Type        string `json:"type"`
}

func NewNominatimProvider(client HTTPClient, language string, log *zap.Logger) *NominatimProvider {
	return &NominatimProvider{client: client, baseURL: nominatimURL, language: language, log: log}
}

// WithBaseURL points the provider at a self-hosted instance.
func (np *NominatimProvider) WithBaseURL(u string) *NominatimProvider {
	np.baseURL = u
	return np
}

func (np *NominatimProvider) Geocode(ctx context.Context, query string) (*Place, error) {
	reqURL, err := url.Parse(np.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := reqURL.Query()
	q.Set("q", query)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	if np.language != "" {
		q.Set("accept-language", np.language)
	}
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", nominatimUserAgent)

	np.log.Debug("geocoding with Nominatim", zap.String("url", reqURL.String()))
	resp, err := np.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute geocoding request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim API returned status %d: %s", resp.StatusCode, string(body))
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("failed to decode nominatim response: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrEmptyResponse
	}

	best := results[0]
	lat, err := strconv.ParseFloat(best.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q: %w", best.Lat, err)
	}
	lon, err := strconv.ParseFloat(best.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q: %w", best.Lon, err)
	}

	name := best.Name
	if name == "" {
		name = best.DisplayName
	}
	return &Place{Name: name, Category: best.Type, Latitude: lat, Longitude: lon}, nil
}
