// Package geo partitions a campaign's city into ranked search zones and
// resolves the city to coordinates.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"prospector/internal/metrics"
)

// City is a geocoded city: coordinates plus the population that drives the
// uniform grid tier.
type City struct {
	Name       string
	Latitude   float64
	Longitude  float64
	Population int
}

// Geocoder resolves (city, region, country) to coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, city, region, country string) (*City, error)
}

// PlannerError marks geography that could not be resolved. Campaign
// submission maps it to a 400.
type PlannerError struct {
	City string
	Err  error
}

func (e *PlannerError) Error() string {
	return fmt.Sprintf("plan city %q: %v", e.City, e.Err)
}

func (e *PlannerError) Unwrap() error { return e.Err }

// HTTPGeocoder queries a geocoding endpoint that takes name/count/language
// params and returns candidate places with coordinates and population.
type HTTPGeocoder struct {
	baseURL  string
	language string
	client   *http.Client
}

func NewHTTPGeocoder(baseURL, language string, timeout time.Duration) *HTTPGeocoder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if language == "" {
		language = "en"
	}
	return &HTTPGeocoder{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: language,
		client:   &http.Client{Timeout: timeout},
	}
}

type geocodeResult struct {
	Name        string  `json:"name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Population  int     `json:"population"`
	CountryCode string  `json:"country_code"`
	Admin1      string  `json:"admin1"`
}

type geocodeResponse struct {
	Results []geocodeResult `json:"results"`
}

// Resolve fetches candidates for the city name and picks the first one in
// the right country, preferring a region (admin1) match when present.
func (g *HTTPGeocoder) Resolve(ctx context.Context, city, region, country string) (*City, error) {
	q := url.Values{}
	q.Set("name", city)
	q.Set("count", "10")
	q.Set("language", g.language)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		metrics.RecordProviderCall("geocoder", false)
		return nil, fmt.Errorf("geocoder request: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordProviderCall("geocoder", resp.StatusCode == http.StatusOK)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoder status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var parsed geocodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("geocoder response: %w", err)
	}

	countryCode := strings.ToUpper(strings.TrimSpace(country))
	var fallback *geocodeResult
	for i := range parsed.Results {
		r := &parsed.Results[i]
		if countryCode != "" && !strings.EqualFold(r.CountryCode, countryCode) {
			continue
		}
		if region != "" && strings.EqualFold(r.Admin1, region) {
			return cityOf(r), nil
		}
		if fallback == nil {
			fallback = r
		}
	}
	if fallback != nil {
		return cityOf(fallback), nil
	}
	return nil, fmt.Errorf("no geocoder match for %q in %q", city, country)
}

func cityOf(r *geocodeResult) *City {
	return &City{
		Name:       r.Name,
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		Population: r.Population,
	}
}
