package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"prospector/internal/metrics"
	"prospector/internal/ratelimit"
)

// TransientError marks provider failures worth retrying: timeouts,
// transport errors, 5xx.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("listing provider transient failure: status %d", e.Status)
	}
	return fmt.Sprintf("listing provider transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks failures that retrying cannot fix: bad credentials,
// exhausted quota.
type PermanentError struct {
	Status int
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("listing provider permanent failure: %s (status %d)", e.Reason, e.Status)
}

// RawBusiness is one provider record: the decoded field map for extraction
// plus the verbatim payload for the audit trail.
type RawBusiness struct {
	Fields map[string]any
	Raw    json.RawMessage
}

// SearchRequest describes one zone query.
type SearchRequest struct {
	Category    string
	City        string
	Region      string
	CountryCode string
	Lat         float64
	Lon         float64
	RadiusKm    float64
	Limit       int
}

// Query renders the exact provider query string. The shape is literal and
// load-bearing: "{category}, {city}, {region}, {country-name}" is the only
// form the provider geolocates reliably.
func (r SearchRequest) Query() string {
	return fmt.Sprintf("%s, %s, %s, %s", r.Category, r.City, r.Region, CountryName(r.CountryCode))
}

// Client queries the business-listing provider.
type Client struct {
	baseURL  string
	apiKey   string
	language string
	http     *http.Client
	limiter  ratelimit.Limiter
	breaker  *gobreaker.CircuitBreaker
}

func NewClient(baseURL, apiKey, language string, timeout time.Duration, limiter ratelimit.Limiter) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		language: language,
		http:     &http.Client{Timeout: timeout},
		limiter:  limiter,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "listing",
			Timeout: 30 * time.Second,
		}),
	}
}

type searchResponse struct {
	Results []json.RawMessage `json:"results"`
}

// Search fetches businesses for one zone. The region hint rides in the
// provider's region parameter; the query string is built by Query().
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]RawBusiness, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransientError{Err: err}
		}
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.search(ctx, req)
	})
	metrics.RecordProviderCall("listing", err == nil)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransientError{Err: err}
		}
		return nil, err
	}
	return out.([]RawBusiness), nil
}

func (c *Client) search(ctx context.Context, req SearchRequest) ([]RawBusiness, error) {
	q := url.Values{}
	q.Set("query", req.Query())
	q.Set("region", req.CountryCode)
	q.Set("language", c.language)
	q.Set("limit", strconv.Itoa(req.Limit))
	q.Set("lat", strconv.FormatFloat(req.Lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(req.Lon, 'f', 6, 64))
	q.Set("radius_km", strconv.FormatFloat(req.RadiusKm, 'f', 2, 64))

	endpoint := c.baseURL + "/search?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build listing request: %w", err)
	}
	httpReq.Header.Set("X-API-KEY", c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &PermanentError{Status: resp.StatusCode, Reason: "authentication rejected"}
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &PermanentError{Status: resp.StatusCode, Reason: "quota exhausted"}
	case resp.StatusCode >= 500:
		return nil, &TransientError{Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, &PermanentError{Status: resp.StatusCode, Reason: "unexpected status"}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode listing response: %w", err)
	}

	out := make([]RawBusiness, 0, len(parsed.Results))
	for _, raw := range parsed.Results {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			// A malformed record is skipped, not fatal: the rest of the
			// page is still good.
			continue
		}
		out = append(out, RawBusiness{Fields: fields, Raw: raw})
	}
	return out, nil
}

// IsTransient reports whether the error should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
