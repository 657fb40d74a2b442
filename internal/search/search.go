// Package search queries the external web-search provider for a business's
// website. Requests flow through the shared token bucket so the global QPS
// budget holds across worker pools.
package search

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

// Error wraps provider failures with a retryability flag.
type Error struct {
	Status    int
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Status != 0 {
		return fmt.Sprintf("search provider %s failure: status %d", kind, e.Status)
	}
	return fmt.Sprintf("search provider %s failure: %v", kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether the error should be retried with backoff.
func IsTransient(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Transient
}

// Result is one organic search hit.
type Result struct {
	Title    string `json:"title"`
	URL      string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}

// Query renders the exact provider query string. Empirically only the bare
// "{business-name} {city}" concatenation works: quoting, appending
// "website", or adding a region qualifier produces 400-class rejections.
// The region belongs in the country parameter instead.
func Query(businessName, city string) string {
	if city == "" {
		return businessName
	}
	return businessName + " " + city
}

// Client queries the search provider.
type Client struct {
	baseURL    string
	apiKey     string
	maxResults int
	http       *http.Client
	limiter    ratelimit.Limiter
	breaker    *gobreaker.CircuitBreaker
}

func NewClient(baseURL, apiKey string, maxResults int, timeout time.Duration, limiter ratelimit.Limiter) *Client {
	if maxResults <= 0 || maxResults > 10 {
		maxResults = 10
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		maxResults: maxResults,
		http:       &http.Client{Timeout: timeout},
		limiter:    limiter,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "search",
			Timeout: 30 * time.Second,
		}),
	}
}

type organicResponse struct {
	OrganicResults []Result `json:"organic_results"`
}

// Search issues one query. country is the ISO-2 region hint, passed
// separately from the query string.
func (c *Client) Search(ctx context.Context, query, country string) ([]Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Transient: true, Err: err}
		}
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.search(ctx, query, country)
	})
	metrics.RecordProviderCall("search", err == nil)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &Error{Transient: true, Err: err}
		}
		return nil, err
	}
	return out.([]Result), nil
}

func (c *Client) search(ctx context.Context, query, country string) ([]Result, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("country", country)
	q.Set("results", strconv.Itoa(c.maxResults))

	endpoint := c.baseURL + "/search?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	httpReq.Header.Set("X-API-KEY", c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{Transient: true, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &Error{Status: resp.StatusCode, Transient: true}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Transient: true, Err: err}
	}

	var parsed organicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := parsed.OrganicResults
	if len(results) > c.maxResults {
		results = results[:c.maxResults]
	}
	for i := range results {
		if results[i].Position == 0 {
			results[i].Position = i + 1
		}
	}
	return results, nil
}
