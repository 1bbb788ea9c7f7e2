// Package geo resolves free-text locations through a Nominatim-style
// geocoding endpoint. The quota governor uses it only for users who are
// neither paying nor on trial; every failure mode here degrades
// gracefully at the call site.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/forgebot/forgebot/internal/config"
)

// ErrNoMatch is returned when the service answers but finds no location.
var ErrNoMatch = errors.New("geo: no matching location")

// ErrTimeout is returned when the lookup exceeds the resolver's own
// timeout, which is independent of any request-level deadline.
var ErrTimeout = errors.New("geo: lookup timed out")

// Location is the structured result of a lookup.
type Location struct {
	DisplayName string `json:"display_name"`
}

// Resolver is a single-lookup-by-free-text client.
type Resolver interface {
	Resolve(ctx context.Context, location string) (*Location, error)
}

// HTTPResolver implements Resolver against a /search endpoint.
type HTTPResolver struct {
	baseURL   string
	userAgent string
	timeout   time.Duration
	client    *http.Client
}

// NewHTTPResolver builds a resolver from config.
func NewHTTPResolver(cfg config.GeoConfig) *HTTPResolver {
	return &HTTPResolver{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Resolve looks up a free-text location string and returns the best
// match. The lookup never blocks longer than the configured timeout.
func (r *HTTPResolver) Resolve(ctx context.Context, location string) (*Location, error) {
	if location == "" {
		return nil, ErrNoMatch
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("q", location)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("geo: build request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("geo: lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo: service returned HTTP %d", resp.StatusCode)
	}

	var results []Location
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("geo: decode response: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNoMatch
	}
	return &results[0], nil
}
