// Package geo turns a delivery address into coordinates.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-food/fetch"
	"github.com/aluiziolira/go-scrape-food/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrNotFound is returned when the geocoder has no match for an address.
var ErrNotFound = errors.New("address not found")

// Resolver resolves a free-form address.
type Resolver interface {
	Resolve(ctx context.Context, address string) (models.Coordinates, error)
}

// Fetcher is the subset of the fetch client the HTTP resolver needs.
type Fetcher interface {
	Fetch(ctx context.Context, method, rawURL string, headers http.Header, body []byte) (*fetch.Response, error)
}

// HTTPResolver queries a Nominatim-compatible search endpoint.
type HTTPResolver struct {
	endpoint string
	client   Fetcher
}

// NewHTTPResolver returns a resolver for endpoint, e.g.
// https://nominatim.openstreetmap.org/search.
func NewHTTPResolver(endpoint string, client Fetcher) (*HTTPResolver, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("geocoder endpoint %q must be an absolute URL", endpoint)
	}
	return &HTTPResolver{endpoint: endpoint, client: client}, nil
}

type place struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context, address string) (models.Coordinates, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return models.Coordinates{}, fmt.Errorf("resolve: %w", ErrNotFound)
	}

	q := url.Values{}
	q.Set("q", address)
	q.Set("format", "json")
	q.Set("limit", "1")
	headers := http.Header{}
	headers.Set("Accept", "application/json")

	res, err := r.client.Fetch(ctx, http.MethodGet, r.endpoint+"?"+q.Encode(), headers, nil)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("resolve %q: %w", address, err)
	}

	var places []place
	if err := json.Unmarshal(res.Body, &places); err != nil {
		return models.Coordinates{}, fmt.Errorf("decode geocoder response: %w", err)
	}
	if len(places) == 0 {
		return models.Coordinates{}, fmt.Errorf("resolve %q: %w", address, ErrNotFound)
	}
	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("parse latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("parse longitude: %w", err)
	}
	return models.Coordinates{Lat: lat, Lon: lon}, nil
}

type fallbackResolver struct {
	next     Resolver
	fallback models.Coordinates
}

// WithFallback returns a resolver that answers fallback whenever r fails.
func WithFallback(r Resolver, fallback models.Coordinates) Resolver {
	return fallbackResolver{next: r, fallback: fallback}
}

func (f fallbackResolver) Resolve(ctx context.Context, address string) (models.Coordinates, error) {
	c, err := f.next.Resolve(ctx, address)
	if err != nil {
		slog.Warn("geocoding failed, using fallback coordinates",
			slog.String("address", address),
			slog.Any("error", err),
		)
		return f.fallback, nil
	}
	return c, nil
}

// Cached memoizes successful lookups for a bounded time.
type Cached struct {
	next  Resolver
	cache *expirable.LRU[string, models.Coordinates]
}

// NewCached wraps r with an LRU of size entries that expire after ttl.
func NewCached(r Resolver, size int, ttl time.Duration) *Cached {
	return &Cached{
		next:  r,
		cache: expirable.NewLRU[string, models.Coordinates](size, nil, ttl),
	}
}

// Resolve implements Resolver.
func (c *Cached) Resolve(ctx context.Context, address string) (models.Coordinates, error) {
	key := strings.ToLower(strings.Join(strings.Fields(address), " "))
	if coords, ok := c.cache.Get(key); ok {
		return coords, nil
	}
	coords, err := c.next.Resolve(ctx, address)
	if err != nil {
		return models.Coordinates{}, err
	}
	c.cache.Add(key, coords)
	return coords, nil
}

// Locate builds the delivery location for city and address. Coordinates
// already known are kept; otherwise the address is resolved when r is set.
func Locate(ctx context.Context, r Resolver, city, address string, known *models.Coordinates) (models.Location, error) {
	loc := models.Location{City: city, Address: address, Coordinates: known}
	if known != nil || r == nil || address == "" {
		return loc, nil
	}
	query := address
	if city != "" && !strings.Contains(strings.ToLower(address), strings.ToLower(city)) {
		query = address + ", " + city
	}
	coords, err := r.Resolve(ctx, query)
	if err != nil {
		return loc, err
	}
	loc.Coordinates = &coords
	return loc, nil
}
