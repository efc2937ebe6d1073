// Package geocode provides forward geocoding providers (Mapbox, Geocodio,
// Google) behind a common Provider interface.
package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/listing-enrich/internal/resilience"
)

// ErrNoMatch is returned (wrapped as permanent) when a provider answers but
// finds no location for the address.
var ErrNoMatch = eris.New("geocode: no match")

// Provider represents a single geocoding backend.
type Provider interface {
	Name() string
	Available() bool
	Geocode(ctx context.Context, fullAddress string) (*Result, error)
}

// Result holds the geocoding output for an address.
type Result struct {
	Source           string  `json:"source"`
	FormattedAddress string  `json:"formatted_address"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Neighborhood     string  `json:"neighborhood,omitempty"`
	HouseNumber      string  `json:"house_number,omitempty"`
	Quality          string  `json:"quality,omitempty"` // "rooftop", "range", "centroid", "approximate"
}

// Option configures a provider.
type Option func(*base)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(b *base) {
		b.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit for the provider.
func WithRateLimit(rps float64) Option {
	return func(b *base) {
		if rps <= 0 {
			b.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *base) {
		if d > 0 {
			b.httpClient = &http.Client{Timeout: d}
		}
	}
}

// base carries the HTTP plumbing shared by every provider.
type base struct {
	name       string
	key        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newBase(name, key string, defaultRPS float64, opts []Option) base {
	b := base{
		name:       name,
		key:        key,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(defaultRPS), int(defaultRPS)),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// Name implements Provider.
func (b *base) Name() string { return b.name }

// Available implements Provider. A provider without credentials is skipped.
func (b *base) Available() bool { return b.key != "" }

// getJSON performs a rate-limited GET and decodes the body into out. Non-200
// responses are classified for the retry policy: 429 carries Retry-After,
// 408/5xx are transient and everything else is permanent.
func (b *base) getJSON(ctx context.Context, reqURL string, out any) error {
	if b.key == "" {
		return resilience.Permanent(eris.Errorf("geocode: %s api key not configured", b.name))
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return eris.Wrapf(err, "geocode: %s rate limit", b.name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return resilience.Permanent(eris.Wrapf(err, "geocode: %s build request", b.name))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return eris.Wrapf(err, "geocode: %s request", b.name)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resilience.ClassifyStatus(
			eris.Errorf("geocode: %s returned status %d: %s", b.name, resp.StatusCode, string(body)),
			resp.StatusCode, resp.Header,
		)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "geocode: %s read body", b.name)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resilience.Permanent(eris.Wrapf(err, "geocode: %s parse response", b.name))
	}
	return nil
}

func noMatch(provider, addr string) error {
	return resilience.Permanent(eris.Wrapf(ErrNoMatch, "%s: %q", provider, addr))
}
