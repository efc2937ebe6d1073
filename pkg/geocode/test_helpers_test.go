package geocode

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// stubAPI serves handler on a local server and returns the options that point
// a provider at it with rate limiting disabled. Request paths and queries
// reach the handler unchanged, so tests can assert on what the provider sends.
func stubAPI(t *testing.T, handler http.HandlerFunc) []Option {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse stub url: %v", err)
	}
	hc := &http.Client{Transport: hostRedirect{target: target}}
	return []Option{WithHTTPClient(hc), WithRateLimit(0)}
}

// hostRedirect sends every request to target's host.
type hostRedirect struct {
	target *url.URL
}

func (h hostRedirect) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = h.target.Scheme
	out.URL.Host = h.target.Host
	out.Host = h.target.Host
	return http.DefaultTransport.RoundTrip(out)
}
