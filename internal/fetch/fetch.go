// Package fetch provides the outbound HTTP client used by resource
// handlers that read upstream JSON endpoints.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/dnscache"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/avenor/archivist/internal/circuitbreaker"
)

// ErrCircuitOpen is returned when an upstream's breaker rejects the call.
var ErrCircuitOpen = errors.New("fetch: circuit open")

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: upstream status %d", e.URL, e.Code)
}

// HTTPStatus implements the interface circuitbreaker.ClassifyError checks.
func (e *StatusError) HTTPStatus() int { return e.Code }

// maxBody caps upstream response bodies (4 MB). Resource payloads are
// small; anything larger is a misconfigured upstream.
const maxBody = 4 << 20

// NewTransport returns a tuned *http.Transport with connection pooling and
// optional DNS caching.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// Credentials configures client-credentials auth for upstream calls.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Client fetches JSON documents from upstream endpoints. Each upstream
// host sits behind its own circuit breaker so a failing endpoint is
// short-circuited instead of timing out on every request.
type Client struct {
	http     *http.Client
	breakers *circuitbreaker.Registry
}

// NewClient builds a Client with a dnscache-backed transport. When creds
// is non-nil the client obtains and refreshes bearer tokens via the OAuth2
// client-credentials flow; token refresh reuses the same transport.
func NewClient(resolver *dnscache.Resolver, timeout time.Duration, creds *Credentials) *Client {
	transport := NewTransport(resolver)
	base := &http.Client{Transport: transport, Timeout: timeout}
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	if creds == nil {
		return &Client{http: base, breakers: breakers}
	}

	cfg := clientcredentials.Config{
		TokenURL:     creds.TokenURL,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Scopes:       creds.Scopes,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	authed := cfg.Client(ctx)
	authed.Timeout = timeout
	return &Client{http: authed, breakers: breakers}
}

// GetJSON fetches rawURL and returns the raw response body. Non-2xx
// statuses are errors; the body is still drained so the connection can be
// reused. Outcomes feed the host's circuit breaker, and an open breaker
// fails fast with ErrCircuitOpen.
func (c *Client) GetJSON(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	breaker := c.breakers.GetOrCreate(u.Host)
	if !breaker.Allow() {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, u.Host)
	}

	body, err := c.get(ctx, rawURL)
	if weight := circuitbreaker.ClassifyError(err); weight > 0 {
		breaker.RecordError(weight)
	} else if err == nil {
		breaker.RecordSuccess()
	}
	return body, err
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", rawURL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	return body, nil
}
