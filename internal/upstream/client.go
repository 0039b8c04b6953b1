package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cryptomovers/internal/metrics"
)

const maxErrorBody = 512

// SharedHTTPClient returns a shared HTTP client with appropriate settings
func SharedHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// DefaultUserAgent returns the user agent sent to upstreams when none is configured
func DefaultUserAgent() string {
	return "cryptomovers/1.0"
}

// Client issues GET requests against one upstream provider. Every call is bound to the
// caller's context, so a cancelled or expired context aborts the underlying connection.
type Client struct {
	name    string
	http    *http.Client
	headers http.Header
}

// NewClient creates a client for the named provider. headers are added to every request.
func NewClient(name string, httpClient *http.Client, headers map[string]string) *Client {
	h := make(http.Header, len(headers)+2)
	h.Set("Accept", "application/json")
	h.Set("User-Agent", DefaultUserAgent())
	for k, v := range headers {
		h.Set(k, v)
	}
	return &Client{name: name, http: httpClient, headers: h}
}

func (c *Client) Name() string {
	return c.name
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(out); err != nil {
		metrics.ObserveUpstream(c.name, "decode_error")
		return NewProviderError(c.name, url, 0, fmt.Errorf("%w: decode: %v", ErrTransient, err))
	}
	return nil
}

// Get performs the request and returns the body of a 2xx response. The caller closes it.
func (c *Client) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewProviderError(c.name, url, 0, fmt.Errorf("%w: %v", ErrRejected, err))
	}
	req.Header = c.headers.Clone()

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.ObserveUpstream(c.name, "cancelled")
			return nil, NewProviderError(c.name, url, 0, ctxErr)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.ObserveUpstream(c.name, "timeout")
		} else {
			metrics.ObserveUpstream(c.name, "network_error")
		}
		return nil, NewProviderError(c.name, url, 0, fmt.Errorf("%w: %v", ErrTransient, err))
	}

	if class := Classify(resp.StatusCode); class != nil {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		metrics.ObserveUpstream(c.name, outcome(class))
		return nil, NewProviderError(c.name, url, resp.StatusCode, fmt.Errorf("%w: %s", class, string(body)))
	}

	metrics.ObserveUpstream(c.name, "ok")
	return resp.Body, nil
}

func outcome(class error) string {
	switch {
	case errors.Is(class, ErrRateLimited):
		return "rate_limited"
	case errors.Is(class, ErrRejected):
		return "rejected"
	default:
		return "http_error"
	}
}
