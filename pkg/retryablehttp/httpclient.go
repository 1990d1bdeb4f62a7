// Package retryablehttp wraps the standard HTTP client with retries for the
// transient failures a grid part download hits in practice: transport
// errors, 429 and 5xx responses. Other statuses, 404 included, are returned
// to the caller untouched, so a missing remote part stays distinguishable
// from a flaky one.
package retryablehttp

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const backOffMaxDuration = 3 * time.Second

// Client retries idempotent requests with exponential backoff. Requests
// with bodies are not replayed; use it for GETs.
type Client struct {
	internalClient http.Client
	maxElapsed     time.Duration
}

// NewClient returns a client that gives up after a few seconds of backoff.
func NewClient() *Client {
	return &Client{
		internalClient: http.Client{},
		maxElapsed:     backOffMaxDuration,
	}
}

// Get issues a GET for url with the context attached.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do executes the request, retrying transport errors and retryable statuses
// until the backoff policy gives up. The final response is returned with its
// body intact even when its status is retryable; callers decide what a
// lasting 503 means for them.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.maxElapsed

	for {
		resp, err := c.internalClient.Do(req)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			if err != nil {
				return nil, err
			}
			return resp, nil
		}
		if err == nil {
			// The connection is only reusable once the body is consumed.
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(wait):
		}
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// StandardClient returns an *http.Client that routes every request through
// the retrying transport, for callers that take a standard client.
func (c *Client) StandardClient() *http.Client {
	return &http.Client{
		Transport: &RoundTripper{Client: c},
	}
}

// RoundTripper adapts Client to http.RoundTripper.
type RoundTripper struct {
	Client *Client
	once   sync.Once
}

var _ http.RoundTripper = (*RoundTripper)(nil)

func (rt *RoundTripper) init() {
	if rt.Client == nil {
		rt.Client = NewClient()
	}
}

// RoundTrip executes a single HTTP transaction through the retrying client.
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.once.Do(rt.init)
	return rt.Client.Do(req)
}
