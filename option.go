package blockrun

import (
	"net/http"
	"time"

	"github.com/blockrunai/blockrun-go/logger"
	"github.com/blockrunai/blockrun-go/metrics"
	"github.com/blockrunai/blockrun-go/types"
)

type Option func(*Client)

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.metrics = r
		}
	}
}

func WithTimeout(t time.Duration) Option {
	return func(c *Client) {
		if t > 0 {
			c.timeout = t
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithPreferredNetwork overrides which challenge option is selected when
// a server offers several. It defaults to the builder's own network; the
// selected option must still match the builder's rail to be signable.
func WithPreferredNetwork(n types.Network) Option {
	return func(c *Client) {
		if n != "" {
			c.preferred = n
		}
	}
}
