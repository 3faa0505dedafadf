// Package gemini implements the Gemini model client used by the coach.
// Requests go through google.golang.org/genai; this package adds ordered
// model fallback, model discovery and error mapping into core.Error.
package gemini

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Option configures the Client.
type Option func(*Client)

// WithBaseURL sets the API origin.
// Default: https://generativelanguage.googleapis.com
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithAPIVersion sets the API version path segment. Default: v1beta.
func WithAPIVersion(v string) Option {
	return func(c *Client) {
		c.apiVersion = v
	}
}

// WithHTTPClient sets the HTTP client for API requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithModels pins the candidate model list and skips discovery.
func WithModels(models ...string) Option {
	return func(c *Client) {
		if len(models) == 0 {
			return
		}
		c.pinned = normalizeModelNames(models)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Observer receives one call per model attempt.
type Observer func(model, op, status string, elapsed time.Duration)

// WithObserver registers a per-attempt observer, typically metrics.
func WithObserver(obs Observer) Option {
	return func(c *Client) {
		c.observe = obs
	}
}
