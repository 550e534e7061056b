package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"go-cdse-download/internal/auth"
	"go-cdse-download/internal/models"
)

// Custom error types. ErrTransport is the terminal wrapper once retries are
// exhausted; the finer sentinels describe what the service actually said.
var (
	ErrTransport    = errors.New("transport failed")
	ErrRateLimited  = errors.New("API rate limit exceeded")
	ErrUnauthorized = errors.New("API request unauthorized (check credentials)")
	ErrNotFound     = errors.New("API resource not found")
	ErrServerError  = errors.New("API server error")
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultTimeout    = 60 * time.Second
)

// Client talks to the catalog and OData endpoints with bearer auth and a
// bounded retry policy: 429/502/503/504 and connection errors retry with
// exponential backoff (1s, 2s, 4s); other 4xx fail immediately.
type Client struct {
	Endpoints  models.Endpoints
	HttpClient *http.Client
	Auth       *auth.TokenAuthority

	maxRetries int
	retryDelay time.Duration
	sleep      func(time.Duration)

	resolveMu sync.Mutex
	resolved  map[string]string // product id -> resolved download UUID
}

// NewClient creates an API client. A nil httpClient gets the default 60s
// timeout; auth may be nil for endpoints that accept anonymous requests.
func NewClient(authority *auth.TokenAuthority, httpClient *http.Client, cfg models.Config) *Client {
	if httpClient == nil {
		timeout := defaultTimeout
		if cfg.APIClientTimeoutSec > 0 {
			timeout = time.Duration(cfg.APIClientTimeoutSec) * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	retryDelay := defaultRetryDelay
	if cfg.InitialRetryDelayMs > 0 {
		retryDelay = time.Duration(cfg.InitialRetryDelayMs) * time.Millisecond
	}
	return &Client{
		Endpoints:  cfg.Endpoints,
		HttpClient: httpClient,
		Auth:       authority,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		sleep:      time.Sleep,
		resolved:   make(map[string]string),
	}
}

// retryableStatus reports whether a status code is worth another attempt.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// statusError maps a terminal status code onto the sentinel taxonomy.
func statusError(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w (status code %d)", ErrRateLimited, code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w (status code %d)", ErrUnauthorized, code)
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500:
		return fmt.Errorf("%w (status code %d)", ErrServerError, code)
	default:
		return fmt.Errorf("request failed with status %d", code)
	}
}

// doRequest performs one logical request with auth, retries and body
// buffering. The request body (if any) is replayed on every attempt.
func (c *Client) doRequest(ctx context.Context, method, reqURL string, body []byte, contentType string) ([]byte, error) {
	var lastErr error
	refreshed := false

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay << (attempt - 1)
			log.WithError(lastErr).Warnf("Retrying %s %s (%d/%d) after %s", method, reqURL, attempt+1, c.maxRetries, delay)
			c.sleep(delay)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("error creating request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.Auth != nil {
			header, err := c.Auth.AuthHeader(ctx)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", header)
		}

		resp, err := c.HttpClient.Do(req)
		if err != nil {
			// Connection-level failure, retryable.
			lastErr = fmt.Errorf("http request failed: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: reading response body: %w", ErrTransport, err)
			}
			return data, nil
		}

		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized && c.Auth != nil && !refreshed {
			// Token may have been revoked server-side; fetch a fresh one and
			// burn this attempt on the spot.
			log.Debug("Got 401, invalidating cached token and retrying once with a fresh one")
			c.Auth.Invalidate()
			refreshed = true
			lastErr = statusError(resp.StatusCode)
			continue
		}

		lastErr = statusError(resp.StatusCode)
		if !retryableStatus(resp.StatusCode) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("%w: after %d attempts: %w", ErrTransport, c.maxRetries, lastErr)
}

// GetJSON fetches a URL and returns the raw response body.
func (c *Client) GetJSON(ctx context.Context, reqURL string) ([]byte, error) {
	return c.doRequest(ctx, http.MethodGet, reqURL, nil, "")
}

// PostJSON posts a JSON payload and returns the raw response body.
func (c *Client) PostJSON(ctx context.Context, reqURL string, payload []byte) ([]byte, error) {
	return c.doRequest(ctx, http.MethodPost, reqURL, payload, "application/json")
}
