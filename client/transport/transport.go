// Package transport provides the HTTP transport shared by the event client
// and the async logger's sender workers: a timeout-bounded client that
// retries on 5xx/429 responses with jittered exponential backoff.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/processlog/eventlog/client/token"
)

// Config configures the shared transport.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	TokenProvider  token.Provider
}

// Transport is a thin wrapper around *http.Client that adds auth headers
// and a retry-on-5xx/429 policy. One transport is shared by every sender
// worker in the async logger.
type Transport struct {
	cfg    Config
	client *http.Client
}

// New creates a Transport. A nil TokenProvider defaults to no auth header.
func New(cfg Config) *Transport {
	if cfg.TokenProvider == nil {
		cfg.TokenProvider = token.None{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Transport{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Do sends one HTTP request built from method/path/body, retrying
// on 5xx and 429 responses with exponential backoff + jitter. It does not
// retry on context cancellation, 4xx (other than 429), or network errors
// from malformed requests — those are returned immediately.
func (t *Transport) Do(ctx context.Context, method, path string, body []byte) (*http.Response, []byte, error) {
	var resp *http.Response
	var respBody []byte

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.cfg.BaseRetryDelay
	bo.MaxInterval = t.cfg.MaxRetryDelay
	bo.MaxElapsedTime = 0
	maxRetries := uint64(t.cfg.MaxRetries)
	if t.cfg.MaxRetries <= 0 {
		maxRetries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, t.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		if tok, err := t.cfg.TokenProvider.Token(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("fetch token: %w", err))
		} else if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}

		r, err := t.client.Do(req)
		if err != nil {
			return err // network errors are retryable
		}

		b, readErr := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if readErr != nil {
			return backoff.Permanent(fmt.Errorf("read response body: %w", readErr))
		}

		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
			resp, respBody = r, b
			return fmt.Errorf("retryable status %d", r.StatusCode)
		}

		resp, respBody = r, b
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		if resp != nil {
			return resp, respBody, nil // let the caller inspect the final status code
		}
		return nil, nil, err
	}
	return resp, respBody, nil
}
