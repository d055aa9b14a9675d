package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second

	maxErrorBody = 512
)

// Observer receives one call per HTTP attempt.
type Observer interface {
	ObserveRequest(endpoint, status string, duration time.Duration)
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// Fetcher issues GET requests with a per-attempt timeout and retries
// transport failures with exponential backoff.
type Fetcher struct {
	client      *http.Client
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	observer    Observer
	logger      *slog.Logger
	sleep       sleepFunc
}

func NewFetcher(opts Options) *Fetcher {
	opts = opts.withDefaults()

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
		}
	}

	return &Fetcher{
		client:      client,
		timeout:     opts.Timeout,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		observer:    opts.Observer,
		logger:      opts.Logger,
		sleep:       sleepContext,
	}
}

// Fetch returns the raw JSON body of rawURL. Exhausted retries yield a
// *TransportError; a body that is not JSON yields a *ParseError at once.
func (f *Fetcher) Fetch(ctx context.Context, endpoint, rawURL string, query url.Values) ([]byte, error) {
	target := rawURL
	if len(query) > 0 {
		target = rawURL + "?" + query.Encode()
	}

	backoff := f.backoff
	attempts := 0
	var lastErr error

	for attempts < f.maxAttempts {
		attempts++
		f.logger.Debug("Making API call", "url", target, "attempt", attempts, "max_attempts", f.maxAttempts)

		body, err := f.do(ctx, endpoint, target)
		if err == nil {
			if !json.Valid(body) {
				return nil, fieldError("response body", fmt.Errorf("invalid JSON from %s", target))
			}
			return body, nil
		}

		lastErr = err
		f.logger.Warn("API call failed", "url", target, "attempt", attempts, "max_attempts", f.maxAttempts, "error", err)

		if attempts == f.maxAttempts || ctx.Err() != nil {
			break
		}
		if err := f.sleep(ctx, backoff); err != nil {
			lastErr = err
			break
		}
		backoff *= 2
	}

	return nil, &TransportError{URL: target, Attempts: attempts, Err: lastErr}
}

func (f *Fetcher) do(ctx context.Context, endpoint, target string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	status := "error"
	defer func() {
		if f.observer != nil {
			f.observer.ObserveRequest(endpoint, status, time.Since(start))
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
