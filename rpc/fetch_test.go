package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	endpoint string
	status   string
}

type fakeObserver struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (o *fakeObserver) ObserveRequest(endpoint, status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, recordedRequest{endpoint: endpoint, status: status})
}

func (o *fakeObserver) statuses() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.requests))
	for _, r := range o.requests {
		out = append(out, r.status)
	}
	return out
}

func newTestFetcher(opts Options) (*Fetcher, *[]time.Duration) {
	f := NewFetcher(opts)
	sleeps := &[]time.Duration{}
	f.sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return f, sleeps
}

func flakyServer(t *testing.T, failures int32, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= failures {
			w.WriteHeader(status)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &attempts
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	srv, attempts := flakyServer(t, 2, http.StatusServiceUnavailable)
	observer := &fakeObserver{}
	f, sleeps := newTestFetcher(Options{Observer: observer})

	body, err := f.Fetch(context.Background(), "test", srv.URL+"/status", nil)

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
	assert.Equal(t, []string{"503", "503", "200"}, observer.statuses())
}

func TestFetch_GivesUpAfterMaxAttempts(t *testing.T) {
	srv, attempts := flakyServer(t, 100, http.StatusInternalServerError)
	f, sleeps := newTestFetcher(Options{})

	body, err := f.Fetch(context.Background(), "test", srv.URL+"/status", nil)

	assert.Nil(t, body)
	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Len(t, *sleeps, 2)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 3, terr.Attempts)
	assert.True(t, errors.Is(err, ErrNoData))

	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusInternalServerError, serr.Code)
}

func TestFetch_ClientErrorsAreRetried(t *testing.T) {
	srv, attempts := flakyServer(t, 1, http.StatusNotFound)
	f, _ := newTestFetcher(Options{})

	_, err := f.Fetch(context.Background(), "test", srv.URL, nil)

	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestFetch_MalformedJSONIsNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Write([]byte(`<html>gateway</html>`))
	}))
	defer srv.Close()
	f, sleeps := newTestFetcher(Options{})

	_, err := f.Fetch(context.Background(), "test", srv.URL, nil)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.True(t, errors.Is(err, ErrNoData))
	assert.Equal(t, int32(1), attempts.Load())
	assert.Empty(t, *sleeps)
}

func TestFetch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f, sleeps := newTestFetcher(Options{})
	_, err := f.Fetch(context.Background(), "test", addr, nil)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 3, terr.Attempts)
	assert.Len(t, *sleeps, 2)
}

func TestFetch_PerAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f, _ := newTestFetcher(Options{Timeout: 50 * time.Millisecond, MaxAttempts: 2})
	start := time.Now()
	_, err := f.Fetch(context.Background(), "test", srv.URL, nil)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 2, terr.Attempts)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFetch_StopsWhenContextCancelled(t *testing.T) {
	srv, attempts := flakyServer(t, 100, http.StatusBadGateway)
	f := NewFetcher(Options{Backoff: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for attempts.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := f.Fetch(ctx, "test", srv.URL, nil)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 1, terr.Attempts)
	assert.Error(t, ctx.Err())
}

func TestFetch_EncodesQuery(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(Options{})
	_, err := f.Fetch(context.Background(), "test", srv.URL, url.Values{"pagination.limit": {"1000"}})

	require.NoError(t, err)
	assert.Equal(t, "1000", got.Get("pagination.limit"))
}
