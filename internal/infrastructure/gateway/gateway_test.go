package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/inventory-sync/internal/domain"
	"github.com/wms-platform/inventory-sync/pkg/logging"
	"github.com/wms-platform/inventory-sync/pkg/resilience"
)

type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

type fakeMetrics struct {
	mu          sync.Mutex
	calls       []int
	rateLimited int
}

func (f *fakeMetrics) RecordStoreAPICall(_, _ string, statusCode int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, statusCode)
}

func (f *fakeMetrics) RecordRateLimited(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rateLimited++
}

func testStore(url string) domain.Store {
	return domain.Store{
		Name:       "Store A",
		Domain:     "store-a.myshopify.com",
		AdminURL:   url,
		APIKey:     "key",
		Password:   "secret",
		LocationID: 10,
	}
}

func newTestGateway(sleep *recordingSleep, opts ...Option) *Gateway {
	cfg := DefaultConfig()
	cfg.RatePerSecond = 0
	cfg.RequestTimeout = 2 * time.Second
	opts = append([]Option{WithSleep(sleep.Sleep)}, opts...)
	return New(cfg, logging.Discard(), opts...)
}

func TestGateway_DoDecodesSuccess(t *testing.T) {
	var gotUser, gotPass, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value": 42}`))
	}))
	defer server.Close()

	g := newTestGateway(&recordingSleep{})
	var out struct {
		Value int `json:"value"`
	}
	resp, err := g.Do(context.Background(), testStore(server.URL), Request{Operation: "test", Method: http.MethodGet, URL: server.URL}, &out)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, 42, out.Value)
	assert.Equal(t, "key", gotUser)
	assert.Equal(t, "secret", gotPass)
	assert.Equal(t, "application/json", gotAccept)
}

func TestGateway_DoSendsJSONBody(t *testing.T) {
	var contentType string
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	g := newTestGateway(&recordingSleep{})
	_, err := g.Do(context.Background(), testStore(server.URL), Request{
		Operation: "set",
		Method:    http.MethodPost,
		URL:       server.URL,
		Body:      map[string]int{"available": 7},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.JSONEq(t, `{"available": 7}`, string(body))
}

func TestGateway_RetriesAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	sleep := &recordingSleep{}
	m := &fakeMetrics{}
	g := newTestGateway(sleep, WithMetrics(m))

	resp, err := g.Do(context.Background(), testStore(server.URL), Request{Operation: "test", URL: server.URL}, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, sleep.delays, 1)
	assert.GreaterOrEqual(t, sleep.delays[0], 2*time.Second)
	assert.Equal(t, 1, m.rateLimited)
	assert.Equal(t, []int{http.StatusOK}, m.calls)
}

func TestGateway_HugeRetryAfterIsClamped(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1e12")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	sleep := &recordingSleep{}
	cfg := DefaultConfig()
	cfg.RatePerSecond = 0
	cfg.MaxRetryAfter = 3 * time.Second
	g := New(cfg, logging.Discard(), WithSleep(sleep.Sleep))

	resp, err := g.Do(context.Background(), testStore(server.URL), Request{Operation: "test", URL: server.URL}, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, []time.Duration{3 * time.Second}, sleep.delays)
}

func TestGateway_RateLimitExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	sleep := &recordingSleep{}
	g := newTestGateway(sleep)

	_, err := g.Do(context.Background(), testStore(server.URL), Request{Operation: "test", URL: server.URL}, nil)

	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 5, rl.Attempts)
	assert.Equal(t, time.Second, rl.RetryAfter)
	assert.Equal(t, int32(5), calls.Load())
	assert.Len(t, sleep.delays, 4)
	for _, d := range sleep.delays {
		assert.Equal(t, time.Second, d)
	}
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
}

func TestGateway_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"errors":"boom"}`))
	}))
	defer server.Close()

	sleep := &recordingSleep{}
	g := newTestGateway(sleep)

	_, err := g.Do(context.Background(), testStore(server.URL), Request{Operation: "test", Method: http.MethodGet, URL: server.URL}, nil)

	var remote *RemoteAPIError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusInternalServerError, remote.StatusCode)
	assert.Contains(t, remote.Body, "boom")
	assert.Equal(t, "store-a.myshopify.com", remote.Store)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, sleep.delays)
}

func TestGateway_TimeoutIsTerminal(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := DefaultConfig()
	cfg.RatePerSecond = 0
	cfg.RequestTimeout = 50 * time.Millisecond
	g := New(cfg, logging.Discard(), WithSleep((&recordingSleep{}).Sleep))

	_, err := g.Do(context.Background(), testStore(server.URL), Request{Operation: "test", URL: server.URL}, nil)

	var remote *RemoteAPIError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 0, remote.StatusCode)
	assert.Error(t, remote.Err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGateway_InvalidJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	g := newTestGateway(&recordingSleep{})
	var out map[string]any
	_, err := g.Do(context.Background(), testStore(server.URL), Request{Operation: "test", URL: server.URL}, &out)

	var remote *RemoteAPIError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, err.Error(), "not json")
}

func TestGateway_CircuitOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	breakers := resilience.NewCircuitBreakerRegistry(logging.Discard().Logger, func(name string) *resilience.CircuitBreakerConfig {
		cfg := BreakerConfig(name)
		cfg.FailureThreshold = 2
		cfg.Timeout = time.Hour
		return cfg
	}, nil)
	g := newTestGateway(&recordingSleep{}, WithCircuitBreakers(breakers))
	store := testStore(server.URL)

	for i := 0; i < 2; i++ {
		_, err := g.Do(context.Background(), store, Request{Operation: "test", URL: server.URL}, nil)
		require.Error(t, err)
	}

	_, err := g.Do(context.Background(), store, Request{Operation: "test", URL: server.URL}, nil)
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	var remote *RemoteAPIError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGateway_RateLimitDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	breakers := resilience.NewCircuitBreakerRegistry(logging.Discard().Logger, func(name string) *resilience.CircuitBreakerConfig {
		cfg := BreakerConfig(name)
		cfg.FailureThreshold = 1
		return cfg
	}, nil)
	g := newTestGateway(&recordingSleep{}, WithCircuitBreakers(breakers))
	store := testStore(server.URL)

	for i := 0; i < 3; i++ {
		_, err := g.Do(context.Background(), store, Request{Operation: "test", URL: server.URL}, nil)
		require.True(t, IsRateLimited(err))
	}
	assert.Equal(t, "closed", breakers.Status()[store.Identity()].State)
}

func TestGateway_CanceledContextStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sleep := func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	cfg := DefaultConfig()
	cfg.RatePerSecond = 0
	g := New(cfg, logging.Discard(), WithSleep(sleep))

	_, err := g.Do(ctx, testStore(server.URL), Request{Operation: "test", URL: server.URL}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		value    string
		expected time.Duration
	}{
		{name: "Empty", value: "", expected: time.Second},
		{name: "Integer seconds", value: "2", expected: 2 * time.Second},
		{name: "Decimal seconds", value: "2.0", expected: 2 * time.Second},
		{name: "Fractional seconds", value: "0.5", expected: 500 * time.Millisecond},
		{name: "Garbage", value: "soon", expected: time.Second},
		{name: "Negative", value: "-3", expected: time.Second},
		{name: "HTTP date", value: now.Add(3 * time.Second).Format(http.TimeFormat), expected: 3 * time.Second},
		{name: "HTTP date in the past", value: now.Add(-time.Minute).Format(http.TimeFormat), expected: 0},
		{name: "Not a number", value: "NaN", expected: time.Second},
		{name: "Overflowing seconds", value: "1e12", expected: time.Minute},
		{name: "Infinite seconds", value: "+Inf", expected: time.Minute},
		{name: "Above ceiling", value: "86400", expected: time.Minute},
		{name: "HTTP date above ceiling", value: now.Add(time.Hour).Format(http.TimeFormat), expected: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseRetryAfter(tt.value, time.Second, time.Minute, now))
		})
	}

	assert.Equal(t, 24*time.Hour, ParseRetryAfter("86400", time.Second, 0, now), "no ceiling")
}
