package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/wms-platform/inventory-sync/internal/domain"
	"github.com/wms-platform/inventory-sync/pkg/logging"
	"github.com/wms-platform/inventory-sync/pkg/resilience"
	"github.com/wms-platform/inventory-sync/pkg/tracing"
)

var gatewayTracer = otel.Tracer("inventory-sync/gateway")

const maxResponseBytes = 16 << 20

// Config controls retry, timeout and pacing of outbound calls.
type Config struct {
	// MaxAttempts is the total number of tries per call, first one included.
	MaxAttempts int
	// DefaultRetryAfter is used when a 429 carries no usable Retry-After.
	DefaultRetryAfter time.Duration
	// MaxRetryAfter caps the wait taken from a Retry-After header.
	MaxRetryAfter time.Duration
	// RequestTimeout bounds each individual HTTP attempt.
	RequestTimeout time.Duration
	// RatePerSecond paces calls per store; 0 disables pacing.
	RatePerSecond float64
	Burst         int
	UserAgent     string
}

// DefaultConfig returns the defaults used in production
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		DefaultRetryAfter: time.Second,
		MaxRetryAfter:     30 * time.Second,
		RequestTimeout:    15 * time.Second,
		RatePerSecond:     2,
		Burst:             40,
		UserAgent:         "inventory-sync/1.0",
	}
}

// Metrics is the subset of metrics.Metrics the gateway records.
type Metrics interface {
	RecordStoreAPICall(store, operation string, statusCode int, duration time.Duration)
	RecordRateLimited(store string)
}

// Request is one logical call to a store admin API.
type Request struct {
	// Operation names the call in metrics and spans, e.g. "list_variants".
	Operation string
	Method    string
	URL       string
	// Body is JSON-encoded when non-nil.
	Body any
}

// Response is the final successful response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Gateway issues authenticated calls to store admin APIs, retrying only on
// 429 and honoring Retry-After.
type Gateway struct {
	client   *http.Client
	config   Config
	breakers *resilience.CircuitBreakerRegistry
	metrics  Metrics
	logger   *logging.Logger
	sleep    resilience.SleepFunc

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option customizes a Gateway
type Option func(*Gateway)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.client = c }
}

// WithSleep replaces the wait between rate-limited attempts.
func WithSleep(s resilience.SleepFunc) Option {
	return func(g *Gateway) { g.sleep = s }
}

// WithMetrics records call metrics.
func WithMetrics(m Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithCircuitBreakers guards each store with its own breaker.
func WithCircuitBreakers(r *resilience.CircuitBreakerRegistry) Option {
	return func(g *Gateway) { g.breakers = r }
}

// New creates a Gateway
func New(config Config, logger *logging.Logger, opts ...Option) *Gateway {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.DefaultRetryAfter <= 0 {
		config.DefaultRetryAfter = time.Second
	}
	if config.MaxRetryAfter < config.DefaultRetryAfter {
		config.MaxRetryAfter = config.DefaultRetryAfter
	}
	g := &Gateway{
		client:   &http.Client{},
		config:   config,
		logger:   logger.WithComponent("gateway"),
		sleep:    resilience.ContextSleep,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BreakerConfig is the per-store breaker template used with
// resilience.NewCircuitBreakerRegistry.
func BreakerConfig(name string) *resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig(name)
	cfg.IsFailure = countsAgainstBreaker
	return cfg
}

// Do performs req against store. On success the body is decoded into out
// when out is non-nil.
func (g *Gateway) Do(ctx context.Context, store domain.Store, req Request, out any) (*Response, error) {
	ctx, span := gatewayTracer.Start(ctx, "store."+req.Operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.StoreCallAttributes(store.Identity(), req.Method, req.URL)...),
	)
	defer span.End()

	start := time.Now()
	resp, err := g.call(ctx, store, req)
	if g.metrics != nil {
		status := StatusCode(err)
		if resp != nil {
			status = resp.StatusCode
		}
		g.metrics.RecordStoreAPICall(store.Identity(), req.Operation, status, time.Since(start))
	}

	if err == nil && out != nil && len(resp.Body) > 0 {
		if derr := json.Unmarshal(resp.Body, out); derr != nil {
			err = &RemoteAPIError{
				Store:      store.Identity(),
				Method:     req.Method,
				URL:        req.URL,
				StatusCode: resp.StatusCode,
				Body:       truncate(resp.Body),
				Err:        fmt.Errorf("decode response: %w", derr),
			}
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int("store.attempts", resp.Attempts),
	)
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func (g *Gateway) call(ctx context.Context, store domain.Store, req Request) (*Response, error) {
	retry := &resilience.RetryConfig{
		MaxAttempts:     g.config.MaxAttempts,
		InitialDelay:    g.config.DefaultRetryAfter,
		MaxDelay:        g.config.MaxRetryAfter,
		BackoffFactor:   1,
		RetryableErrors: IsRateLimited,
		DelayHint: func(err error) (time.Duration, bool) {
			var rl *RateLimitedError
			if errors.As(err, &rl) {
				return rl.RetryAfter, true
			}
			return 0, false
		},
		OnRetry: func(attempt int, delay time.Duration, _ error) {
			g.logger.WithContext(ctx).Warn("Store rate limited, backing off",
				"store", store.Identity(),
				"operation", req.Operation,
				"attempt", attempt,
				"retryAfterMs", delay.Milliseconds(),
			)
			trace.SpanFromContext(ctx).AddEvent("rate_limited", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.Int64("retry_after_ms", delay.Milliseconds()),
			))
		},
		Sleep: g.sleep,
	}

	run := func(ctx context.Context) (*Response, error) {
		return resilience.RetryWithResult(ctx, retry, func(attempt int) (*Response, error) {
			return g.attempt(ctx, store, req, attempt)
		})
	}

	if g.breakers == nil {
		return run(ctx)
	}
	resp, err := resilience.Execute(ctx, g.breakers.Get(store.Identity()), run)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &RemoteAPIError{Store: store.Identity(), Method: req.Method, URL: req.URL, Err: err}
	}
	return resp, err
}

func (g *Gateway) attempt(ctx context.Context, store domain.Store, req Request, attempt int) (*Response, error) {
	if err := g.limiter(store).Wait(ctx); err != nil {
		return nil, &RemoteAPIError{Store: store.Identity(), Method: req.Method, URL: req.URL, Err: err}
	}

	if g.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.RequestTimeout)
		defer cancel()
	}

	httpReq, err := g.newRequest(ctx, store, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		g.logger.RemoteCall(ctx, store.Identity(), req.Method, req.URL, 0, attempt, time.Since(start))
		return nil, &RemoteAPIError{Store: store.Identity(), Method: req.Method, URL: req.URL, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	g.logger.RemoteCall(ctx, store.Identity(), req.Method, req.URL, httpResp.StatusCode, attempt, time.Since(start))
	if err != nil {
		return nil, &RemoteAPIError{Store: store.Identity(), Method: req.Method, URL: req.URL, StatusCode: httpResp.StatusCode, Err: err}
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		if g.metrics != nil {
			g.metrics.RecordRateLimited(store.Identity())
		}
		return nil, &RateLimitedError{
			Store:      store.Identity(),
			Method:     req.Method,
			URL:        req.URL,
			Attempts:   attempt,
			RetryAfter: ParseRetryAfter(httpResp.Header.Get("Retry-After"), g.config.DefaultRetryAfter, g.config.MaxRetryAfter, time.Now()),
		}
	case httpResp.StatusCode < 200 || httpResp.StatusCode > 299:
		return nil, &RemoteAPIError{
			Store:      store.Identity(),
			Method:     req.Method,
			URL:        req.URL,
			StatusCode: httpResp.StatusCode,
			Body:       truncate(body),
		}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		Attempts:   attempt,
	}, nil
}

func (g *Gateway) newRequest(ctx context.Context, store domain.Store, req Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request body: %w", req.Operation, err)
		}
		body = bytes.NewReader(payload)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.Operation, err)
	}

	httpReq.SetBasicAuth(store.APIKey, store.Password)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if g.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", g.config.UserAgent)
	}
	return httpReq, nil
}

func (g *Gateway) limiter(store domain.Store) *rate.Limiter {
	if g.config.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := store.Identity()
	if l, ok := g.limiters[key]; ok {
		return l
	}
	burst := g.config.Burst
	if burst < 1 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(g.config.RatePerSecond), burst)
	g.limiters[key] = l
	return l
}

// ParseRetryAfter reads a Retry-After header given in seconds (integer or
// decimal) or as an HTTP date. Missing or unusable values yield fallback.
// Results above ceiling are clamped to it; a ceiling <= 0 leaves them
// unbounded.
func ParseRetryAfter(value string, fallback, ceiling time.Duration, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if !(secs >= 0) {
			return fallback
		}
		if secs >= float64(math.MaxInt64)/float64(time.Second) {
			return clampRetryAfter(time.Duration(math.MaxInt64), ceiling)
		}
		return clampRetryAfter(time.Duration(secs*float64(time.Second)), ceiling)
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return clampRetryAfter(d, ceiling)
		}
		return 0
	}
	return fallback
}

func clampRetryAfter(d, ceiling time.Duration) time.Duration {
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
