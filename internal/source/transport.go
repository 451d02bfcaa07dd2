package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"token-forensics/internal/cache"
	"token-forensics/internal/observability"
)

// Default transport configuration values.
const (
	DefaultRequestTimeout = 30 * time.Second
	maxErrorBody          = 512
)

// Transport is the HTTP client shared by adapters. Each adapter owns one
// Transport so its rate limit and breaker are isolated from other sources.
type Transport struct {
	name     string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	cache    cache.Cache
	cacheTTL time.Duration
	headers  map[string]string
	log      zerolog.Logger
	now      func() time.Time
}

// TransportOption configures Transport.
type TransportOption func(*Transport)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) {
		t.client = c
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) TransportOption {
	return func(t *Transport) {
		if d > 0 {
			t.client.Timeout = d
		}
	}
}

// WithRateLimitDelay spaces requests at least delay apart. Zero disables limiting.
func WithRateLimitDelay(delay time.Duration) TransportOption {
	return func(t *Transport) {
		if delay <= 0 {
			t.limiter = nil
			return
		}
		t.limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
}

// WithCache stores successful responses of cacheable calls for ttl.
func WithCache(c cache.Cache, ttl time.Duration) TransportOption {
	return func(t *Transport) {
		t.cache = c
		t.cacheTTL = ttl
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) TransportOption {
	return func(t *Transport) {
		t.headers[key] = value
	}
}

// WithLogger sets the transport logger.
func WithLogger(l zerolog.Logger) TransportOption {
	return func(t *Transport) {
		t.log = l
	}
}

// NewTransport creates a Transport named after its source.
func NewTransport(name string, opts ...TransportOption) *Transport {
	t := &Transport{
		name:    name,
		client:  &http.Client{Timeout: DefaultRequestTimeout},
		headers: map[string]string{"Accept": "application/json"},
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: 60 * time.Second,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Only outages count against the breaker; throttling and
		// permanent answers mean the source is up.
		IsSuccessful: func(err error) bool {
			var fe *FetchError
			if errors.As(err, &fe) {
				return fe.Kind != KindUnreachable
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return t
}

// Call describes one HTTP request. A non-empty CacheKey makes the call cacheable.
type Call struct {
	Method   string
	URL      string
	Body     []byte
	CacheKey string
}

// Do performs the call and returns the response body. Every failure is a *FetchError.
func (t *Transport) Do(ctx context.Context, call Call) ([]byte, error) {
	if call.CacheKey != "" && t.cache != nil {
		if body, ok, err := t.cache.Get(ctx, call.CacheKey); err == nil && ok {
			observability.RecordCacheHit(t.name)
			return body, nil
		} else if err != nil {
			t.log.Warn().Err(err).Msg("cache get failed")
		}
		observability.RecordCacheMiss(t.name)
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, Timeout(fmt.Errorf("rate limiter: %w", err))
		}
	}

	start := t.now()
	out, err := t.breaker.Execute(func() (interface{}, error) {
		return t.roundTrip(ctx, call)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = Unreachable(fmt.Errorf("%s: %w", t.name, err))
	}
	fe := AsFetchError(err)
	observability.RecordSourceRequest(t.name, fetchKindLabel(fe), t.now().Sub(start))
	if fe != nil {
		return nil, fe
	}

	body := out.([]byte)
	if call.CacheKey != "" && t.cache != nil {
		if err := t.cache.Set(ctx, call.CacheKey, body, t.cacheTTL); err != nil {
			t.log.Warn().Err(err).Msg("cache set failed")
		}
	}
	return body, nil
}

// GetJSON performs a cacheable GET and decodes the JSON body into out.
func (t *Transport) GetJSON(ctx context.Context, url string, out any) error {
	body, err := t.Do(ctx, Call{Method: http.MethodGet, URL: url, CacheKey: cache.Key(t.name, url)})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return Malformed(fmt.Errorf("decode %s response: %w", t.name, err))
	}
	return nil
}

func (t *Transport) roundTrip(ctx context.Context, call Call) ([]byte, error) {
	var reqBody io.Reader
	if call.Body != nil {
		reqBody = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, reqBody)
	if err != nil {
		return nil, Malformed(fmt.Errorf("create request: %w", err))
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if call.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Timeout(ctx.Err())
		}
		return nil, Unreachable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Unreachable(fmt.Errorf("read response: %w", err))
	}
	if err := classifyStatus(resp, body, t.now()); err != nil {
		t.log.Debug().Int("status", resp.StatusCode).Str("url", call.URL).Msg("request failed")
		return nil, err
	}
	return body, nil
}

// classifyStatus maps an HTTP status onto the FetchError taxonomy.
func classifyStatus(resp *http.Response, body []byte, now time.Time) *FetchError {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return NotFound(statusError(code, body))
	case code == http.StatusTooManyRequests:
		return RateLimited(ParseRetryAfter(resp.Header.Get("Retry-After"), now), statusError(code, body))
	case code >= 500:
		return Unreachable(statusError(code, body))
	default:
		return Malformed(statusError(code, body))
	}
}

func statusError(code int, body []byte) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return fmt.Errorf("unexpected status %d: %s", code, bytes.TrimSpace(body))
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func fetchKindLabel(fe *FetchError) string {
	if fe == nil {
		return "ok"
	}
	return string(fe.Kind)
}
