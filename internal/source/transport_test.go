package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-forensics/internal/cache"
)

func TestTransport_StatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		body       string
		kind       ErrorKind
		wait       time.Duration
	}{
		{"not found", http.StatusNotFound, "", `{"error":"coin not found"}`, KindNotFound, 0},
		{"rate limited", http.StatusTooManyRequests, "7", "", KindRateLimited, 7 * time.Second},
		{"server error", http.StatusBadGateway, "", "", KindUnreachable, 0},
		{"bad request", http.StatusBadRequest, "", "", KindMalformedResponse, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			tr := NewTransport("test")
			var out map[string]any
			err := tr.GetJSON(context.Background(), server.URL, &out)

			fe := AsFetchError(err)
			require.NotNil(t, fe)
			assert.Equal(t, tt.kind, fe.Kind)
			assert.Equal(t, tt.wait, fe.RetryAfter)
		})
	}
}

func TestTransport_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"prices": [`))
	}))
	defer server.Close()

	var out map[string]any
	err := NewTransport("test").GetJSON(context.Background(), server.URL, &out)
	assert.Equal(t, KindMalformedResponse, AsFetchError(err).Kind)
}

func TestTransport_UnreachableHost(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	var out map[string]any
	err := NewTransport("test").GetJSON(context.Background(), url, &out)
	assert.Equal(t, KindUnreachable, AsFetchError(err).Kind)
}

func TestTransport_HeadersAndCache(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "k-123", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tr := NewTransport("test",
		WithHeader("x-api-key", "k-123"),
		WithCache(cache.NewMemory(), time.Minute),
	)

	for i := 0; i < 3; i++ {
		var out struct{ OK bool }
		require.NoError(t, tr.GetJSON(context.Background(), server.URL+"/x", &out))
		assert.True(t, out.OK)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestTransport_BreakerOpensOnOutage(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := NewTransport("flaky")
	for i := 0; i < 8; i++ {
		_, err := tr.Do(context.Background(), Call{Method: http.MethodGet, URL: server.URL})
		assert.Equal(t, KindUnreachable, AsFetchError(err).Kind)
	}
	// breaker trips after five consecutive failures
	assert.Equal(t, int32(5), hits.Load())
}

func TestTransport_RateLimitHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tr := NewTransport("slow", WithRateLimitDelay(time.Hour))
	_, err := tr.Do(context.Background(), Call{Method: http.MethodGet, URL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tr.Do(ctx, Call{Method: http.MethodGet, URL: server.URL})
	assert.Equal(t, KindTimeout, AsFetchError(err).Kind)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Second, ParseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-5", now))
	assert.Equal(t, time.Minute, ParseRetryAfter(now.Add(time.Minute).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
}
