package coingecko

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-forensics/internal/domain"
	"token-forensics/internal/source"
)

const day = int64(86_400_000)

func testAsset(t *testing.T) domain.Asset {
	t.Helper()
	a, err := domain.NewAsset(domain.ChainPolygon, "0xdb9a2d31a1f2b0b2a5b1b5e7b0b1b0b6b9b1b2b3", "ncr", 18)
	require.NoError(t, err)
	return a
}

func noSleepRetrier() *source.Retrier {
	now := time.Unix(1_700_000_000, 0)
	return source.NewRetrier(3, time.Millisecond, time.Millisecond).WithClock(
		func() time.Time { return now },
		func(context.Context, time.Duration) error { return nil },
	)
}

// chartHandler serves one price per day inside the requested window.
func chartHandler(t *testing.T, calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		from, err := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
		require.NoError(t, err)
		to, err := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
		require.NoError(t, err)

		var prices, volumes [][]float64
		for ts := from * 1000; ts <= to*1000; ts += day {
			prices = append(prices, []float64{float64(ts), float64(ts/day) + 0.5})
			volumes = append(volumes, []float64{float64(ts), 1000})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"prices": prices, "total_volumes": volumes})
	}
}

func TestFetch_ContractPathAndWindows(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/coins/polygon-pos/contract/", chartHandler(t, &calls))
	server := httptest.NewServer(mux)
	defer server.Close()

	a := New(Options{BaseURL: server.URL, PageDays: 2, Retrier: noSleepRetrier()})
	res := a.Fetch(context.Background(), source.Request{
		Asset: testAsset(t),
		Range: domain.TimeRange{StartMs: 0, EndMs: 5*day - 1},
	})

	require.Nil(t, res.Err)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, res.Records.Prices, 5)
	for i, p := range res.Records.Prices {
		assert.Equal(t, int64(i)*day, p.TimestampMs)
		assert.Equal(t, float64(i)+0.5, p.PriceUSD)
		require.NotNil(t, p.VolumeUSD)
		assert.Equal(t, 1000.0, *p.VolumeUSD)
		assert.Equal(t, domain.SourcePriceAPI, p.Source)
	}
}

func TestFetch_CoinIDAndAPIKey(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/neos-credits/market_chart/range", r.URL.Path)
		assert.Equal(t, "pro-key", r.Header.Get("x-cg-pro-api-key"))
		chartHandler(t, &calls)(w, r)
	}))
	defer server.Close()

	asset := testAsset(t)
	asset.CoinGeckoID = "neos-credits"
	a := New(Options{BaseURL: server.URL, APIKey: "pro-key", Retrier: noSleepRetrier()})
	res := a.Fetch(context.Background(), source.Request{Asset: asset, Range: domain.TimeRange{StartMs: 0, EndMs: day}})

	require.Nil(t, res.Err)
	assert.Len(t, res.Records.Prices, 2)
}

func TestFetch_PartialOnLaterWindowFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Load() >= 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		chartHandler(t, &calls)(w, r)
	}))
	defer server.Close()

	a := New(Options{BaseURL: server.URL, PageDays: 1, Retrier: noSleepRetrier()})
	res := a.Fetch(context.Background(), source.Request{Asset: testAsset(t), Range: domain.TimeRange{StartMs: 0, EndMs: 3*day - 1}})

	require.NotNil(t, res.Err)
	assert.Equal(t, source.KindNotFound, res.Err.Kind)
	assert.True(t, res.Partial())
	assert.Len(t, res.Records.Prices, 1)
	assert.Equal(t, 1, res.Pages)
}

func TestFetch_RateLimitedThenRecovered(t *testing.T) {
	var calls, served atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		chartHandler(t, &served)(w, r)
	}))
	defer server.Close()

	a := New(Options{BaseURL: server.URL, Retrier: noSleepRetrier()})
	res := a.Fetch(context.Background(), source.Request{Asset: testAsset(t), Range: domain.TimeRange{StartMs: 0, EndMs: day}})

	require.Nil(t, res.Err)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, res.Records.Prices, 2)
}

func TestFetch_MalformedEntry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"prices":[[1000]],"total_volumes":[]}`))
	}))
	defer server.Close()

	a := New(Options{BaseURL: server.URL, Retrier: noSleepRetrier()})
	res := a.Fetch(context.Background(), source.Request{Asset: testAsset(t), Range: domain.TimeRange{StartMs: 0, EndMs: day}})

	require.NotNil(t, res.Err)
	assert.Equal(t, source.KindMalformedResponse, res.Err.Kind)
}

func TestFetch_DeadlineBeforeFirstWindow(t *testing.T) {
	a := New(Options{BaseURL: "http://127.0.0.1:1", Retrier: noSleepRetrier()})
	res := a.Fetch(context.Background(), source.Request{
		Asset:    testAsset(t),
		Range:    domain.TimeRange{StartMs: 0, EndMs: day},
		Deadline: time.Unix(1_600_000_000, 0),
	})

	require.NotNil(t, res.Err)
	assert.Equal(t, source.KindTimeout, res.Err.Kind)
	assert.Zero(t, res.Attempts)
}

func TestToPricePoints_PriceWithoutVolume(t *testing.T) {
	chart := marketChart{
		Prices:       [][]float64{{2000, 1.6}, {1000, 1.5}},
		TotalVolumes: [][]float64{{1000, 250}, {3000, 99}},
	}
	points, err := toPricePoints(chart, 0, 5000)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, int64(1000), points[0].TimestampMs)
	require.NotNil(t, points[0].VolumeUSD)
	assert.Equal(t, 250.0, *points[0].VolumeUSD)

	assert.Equal(t, int64(2000), points[1].TimestampMs)
	assert.Equal(t, 1.6, points[1].PriceUSD)
	assert.Nil(t, points[1].VolumeUSD)
}
