package coingecko

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"CoinPull/internal/domain/errs"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chart = `{
  "prices": [[1704067200000, 42000.5], [1704070800000, 42100]],
  "market_caps": [[1704067200000, 8.2e11], [1704070800000, 8.3e11]],
  "total_volumes": [[1704067200000, 1.5e10], [1704070800000, 1.6e10]]
}`

func newTestClient(url string, retries int) *Client {
	return New(Config{
		BaseURL:           url,
		APIKey:            "demo-key",
		RequestsPerSecond: 1000,
		Burst:             100,
		MaxRetries:        retries,
		BackoffInitial:    time.Millisecond,
		BackoffMax:        5 * time.Millisecond,
	})
}

func TestFetchSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/bitcoin/market_chart", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		assert.Equal(t, "7", r.URL.Query().Get("days"))
		assert.Equal(t, "demo-key", r.Header.Get("x-cg-demo-api-key"))
		assert.Equal(t, "CoinPull/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(chart))
	}))
	defer srv.Close()

	frag, err := newTestClient(srv.URL, 0).FetchSeries(context.Background(), "bitcoin", 7)
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", frag.AssetID)
	require.Len(t, frag.Prices, 2)
	assert.Equal(t, 42000.5, frag.Prices[0][1])
	assert.Equal(t, float64(1704067200000), frag.MarketCaps[0][0])
	assert.Len(t, frag.TotalVolumes, 2)
}

func TestFetchSeriesRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(chart))
		}
	}))
	defer srv.Close()

	frag, err := newTestClient(srv.URL, 3).FetchSeries(context.Background(), "bitcoin", 1)
	require.NoError(t, err)
	assert.Len(t, frag.Prices, 2)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchSeriesGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).FetchSeries(context.Background(), "bitcoin", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrSourceUnavailable)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchSeriesDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"coin not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 5).FetchSeries(context.Background(), "nope", 1)
	var se *errs.SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "nope", se.AssetID)
	assert.Equal(t, "coingecko", se.Source)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetchSeriesDoesNotRetryMalformedBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"prices": "soon"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 5).FetchSeries(context.Background(), "bitcoin", 1)
	assert.ErrorIs(t, err, errs.ErrSourceUnavailable)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetchSeriesCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(srv.URL, 5).FetchSeries(ctx, "bitcoin", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryAfterHintIsCapped(t *testing.T) {
	for i := 0; i < 50; i++ {
		pol := newTestClient("http://unused", 3).policy()
		pol.hint = time.Hour
		assert.Equal(t, 5*time.Millisecond, pol.NextBackOff())
		for j := 0; j < 2; j++ {
			assert.LessOrEqual(t, pol.NextBackOff(), 5*time.Millisecond)
		}
	}
}

func TestPolicyStartsAtConfiguredInterval(t *testing.T) {
	c := New(Config{BackoffInitial: 100 * time.Millisecond, BackoffMax: time.Minute, MaxRetries: 3})
	for i := 0; i < 50; i++ {
		first := c.policy().NextBackOff()
		assert.GreaterOrEqual(t, first, 50*time.Millisecond)
		assert.LessOrEqual(t, first, 150*time.Millisecond)
	}
}

func TestPolicyJitterStaysUnderMax(t *testing.T) {
	c := New(Config{BackoffInitial: 4 * time.Millisecond, BackoffMax: 5 * time.Millisecond, MaxRetries: 20})
	pol := c.policy()
	for i := 0; i < 20; i++ {
		assert.LessOrEqual(t, pol.NextBackOff(), 5*time.Millisecond)
	}
	assert.Equal(t, backoff.Stop, pol.NextBackOff())
}
