package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CoinPull/internal/domain/errs"
	"CoinPull/internal/domain/models"
	"CoinPull/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReader struct {
	records  []models.PriceRecord
	metadata []models.AssetMetadata
	err      error
	queries  int
	metas    int
}

func (r *countingReader) Query(context.Context, models.QueryFilter) ([]models.PriceRecord, error) {
	r.queries++
	return r.records, r.err
}

func (r *countingReader) GetMetadata(context.Context, []string) ([]models.AssetMetadata, error) {
	r.metas++
	return r.metadata, r.err
}

func newCached(t *testing.T, next reader) *CachedReader {
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	return NewCachedReader(next, mc, time.Minute, nil)
}

func TestCachedReaderServesRepeatsFromCache(t *testing.T) {
	ctx := context.Background()
	next := &countingReader{records: []models.PriceRecord{rec("btc", t0, 1)}}
	c := newCached(t, next)

	first, err := c.Query(ctx, models.QueryFilter{AssetIDs: []string{"btc"}})
	require.NoError(t, err)
	second, err := c.Query(ctx, models.QueryFilter{AssetIDs: []string{" BTC"}})
	require.NoError(t, err)

	assert.Equal(t, 1, next.queries)
	assert.Equal(t, first, second)

	_, err = c.Query(ctx, models.QueryFilter{AssetIDs: []string{"eth"}})
	require.NoError(t, err)
	assert.Equal(t, 2, next.queries)
}

func TestCachedReaderInvalidate(t *testing.T) {
	ctx := context.Background()
	next := &countingReader{metadata: []models.AssetMetadata{{AssetID: "btc", LastUpdated: t0}}}
	c := newCached(t, next)

	_, err := c.Query(ctx, models.QueryFilter{})
	require.NoError(t, err)
	_, err = c.GetMetadata(ctx, nil)
	require.NoError(t, err)
	_, err = c.GetMetadata(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, next.metas)

	require.NoError(t, c.Invalidate(ctx))

	_, err = c.Query(ctx, models.QueryFilter{})
	require.NoError(t, err)
	_, err = c.GetMetadata(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, next.queries)
	assert.Equal(t, 2, next.metas)
}

func TestCachedReaderDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	next := &countingReader{err: &errs.StorageError{Op: "query", Err: errors.New("disk I/O error")}}
	c := newCached(t, next)

	_, err := c.Query(ctx, models.QueryFilter{})
	assert.ErrorIs(t, err, errs.ErrStorage)
	_, err = c.Query(ctx, models.QueryFilter{})
	assert.ErrorIs(t, err, errs.ErrStorage)
	assert.Equal(t, 2, next.queries)
}

func TestFilterKeyIsCanonical(t *testing.T) {
	start := time.Date(2024, 1, 1, 3, 0, 0, 0, time.FixedZone("X", 3*3600))
	utc := start.UTC()
	a := filterKey(models.QueryFilter{AssetIDs: []string{"eth", "BTC"}, Start: &start})
	b := filterKey(models.QueryFilter{AssetIDs: []string{"btc", "eth", "eth"}, Start: &utc})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, filterKey(models.QueryFilter{AssetIDs: []string{"btc", "eth"}, Start: &utc, Limit: 1}))
}

// gatedReader snapshots its records when a query starts and hands them back
// only once the gate opens, like a read that began before a commit.
type gatedReader struct {
	mu      sync.Mutex
	records []models.PriceRecord
	entered chan struct{}
	gate    chan struct{}
}

func (r *gatedReader) set(recs []models.PriceRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = recs
}

func (r *gatedReader) Query(context.Context, models.QueryFilter) ([]models.PriceRecord, error) {
	r.mu.Lock()
	seen := r.records
	r.mu.Unlock()
	select {
	case r.entered <- struct{}{}:
	default:
	}
	<-r.gate
	return seen, nil
}

func (r *gatedReader) GetMetadata(context.Context, []string) ([]models.AssetMetadata, error) {
	return nil, nil
}

func TestCachedReaderDropsResultOfReadOverlappingInvalidate(t *testing.T) {
	ctx := context.Background()
	next := &gatedReader{
		records: []models.PriceRecord{rec("btc", t0, 1)},
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	c := newCached(t, next)
	f := models.QueryFilter{AssetIDs: []string{"btc"}}

	done := make(chan []models.PriceRecord)
	go func() {
		out, _ := c.Query(ctx, f)
		done <- out
	}()
	<-next.entered

	next.set([]models.PriceRecord{rec("btc", t0, 2)})
	require.NoError(t, c.Invalidate(ctx))
	close(next.gate)
	stale := <-done
	assert.Equal(t, 1.0, *stale[0].Price)

	got, err := c.Query(ctx, f)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, *got[0].Price)
}

func TestCachedReaderWithoutCacheReadsThrough(t *testing.T) {
	ctx := context.Background()
	next := &countingReader{records: []models.PriceRecord{rec("btc", t0, 1)}}
	c := NewCachedReader(next, nil, time.Minute, nil)

	for i := 0; i < 3; i++ {
		_, err := c.Query(ctx, models.QueryFilter{})
		require.NoError(t, err)
		_, err = c.GetMetadata(ctx, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, next.queries)
	assert.Equal(t, 3, next.metas)
	assert.NoError(t, c.Invalidate(ctx))
}

func TestCachedReaderAfterStoreReset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newCached(t, s)

	_, err := s.Write(ctx, []models.PriceRecord{rec("btc", t0, 1)}, nil)
	require.NoError(t, err)
	got, err := c.Query(ctx, models.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, s.Reset(ctx))
	require.NoError(t, c.Invalidate(ctx))

	got, err = c.Query(ctx, models.QueryFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
