package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"CoinPull/internal/domain/errs"
	"CoinPull/internal/domain/models"
	"CoinPull/pkg/db"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...SQLStoreOption) *SQLStore {
	t.Helper()
	gdb, err := db.Open(db.Option{Driver: db.DriverSQLite, Path: filepath.Join(t.TempDir(), "prices.db")})
	require.NoError(t, err)
	s := NewSQLStore(gdb, opts...)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Init(context.Background()))
	return s
}

func rec(id string, ts time.Time, price float64) models.PriceRecord {
	return models.PriceRecord{Timestamp: ts, AssetID: id, Price: models.Float(price)}
}

func countRows(t *testing.T, s *SQLStore) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Model(&priceRow{}).Count(&n).Error)
	return n
}

func TestWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	full := models.PriceRecord{
		Timestamp:       t0,
		AssetID:         "btc",
		Price:           models.Float(65000.50),
		MarketCap:       models.Float(1.28e12),
		Volume:          models.Float(3.2e10),
		Change1h:        models.Float(0.5),
		Change24h:       models.Float(-1.2),
		Change7d:        models.Float(3.4),
		Change60d:       models.Float(10.1),
		Change90d:       models.Float(20.2),
		VolumeChange24h: models.Float(-4),
	}
	meta := models.AssetMetadata{
		AssetID:           "btc",
		Name:              "Bitcoin",
		Symbol:            "BTC",
		CirculatingSupply: models.Float(19_600_000),
		MaxSupply:         models.Float(21_000_000),
		LastUpdated:       t0,
	}

	res, err := s.Write(ctx, []models.PriceRecord{full}, []models.AssetMetadata{meta})
	require.NoError(t, err)
	assert.Equal(t, models.WriteResult{PricesWritten: 1, MetadataWritten: 1}, res)

	got, err := s.Query(ctx, models.QueryFilter{AssetIDs: []string{"btc"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, full, got[0])
	assert.Nil(t, got[0].Change30d)
	assert.Nil(t, got[0].ChangeYTD)

	metas, err := s.GetMetadata(ctx, []string{"BTC"})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, meta, metas[0])
	assert.Nil(t, metas[0].TotalSupply)
}

func TestWriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	batch := []models.PriceRecord{rec("btc", t0, 1), rec("eth", t0, 2), rec("btc", t0.Add(time.Hour), 3)}

	_, err := s.Write(ctx, batch, nil)
	require.NoError(t, err)
	first, err := s.Query(ctx, models.QueryFilter{})
	require.NoError(t, err)

	_, err = s.Write(ctx, batch, nil)
	require.NoError(t, err)
	second, err := s.Query(ctx, models.QueryFilter{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 3, countRows(t, s))
}

func TestWriteReplacesWholeRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := rec("btc", t0, 1)
	old.MarketCap = models.Float(100)
	_, err := s.Write(ctx, []models.PriceRecord{old}, nil)
	require.NoError(t, err)

	_, err = s.Write(ctx, []models.PriceRecord{rec("btc", t0, 2)}, nil)
	require.NoError(t, err)

	got, err := s.Query(ctx, models.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, *got[0].Price)
	assert.Nil(t, got[0].MarketCap, "replace must not keep stale columns")
}

func TestWriteDuplicateKeysLastWins(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res, err := s.Write(ctx, []models.PriceRecord{
		rec("btc", t0, 1),
		rec("eth", t0, 5),
		rec("btc", t0, 2),
	}, []models.AssetMetadata{
		{AssetID: "btc", Name: "first", LastUpdated: t0},
		{AssetID: "btc", Name: "second", LastUpdated: t0},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.PricesWritten)
	assert.Equal(t, 1, res.MetadataWritten)

	got, err := s.Query(ctx, models.QueryFilter{AssetIDs: []string{"btc"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, *got[0].Price)

	metas, err := s.GetMetadata(ctx, nil)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "second", metas[0].Name)
}

func TestWriteChunks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithChunkSize(7))

	batch := make([]models.PriceRecord, 0, 50)
	for i := 0; i < 50; i++ {
		batch = append(batch, rec("btc", t0.Add(time.Duration(i)*time.Minute), float64(i)))
	}
	res, err := s.Write(ctx, batch, nil)
	require.NoError(t, err)
	assert.Equal(t, 50, res.PricesWritten)
	assert.EqualValues(t, 50, countRows(t, s))
}

func TestWriteEmptyBatchTouchesNothing(t *testing.T) {
	gdb, err := db.Open(db.Option{Driver: db.DriverSQLite, Path: filepath.Join(t.TempDir(), "empty.db")})
	require.NoError(t, err)
	s := NewSQLStore(gdb)
	defer s.Close()

	// no Init: any statement would fail on the missing tables
	res, err := s.Write(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.False(t, s.db.Migrator().HasTable(&priceRow{}))
}

func TestWriteRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.db.Migrator().DropTable(&metadataRow{}))

	_, err := s.Write(ctx,
		[]models.PriceRecord{rec("btc", t0, 1)},
		[]models.AssetMetadata{{AssetID: "btc", Name: "Bitcoin", LastUpdated: t0}},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrStorage)
	assert.EqualValues(t, 0, countRows(t, s), "prices must roll back with the failed metadata insert")
}

func TestWriteCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestStore(t)
	cancel()

	_, err := s.Write(ctx, []models.PriceRecord{rec("btc", t0, 1)}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrStorage)
	assert.EqualValues(t, 0, countRows(t, s))
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var batch []models.PriceRecord
	for h := 0; h < 4; h++ {
		ts := t0.Add(time.Duration(h) * time.Hour)
		batch = append(batch, rec("eth", ts, float64(h)), rec("btc", ts, float64(h)))
	}
	_, err := s.Write(ctx, batch, nil)
	require.NoError(t, err)

	t.Run("ordering by time then asset", func(t *testing.T) {
		got, err := s.Query(ctx, models.QueryFilter{})
		require.NoError(t, err)
		require.Len(t, got, 8)
		assert.Equal(t, "btc", got[0].AssetID)
		assert.Equal(t, "eth", got[1].AssetID)
		for i := 1; i < len(got); i++ {
			assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp))
		}
	})

	t.Run("asset filter", func(t *testing.T) {
		got, err := s.Query(ctx, models.QueryFilter{AssetIDs: []string{"BTC "}})
		require.NoError(t, err)
		require.Len(t, got, 4)
		for _, r := range got {
			assert.Equal(t, "btc", r.AssetID)
		}
	})

	t.Run("inclusive bounds", func(t *testing.T) {
		start, end := t0.Add(time.Hour), t0.Add(2*time.Hour)
		got, err := s.Query(ctx, models.QueryFilter{Start: &start, End: &end})
		require.NoError(t, err)
		require.Len(t, got, 4)
		for _, r := range got {
			assert.False(t, r.Timestamp.Before(start))
			assert.False(t, r.Timestamp.After(end))
		}
	})

	t.Run("limit", func(t *testing.T) {
		got, err := s.Query(ctx, models.QueryFilter{Limit: 3})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("empty match", func(t *testing.T) {
		got, err := s.Query(ctx, models.QueryFilter{AssetIDs: []string{"doge"}})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestQueryDoesNotWaitForOpenWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Write(ctx, []models.PriceRecord{rec("btc", t0, 1)}, nil)
	require.NoError(t, err)

	tx := s.db.Begin()
	require.NoError(t, tx.Error)
	defer tx.Rollback()
	require.NoError(t, tx.Model(&priceRow{}).Where("asset_id = ?", "btc").Update("price", 2).Error)

	qctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	got, err := s.Query(qctx, models.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, *got[0].Price)

	require.NoError(t, tx.Commit().Error)
	got, err = s.Query(ctx, models.QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, *got[0].Price)
}

func TestQueryStorageFailure(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.db.Migrator().DropTable(&priceRow{}))

	_, err := s.Query(context.Background(), models.QueryFilter{})
	assert.ErrorIs(t, err, errs.ErrStorage)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Write(ctx, []models.PriceRecord{rec("btc", t0, 1)}, []models.AssetMetadata{{AssetID: "btc", LastUpdated: t0}})
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))
	assert.EqualValues(t, 0, countRows(t, s))
	metas, err := s.GetMetadata(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, metas)
	require.NoError(t, s.Health(ctx))
}

func TestBTCScenario(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	btc := models.PriceRecord{
		Timestamp: t0,
		AssetID:   "btc",
		Price:     models.Float(65000.50),
		MarketCap: models.Float(1280000000000),
	}
	_, err := s.Write(ctx, []models.PriceRecord{btc, rec("eth", t0, 3000)}, nil)
	require.NoError(t, err)

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := s.Query(ctx, models.QueryFilter{AssetIDs: []string{"btc"}, Start: &day, End: &day})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.Equal(t0))
	assert.Equal(t, 65000.50, *got[0].Price)
	assert.Equal(t, 1.28e12, *got[0].MarketCap)
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, retryable(&pgconn.PgError{Code: "08006"}))
	assert.False(t, retryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, retryable(errors.New("syntax error")))

	err := storageErr("write", &pgconn.PgError{Code: "40P01"})
	assert.True(t, errs.IsRetryable(err))
	assert.ErrorIs(t, err, errs.ErrStorage)
}
