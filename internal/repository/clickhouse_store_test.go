package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"CoinPull/internal/domain/errs"
	"CoinPull/internal/domain/models"
	applogger "CoinPull/pkg/logger"
	"CoinPull/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClickHousePriceQuery(t *testing.T) {
	s := &ClickHouseStore{database: "coinpull"}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	q, args := s.priceQuery(models.QueryFilter{AssetIDs: []string{"BTC"}, Start: &start, Limit: 10})
	assert.True(t, strings.HasPrefix(q, "SELECT ts, asset_id, price,"))
	assert.Contains(t, q, "FROM coinpull.prices FINAL WHERE has(@ids, asset_id) AND ts >= @start")
	assert.True(t, strings.HasSuffix(q, "ORDER BY ts ASC, asset_id ASC LIMIT 10"))
	assert.Equal(t, []any{
		sql.Named("ids", []string{"btc"}),
		sql.Named("start", start),
	}, args)

	q, args = s.priceQuery(models.QueryFilter{})
	assert.NotContains(t, q, "WHERE")
	assert.NotContains(t, q, "LIMIT")
	assert.Empty(t, args)
}

func TestClickHouseSchemaUsesReplacingMergeTree(t *testing.T) {
	s := &ClickHouseStore{database: "coinpull"}
	stmts := s.schema()
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[1], "coinpull.prices")
	assert.Contains(t, stmts[1], "ReplacingMergeTree(version)")
	assert.Contains(t, stmts[1], "ORDER BY (asset_id, ts)")
	for _, col := range priceColumns {
		assert.Contains(t, stmts[1], col+" ")
	}
	for _, col := range metadataColumns {
		assert.Contains(t, stmts[2], col+" ")
	}
}

func TestClickHouseBatchArgsAlignWithColumns(t *testing.T) {
	rows := priceArgs([]models.PriceRecord{rec("btc", t0, 1)}, 7)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0], len(priceColumns)+1)
	assert.Equal(t, uint64(7), rows[0][len(rows[0])-1])

	metas := metadataArgs([]models.AssetMetadata{{AssetID: "btc", LastUpdated: t0}}, 7)
	assert.Len(t, metas[0], len(metadataColumns)+1)

	assert.Equal(t, "INSERT INTO coinpull.prices (ts, asset_id, price, market_cap, volume, percent_change_1h, percent_change_24h, percent_change_7d, percent_change_30d, percent_change_60d, percent_change_90d, percent_change_ytd, volume_change_24h, volume_change_30d, version)",
		insertStmt("coinpull.prices", priceColumns))
}

type fakeCH struct {
	batches  []string
	versions []uint64
	failOn   string
	execs    []string
	execArgs [][]any
	execErr  error
}

func (f *fakeCH) InitSchema(context.Context, []string) error { return nil }

func (f *fakeCH) SendBatch(_ context.Context, insert string, rows [][]any) error {
	if f.failOn != "" && strings.Contains(insert, f.failOn) {
		return errors.New("code: 241, memory limit exceeded")
	}
	f.batches = append(f.batches, insert)
	if len(rows) > 0 {
		f.versions = append(f.versions, rows[0][len(rows[0])-1].(uint64))
	}
	return nil
}

func (f *fakeCH) Exec(_ context.Context, q string, args ...any) error {
	f.execs = append(f.execs, q)
	f.execArgs = append(f.execArgs, args)
	return f.execErr
}

func (f *fakeCH) Health(context.Context) error { return nil }
func (f *fakeCH) Close() error                 { return nil }

func newFakeCHStore(ch *fakeCH) *ClickHouseStore {
	return &ClickHouseStore{
		ch:       ch,
		database: "coinpull",
		l:        applogger.Nop(),
		metrics:  metrics.Nop{},
		now:      func() time.Time { return time.Unix(0, 42) },
	}
}

func TestClickHouseWriteSharesOneVersion(t *testing.T) {
	ch := &fakeCH{}
	s := newFakeCHStore(ch)

	res, err := s.Write(context.Background(),
		[]models.PriceRecord{rec("btc", t0, 1)},
		[]models.AssetMetadata{{AssetID: "btc", LastUpdated: t0}},
	)
	require.NoError(t, err)
	assert.Equal(t, models.WriteResult{PricesWritten: 1, MetadataWritten: 1}, res)
	assert.Equal(t, []uint64{42, 42}, ch.versions)
	assert.Empty(t, ch.execs)
}

func TestClickHouseWriteMetadataFailureDropsPrices(t *testing.T) {
	ch := &fakeCH{failOn: "coinpull.metadata"}
	s := newFakeCHStore(ch)

	res, err := s.Write(context.Background(),
		[]models.PriceRecord{rec("btc", t0, 1)},
		[]models.AssetMetadata{{AssetID: "btc", LastUpdated: t0}},
	)
	require.ErrorIs(t, err, errs.ErrStorage)
	assert.Equal(t, models.WriteResult{}, res)

	require.Len(t, ch.execs, 1)
	assert.Equal(t, "DELETE FROM coinpull.prices WHERE version = @version", ch.execs[0])
	assert.Equal(t, []any{sql.Named("version", uint64(42))}, ch.execArgs[0])
}

func TestClickHouseWriteReportsFailedCompensation(t *testing.T) {
	cerr := errors.New("code: 48, not implemented")
	ch := &fakeCH{failOn: "coinpull.metadata", execErr: cerr}
	s := newFakeCHStore(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Write(ctx,
		[]models.PriceRecord{rec("btc", t0, 1)},
		[]models.AssetMetadata{{AssetID: "btc", LastUpdated: t0}},
	)
	require.ErrorIs(t, err, errs.ErrStorage)
	assert.ErrorIs(t, err, cerr)
	assert.Len(t, ch.execs, 1)
}

func TestClickHouseWritePricesFailureSkipsMetadata(t *testing.T) {
	ch := &fakeCH{failOn: "coinpull.prices"}
	s := newFakeCHStore(ch)

	_, err := s.Write(context.Background(),
		[]models.PriceRecord{rec("btc", t0, 1)},
		[]models.AssetMetadata{{AssetID: "btc", LastUpdated: t0}},
	)
	require.ErrorIs(t, err, errs.ErrStorage)
	assert.Empty(t, ch.batches)
	assert.Empty(t, ch.execs)
}
