package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	"CoinPull/internal/normalize"
	pkgch "CoinPull/pkg/clickhouse"
	applogger "CoinPull/pkg/logger"
	"CoinPull/pkg/metrics"
)

var priceColumns = []string{
	"ts", "asset_id", "price", "market_cap", "volume",
	"percent_change_1h", "percent_change_24h", "percent_change_7d", "percent_change_30d",
	"percent_change_60d", "percent_change_90d", "percent_change_ytd",
	"volume_change_24h", "volume_change_30d",
}

var metadataColumns = []string{
	"asset_id", "name", "symbol", "circulating_supply", "total_supply", "max_supply",
	"num_market_pairs", "last_updated",
}

const compensateTimeout = 10 * time.Second

// chClient is the pkg/clickhouse surface the store drives.
type chClient interface {
	InitSchema(ctx context.Context, stmts []string) error
	SendBatch(ctx context.Context, insert string, rows [][]any) error
	Exec(ctx context.Context, query string, args ...any) error
	Health(ctx context.Context) error
	Close() error
}

// ClickHouseStore implements domrepo.Storage on ReplacingMergeTree tables.
// Rows with the same sorting key are replaced by the highest version; reads
// use FINAL so replaced rows never surface.
//
// Every Write stamps both batches with one version. When the metadata batch
// fails, the prices of that version are deleted again before Write returns.
// Rows they replaced come back unless a merge already dropped them, so a
// failed Write can lose overwritten values on this backend.
type ClickHouseStore struct {
	ch       chClient
	db       *sql.DB
	database string
	l        *applogger.Logger
	metrics  domrepo.Metrics
	now      func() time.Time
}

func NewClickHouseStore(ch *pkgch.Client, database string, l *applogger.Logger, m domrepo.Metrics) *ClickHouseStore {
	if l == nil {
		l = applogger.Nop()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &ClickHouseStore{ch: ch, db: ch.DB(), database: database, l: l, metrics: m, now: time.Now}
}

var _ domrepo.Storage = (*ClickHouseStore)(nil)

func (s *ClickHouseStore) table(name string) string { return s.database + "." + name }

func (s *ClickHouseStore) schema() []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    ts DateTime64(3, 'UTC'),
    asset_id LowCardinality(String),
    price Nullable(Float64),
    market_cap Nullable(Float64),
    volume Nullable(Float64),
    percent_change_1h Nullable(Float64),
    percent_change_24h Nullable(Float64),
    percent_change_7d Nullable(Float64),
    percent_change_30d Nullable(Float64),
    percent_change_60d Nullable(Float64),
    percent_change_90d Nullable(Float64),
    percent_change_ytd Nullable(Float64),
    volume_change_24h Nullable(Float64),
    volume_change_30d Nullable(Float64),
    version UInt64
) ENGINE = ReplacingMergeTree(version)
ORDER BY (asset_id, ts)`, s.table("prices")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    asset_id String,
    name String,
    symbol String,
    circulating_supply Nullable(Float64),
    total_supply Nullable(Float64),
    max_supply Nullable(Float64),
    num_market_pairs Nullable(Int64),
    last_updated DateTime64(3, 'UTC'),
    version UInt64
) ENGINE = ReplacingMergeTree(version)
ORDER BY asset_id`, s.table("metadata")),
	}
}

func (s *ClickHouseStore) Init(ctx context.Context) error {
	if err := s.ch.InitSchema(ctx, s.schema()); err != nil {
		return storageErr("init", err)
	}
	return nil
}

func insertStmt(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s, version)", table, strings.Join(cols, ", "))
}

func (s *ClickHouseStore) Write(ctx context.Context, records []models.PriceRecord, metadata []models.AssetMetadata) (models.WriteResult, error) {
	if len(records) == 0 && len(metadata) == 0 {
		return models.WriteResult{}, nil
	}
	start := time.Now()
	version := uint64(s.now().UnixNano())

	prices := dedupeRecords(records)
	metas := dedupeMetadata(metadata)

	if err := s.ch.SendBatch(ctx, insertStmt(s.table("prices"), priceColumns), priceArgs(prices, version)); err != nil {
		s.l.Error("clickhouse write prices failed", applogger.Int("rows", len(prices)), applogger.Error(err))
		return models.WriteResult{}, storageErr("write", err)
	}
	if err := s.ch.SendBatch(ctx, insertStmt(s.table("metadata"), metadataColumns), metadataArgs(metas, version)); err != nil {
		s.l.Error("clickhouse write metadata failed", applogger.Int("rows", len(metas)), applogger.Error(err))
		if len(prices) > 0 {
			if cerr := s.dropVersion(ctx, "prices", version); cerr != nil {
				s.l.Error("clickhouse compensate prices failed",
					applogger.Int("rows", len(prices)),
					applogger.Error(cerr),
				)
				return models.WriteResult{}, storageErr("write", errors.Join(err, cerr))
			}
		}
		return models.WriteResult{}, storageErr("write", err)
	}

	s.metrics.RecordLatency("store_write", time.Since(start).Seconds())
	return models.WriteResult{PricesWritten: len(prices), MetadataWritten: len(metas)}, nil
}

// dropVersion deletes the rows one Write inserted into table. It runs even
// when ctx is already cancelled.
func (s *ClickHouseStore) dropVersion(ctx context.Context, table string, version uint64) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	q := fmt.Sprintf("DELETE FROM %s WHERE version = @version", s.table(table))
	if err := s.ch.Exec(cctx, q, sql.Named("version", version)); err != nil {
		return fmt.Errorf("delete %s version %d: %w", table, version, err)
	}
	return nil
}

func priceArgs(in []models.PriceRecord, version uint64) [][]any {
	rows := make([][]any, len(in))
	for i, r := range in {
		rows[i] = []any{
			r.Timestamp.UTC(), r.AssetID, r.Price, r.MarketCap, r.Volume,
			r.Change1h, r.Change24h, r.Change7d, r.Change30d,
			r.Change60d, r.Change90d, r.ChangeYTD,
			r.VolumeChange24h, r.VolumeChange30d,
			version,
		}
	}
	return rows
}

func metadataArgs(in []models.AssetMetadata, version uint64) [][]any {
	rows := make([][]any, len(in))
	for i, m := range in {
		rows[i] = []any{
			m.AssetID, m.Name, m.Symbol, m.CirculatingSupply, m.TotalSupply, m.MaxSupply,
			m.NumMarketPairs, m.LastUpdated.UTC(),
			version,
		}
	}
	return rows
}

// namedArgs turns BuildQuery args into sql.Named values in a stable order.
func namedArgs(args map[string]any) []any {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, sql.Named(k, args[k]))
	}
	return out
}

func (s *ClickHouseStore) priceQuery(f models.QueryFilter) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s FINAL", strings.Join(priceColumns, ", "), s.table("prices"))
	where, args := BuildQuery(f, DialectClickHouse)
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	b.WriteString(" ORDER BY ts ASC, asset_id ASC")
	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
	}
	return b.String(), namedArgs(args)
}

func (s *ClickHouseStore) Query(ctx context.Context, f models.QueryFilter) ([]models.PriceRecord, error) {
	start := time.Now()
	q, args := s.priceQuery(f)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse query error", applogger.Error(err))
		return nil, storageErr("query", err)
	}
	defer rows.Close()

	out := make([]models.PriceRecord, 0, 256)
	for rows.Next() {
		var r models.PriceRecord
		if err := rows.Scan(
			&r.Timestamp, &r.AssetID, &r.Price, &r.MarketCap, &r.Volume,
			&r.Change1h, &r.Change24h, &r.Change7d, &r.Change30d,
			&r.Change60d, &r.Change90d, &r.ChangeYTD,
			&r.VolumeChange24h, &r.VolumeChange30d,
		); err != nil {
			return nil, storageErr("query", fmt.Errorf("scan price: %w", err))
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query", err)
	}
	s.metrics.RecordLatency("store_query", time.Since(start).Seconds())
	return out, nil
}

func (s *ClickHouseStore) GetMetadata(ctx context.Context, assetIDs []string) ([]models.AssetMetadata, error) {
	q := fmt.Sprintf("SELECT %s FROM %s FINAL", strings.Join(metadataColumns, ", "), s.table("metadata"))
	var args []any
	if ids := normalize.AssetIDs(assetIDs); len(ids) > 0 {
		q += " WHERE has(@ids, asset_id)"
		args = append(args, sql.Named("ids", ids))
	}
	q += " ORDER BY asset_id ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storageErr("get_metadata", err)
	}
	defer rows.Close()

	var out []models.AssetMetadata
	for rows.Next() {
		var m models.AssetMetadata
		if err := rows.Scan(
			&m.AssetID, &m.Name, &m.Symbol, &m.CirculatingSupply, &m.TotalSupply, &m.MaxSupply,
			&m.NumMarketPairs, &m.LastUpdated,
		); err != nil {
			return nil, storageErr("get_metadata", fmt.Errorf("scan metadata: %w", err))
		}
		m.LastUpdated = m.LastUpdated.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get_metadata", err)
	}
	if out == nil {
		out = []models.AssetMetadata{}
	}
	return out, nil
}

func (s *ClickHouseStore) Reset(ctx context.Context) error {
	for _, t := range []string{"prices", "metadata"} {
		if err := s.ch.Exec(ctx, "TRUNCATE TABLE IF EXISTS "+s.table(t)); err != nil {
			return storageErr("reset", err)
		}
	}
	return nil
}

func (s *ClickHouseStore) Health(ctx context.Context) error {
	if err := s.ch.Health(ctx); err != nil {
		return storageErr("health", err)
	}
	return nil
}

func (s *ClickHouseStore) Close() error { return s.ch.Close() }
