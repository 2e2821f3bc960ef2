package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"CoinPull/internal/domain/errs"
	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	"CoinPull/internal/normalize"
	"CoinPull/pkg/db"
	applogger "CoinPull/pkg/logger"
	"CoinPull/pkg/metrics"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultChunkSize = 500

type priceRow struct {
	Ts              time.Time `gorm:"column:ts;primaryKey;autoIncrement:false;index:idx_prices_asset_ts,priority:2"`
	AssetID         string    `gorm:"column:asset_id;primaryKey;size:128;index:idx_prices_asset_ts,priority:1"`
	Price           *float64  `gorm:"column:price"`
	MarketCap       *float64  `gorm:"column:market_cap"`
	Volume          *float64  `gorm:"column:volume"`
	Change1h        *float64  `gorm:"column:percent_change_1h"`
	Change24h       *float64  `gorm:"column:percent_change_24h"`
	Change7d        *float64  `gorm:"column:percent_change_7d"`
	Change30d       *float64  `gorm:"column:percent_change_30d"`
	Change60d       *float64  `gorm:"column:percent_change_60d"`
	Change90d       *float64  `gorm:"column:percent_change_90d"`
	ChangeYTD       *float64  `gorm:"column:percent_change_ytd"`
	VolumeChange24h *float64  `gorm:"column:volume_change_24h"`
	VolumeChange30d *float64  `gorm:"column:volume_change_30d"`
}

func (priceRow) TableName() string { return "prices" }

type metadataRow struct {
	AssetID           string    `gorm:"column:asset_id;primaryKey;size:128"`
	Name              string    `gorm:"column:name"`
	Symbol            string    `gorm:"column:symbol"`
	CirculatingSupply *float64  `gorm:"column:circulating_supply"`
	TotalSupply       *float64  `gorm:"column:total_supply"`
	MaxSupply         *float64  `gorm:"column:max_supply"`
	NumMarketPairs    *int64    `gorm:"column:num_market_pairs"`
	LastUpdated       time.Time `gorm:"column:last_updated"`
}

func (metadataRow) TableName() string { return "metadata" }

// SQLStore implements domrepo.Storage on SQLite or Postgres through gorm.
type SQLStore struct {
	db      *gorm.DB
	chunk   int
	l       *applogger.Logger
	metrics domrepo.Metrics
}

// SQLStoreOption configures SQLStore.
type SQLStoreOption func(*SQLStore)

// WithChunkSize sets how many rows go into one INSERT statement.
func WithChunkSize(n int) SQLStoreOption {
	return func(s *SQLStore) {
		if n > 0 {
			s.chunk = n
		}
	}
}

// WithStoreLogger injects a structured logger.
func WithStoreLogger(l *applogger.Logger) SQLStoreOption {
	return func(s *SQLStore) { s.l = l }
}

// WithStoreMetrics injects a metrics recorder.
func WithStoreMetrics(m domrepo.Metrics) SQLStoreOption {
	return func(s *SQLStore) { s.metrics = m }
}

// NewSQLStore wraps an open gorm handle. The store takes ownership of gdb and
// closes it on Close.
func NewSQLStore(gdb *gorm.DB, opts ...SQLStoreOption) *SQLStore {
	s := &SQLStore{
		db:      gdb,
		chunk:   defaultChunkSize,
		l:       applogger.Nop(),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domrepo.Storage = (*SQLStore)(nil)

// Init creates the tables if they do not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&priceRow{}, &metadataRow{}); err != nil {
		return storageErr("init", err)
	}
	return nil
}

// Write upserts records and metadata in a single transaction. Rows sharing a
// key replace each other wholesale; within one batch the last one wins.
func (s *SQLStore) Write(ctx context.Context, records []models.PriceRecord, metadata []models.AssetMetadata) (models.WriteResult, error) {
	if len(records) == 0 && len(metadata) == 0 {
		return models.WriteResult{}, nil
	}
	start := time.Now()

	prices := toPriceRows(dedupeRecords(records))
	metas := toMetadataRows(dedupeMetadata(metadata))

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(prices) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "ts"}, {Name: "asset_id"}},
				UpdateAll: true,
			}).CreateInBatches(prices, s.chunk).Error
			if err != nil {
				return err
			}
		}
		if len(metas) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "asset_id"}},
				UpdateAll: true,
			}).CreateInBatches(metas, s.chunk).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	s.metrics.RecordLatency("store_write", time.Since(start).Seconds())
	if err != nil {
		s.l.Error("store write rolled back",
			applogger.Int("prices", len(prices)),
			applogger.Int("metadata", len(metas)),
			applogger.Error(err),
		)
		return models.WriteResult{}, storageErr("write", err)
	}

	s.l.Debug("store write ok",
		applogger.Int("prices", len(prices)),
		applogger.Int("metadata", len(metas)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return models.WriteResult{PricesWritten: len(prices), MetadataWritten: len(metas)}, nil
}

// Query returns records matching f ordered by timestamp, then asset id.
func (s *SQLStore) Query(ctx context.Context, f models.QueryFilter) ([]models.PriceRecord, error) {
	start := time.Now()
	q := s.db.WithContext(ctx).Model(&priceRow{})
	if where, args := BuildQuery(f, DialectSQL); where != "" {
		q = q.Where(where, args)
	}
	q = q.Order("ts ASC").Order("asset_id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []priceRow
	if err := q.Find(&rows).Error; err != nil {
		s.l.Error("store query failed", applogger.Error(err))
		return nil, storageErr("query", err)
	}
	s.metrics.RecordLatency("store_query", time.Since(start).Seconds())

	out := make([]models.PriceRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// GetMetadata returns metadata for assetIDs (all assets when empty) ordered by
// asset id.
func (s *SQLStore) GetMetadata(ctx context.Context, assetIDs []string) ([]models.AssetMetadata, error) {
	q := s.db.WithContext(ctx).Model(&metadataRow{})
	if ids := normalize.AssetIDs(assetIDs); len(ids) > 0 {
		q = q.Where("asset_id IN ?", ids)
	}

	var rows []metadataRow
	if err := q.Order("asset_id ASC").Find(&rows).Error; err != nil {
		return nil, storageErr("get_metadata", err)
	}

	out := make([]models.AssetMetadata, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// Reset deletes every price and metadata row in one transaction.
func (s *SQLStore) Reset(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := all.Delete(&priceRow{}).Error; err != nil {
			return err
		}
		return all.Delete(&metadataRow{}).Error
	})
	if err != nil {
		return storageErr("reset", err)
	}
	s.l.Warn("store reset")
	return nil
}

// Health pings the database.
func (s *SQLStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return storageErr("health", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return storageErr("health", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return db.Close(s.db)
}

func dedupeRecords(in []models.PriceRecord) []models.PriceRecord {
	if len(in) < 2 {
		return in
	}
	idx := make(map[models.PriceKey]int, len(in))
	out := make([]models.PriceRecord, 0, len(in))
	for _, r := range in {
		k := r.Key()
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}

func dedupeMetadata(in []models.AssetMetadata) []models.AssetMetadata {
	if len(in) < 2 {
		return in
	}
	idx := make(map[string]int, len(in))
	out := make([]models.AssetMetadata, 0, len(in))
	for _, m := range in {
		if i, ok := idx[m.AssetID]; ok {
			out[i] = m
			continue
		}
		idx[m.AssetID] = len(out)
		out = append(out, m)
	}
	return out
}

func toPriceRows(in []models.PriceRecord) []priceRow {
	out := make([]priceRow, len(in))
	for i, r := range in {
		out[i] = priceRow{
			Ts:              r.Timestamp.UTC(),
			AssetID:         r.AssetID,
			Price:           r.Price,
			MarketCap:       r.MarketCap,
			Volume:          r.Volume,
			Change1h:        r.Change1h,
			Change24h:       r.Change24h,
			Change7d:        r.Change7d,
			Change30d:       r.Change30d,
			Change60d:       r.Change60d,
			Change90d:       r.Change90d,
			ChangeYTD:       r.ChangeYTD,
			VolumeChange24h: r.VolumeChange24h,
			VolumeChange30d: r.VolumeChange30d,
		}
	}
	return out
}

func (r priceRow) toModel() models.PriceRecord {
	return models.PriceRecord{
		Timestamp:       r.Ts.UTC(),
		AssetID:         r.AssetID,
		Price:           r.Price,
		MarketCap:       r.MarketCap,
		Volume:          r.Volume,
		Change1h:        r.Change1h,
		Change24h:       r.Change24h,
		Change7d:        r.Change7d,
		Change30d:       r.Change30d,
		Change60d:       r.Change60d,
		Change90d:       r.Change90d,
		ChangeYTD:       r.ChangeYTD,
		VolumeChange24h: r.VolumeChange24h,
		VolumeChange30d: r.VolumeChange30d,
	}
}

func toMetadataRows(in []models.AssetMetadata) []metadataRow {
	out := make([]metadataRow, len(in))
	for i, m := range in {
		out[i] = metadataRow{
			AssetID:           m.AssetID,
			Name:              m.Name,
			Symbol:            m.Symbol,
			CirculatingSupply: m.CirculatingSupply,
			TotalSupply:       m.TotalSupply,
			MaxSupply:         m.MaxSupply,
			NumMarketPairs:    m.NumMarketPairs,
			LastUpdated:       m.LastUpdated.UTC(),
		}
	}
	return out
}

func (r metadataRow) toModel() models.AssetMetadata {
	return models.AssetMetadata{
		AssetID:           r.AssetID,
		Name:              r.Name,
		Symbol:            r.Symbol,
		CirculatingSupply: r.CirculatingSupply,
		TotalSupply:       r.TotalSupply,
		MaxSupply:         r.MaxSupply,
		NumMarketPairs:    r.NumMarketPairs,
		LastUpdated:       r.LastUpdated.UTC(),
	}
}

// storageErr wraps err as an errs.StorageError and classifies whether the
// whole batch may be retried.
func storageErr(op string, err error) error {
	return &errs.StorageError{Op: op, Retryable: retryable(err), Err: err}
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 40: transaction rollback (serialization, deadlock).
		// Class 08: connection exception.
		return len(pgErr.Code) == 5 && (pgErr.Code[:2] == "40" || pgErr.Code[:2] == "08")
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
