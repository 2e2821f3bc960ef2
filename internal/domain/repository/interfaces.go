package repository

import (
	"context"
	"time"

	"CoinPull/internal/domain/models"
)

// PriceWriter persists canonical records. One call is one transaction.
type PriceWriter interface {
	Write(ctx context.Context, records []models.PriceRecord, metadata []models.AssetMetadata) (models.WriteResult, error)
}

// PriceReader serves filtered reads ordered by (timestamp, asset_id).
type PriceReader interface {
	Query(ctx context.Context, f models.QueryFilter) ([]models.PriceRecord, error)
}

// MetadataReader serves asset metadata ordered by asset_id.
type MetadataReader interface {
	GetMetadata(ctx context.Context, assetIDs []string) ([]models.AssetMetadata, error)
}

// Storage is a backing store implementing the whole read/write surface.
type Storage interface {
	PriceWriter
	PriceReader
	MetadataReader
	Init(ctx context.Context) error // ensure tables
	Reset(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// CSVFetcher yields raw rows of one CSV export.
type CSVFetcher interface {
	Name() string
	Rows(ctx context.Context) ([]models.RawRow, error)
}

// SeriesFetcher yields the historical market-chart series of one asset.
// Retry and rate limiting are the fetcher's business.
type SeriesFetcher interface {
	Name() string
	FetchSeries(ctx context.Context, assetID string, days int) (models.SeriesFragment, error)
}

// ReportPublisher announces finished ingestion runs.
type ReportPublisher interface {
	PublishReport(ctx context.Context, r *models.IngestReport) error
	Close() error
}

// CacheInvalidator drops cached reads after the store changed.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Locker is a best-effort distributed mutex.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Metrics interface {
	RecordRows(source, stage string, n int)
	RecordError(kind string)
	RecordLastPrice(assetID string, price float64)
	RecordLatency(op string, seconds float64)
	RecordRun(source, outcome string)
}
