package usecase

import (
	"context"
	"fmt"
	"time"

	"CoinPull/internal/domain/errs"
	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	"CoinPull/internal/normalize"
	"CoinPull/pkg/metrics"
)

const (
	DefaultQueryLimit = 10000
	MaxQueryLimit     = 50000
)

// PricesUseCase validates read parameters before they reach the store.
type PricesUseCase struct {
	prices  domrepo.PriceReader
	meta    domrepo.MetadataReader
	metrics domrepo.Metrics
}

func NewPricesUseCase(
	prices domrepo.PriceReader,
	meta domrepo.MetadataReader,
	m domrepo.Metrics,
) *PricesUseCase {
	if m == nil {
		m = metrics.Nop{}
	}
	return &PricesUseCase{prices: prices, meta: meta, metrics: m}
}

// Query returns records in (timestamp, asset_id) order. A zero limit means
// DefaultQueryLimit; larger limits are capped at MaxQueryLimit.
func (uc *PricesUseCase) Query(ctx context.Context, ids []string, start, end *time.Time, limit int) ([]models.PriceRecord, error) {
	page, err := uc.Page(ctx, ids, start, end, limit)
	if err != nil {
		return nil, err
	}
	return page.Rows, nil
}

// Page is Query that also reports whether the limit cut the result short.
// It reads one record past the limit to find out.
func (uc *PricesUseCase) Page(ctx context.Context, ids []string, start, end *time.Time, limit int) (models.PricePage, error) {
	if start != nil && end != nil && start.After(*end) {
		return models.PricePage{}, fmt.Errorf("start must be <= end: %w", errs.ErrInvalidArgument)
	}
	if limit < 0 {
		return models.PricePage{}, fmt.Errorf("limit must be >= 0: %w", errs.ErrInvalidArgument)
	}
	if limit == 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	f := models.QueryFilter{AssetIDs: normalize.AssetIDs(ids), Start: utcPtr(start), End: utcPtr(end), Limit: limit + 1}
	begin := time.Now()
	out, err := uc.prices.Query(ctx, f)
	uc.metrics.RecordLatency("query_prices", time.Since(begin).Seconds())
	if err != nil {
		uc.metrics.RecordError(models.ErrKindStorage)
		return models.PricePage{}, fmt.Errorf("query prices: %w", err)
	}
	if len(out) > limit {
		return models.PricePage{Rows: out[:limit], Truncated: true}, nil
	}
	return models.PricePage{Rows: out}, nil
}

// Metadata returns metadata for ids, or every asset when ids is empty.
func (uc *PricesUseCase) Metadata(ctx context.Context, ids []string) ([]models.AssetMetadata, error) {
	begin := time.Now()
	out, err := uc.meta.GetMetadata(ctx, normalize.AssetIDs(ids))
	uc.metrics.RecordLatency("query_metadata", time.Since(begin).Seconds())
	if err != nil {
		uc.metrics.RecordError(models.ErrKindStorage)
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
