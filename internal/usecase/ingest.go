package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CoinPull/internal/domain/errs"
	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	"CoinPull/internal/normalize"
	applogger "CoinPull/pkg/logger"
	"CoinPull/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers = 4
	publishTimeout = 5 * time.Second

	// snapshotPrecision is the coarsest timestamp resolution of the backends.
	snapshotPrecision = time.Millisecond
)

// IngestOption configures IngestUseCase.
type IngestOption func(*IngestUseCase)

// WithWorkers bounds concurrent fetches of IngestHistory.
func WithWorkers(n int) IngestOption {
	return func(uc *IngestUseCase) {
		if n > 0 {
			uc.workers = n
		}
	}
}

// WithPublisher announces every finished run.
func WithPublisher(p domrepo.ReportPublisher) IngestOption {
	return func(uc *IngestUseCase) { uc.publisher = p }
}

// WithInvalidator drops cached reads after a successful write.
func WithInvalidator(c domrepo.CacheInvalidator) IngestOption {
	return func(uc *IngestUseCase) { uc.invalidator = c }
}

// WithIngestLogger injects a structured logger.
func WithIngestLogger(l *applogger.Logger) IngestOption {
	return func(uc *IngestUseCase) { uc.l = l }
}

// WithIngestMetrics injects a metrics recorder.
func WithIngestMetrics(m domrepo.Metrics) IngestOption {
	return func(uc *IngestUseCase) { uc.metrics = m }
}

// IngestUseCase runs fetch → normalize → write. Each run issues exactly one
// Write call, so a run is persisted entirely or not at all. Retry policy
// belongs to the fetchers.
type IngestUseCase struct {
	writer      domrepo.PriceWriter
	workers     int
	publisher   domrepo.ReportPublisher
	invalidator domrepo.CacheInvalidator
	l           *applogger.Logger
	metrics     domrepo.Metrics
	now         func() time.Time
}

func NewIngestUseCase(writer domrepo.PriceWriter, opts ...IngestOption) *IngestUseCase {
	uc := &IngestUseCase{
		writer:  writer,
		workers: defaultWorkers,
		l:       applogger.Nop(),
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// IngestCSV ingests one CSV export. Every row is stamped with snapshot (now
// when zero), truncated to milliseconds. Invalid rows are skipped and counted.
func (uc *IngestUseCase) IngestCSV(ctx context.Context, fetcher domrepo.CSVFetcher, snapshot time.Time) (*models.IngestReport, error) {
	if snapshot.IsZero() {
		snapshot = uc.now()
	}
	snapshot = snapshot.UTC().Truncate(snapshotPrecision)
	report := models.NewIngestReport(fetcher.Name(), snapshot)

	rows, err := fetcher.Rows(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return uc.finish(ctx, report, ctxErr)
		}
		report.NoteSource(err)
		return uc.finish(ctx, report, fmt.Errorf("fetch %s: %w", fetcher.Name(), err))
	}
	report.RowsRead = len(rows)

	records := make([]models.PriceRecord, 0, len(rows))
	var metas []models.AssetMetadata
	for i, row := range rows {
		rec, meta, err := normalize.CSVRow(row, snapshot)
		if err != nil {
			var ie *errs.InvalidRecordError
			if errors.As(err, &ie) {
				ie.Row = i + 1
			}
			report.NoteInvalid(err)
			uc.l.Debug("skip invalid row", applogger.Int("row", i+1), applogger.Error(err))
			continue
		}
		records = append(records, rec)
		if meta != nil {
			metas = append(metas, *meta)
		}
	}
	report.RowsNormalized = len(records)
	if report.RowsSkipped > 0 {
		uc.l.Warn("csv rows skipped",
			applogger.Int("skipped", report.RowsSkipped),
			applogger.Error(report.FirstInvalid),
		)
	}

	return uc.commit(ctx, report, records, metas)
}

type fetchResult struct {
	records []models.PriceRecord
	points  int
	err     error
}

// IngestHistory fetches the market chart of every asset with at most
// `workers` requests in flight. A failing asset is logged and counted; the
// others are still written. When every asset fails nothing is written and
// the error wraps errs.ErrSourceUnavailable.
func (uc *IngestUseCase) IngestHistory(ctx context.Context, fetcher domrepo.SeriesFetcher, assetIDs []string, days int) (*models.IngestReport, error) {
	report := models.NewIngestReport(fetcher.Name(), time.Time{})

	ids := normalize.AssetIDs(assetIDs)
	if len(ids) == 0 {
		return report, fmt.Errorf("no assets requested: %w", errs.ErrInvalidArgument)
	}
	if days < 1 {
		return report, fmt.Errorf("days must be >= 1, got %d: %w", days, errs.ErrInvalidArgument)
	}
	report.AssetsRequested = len(ids)

	results := make([]fetchResult, len(ids))
	var g errgroup.Group
	g.SetLimit(uc.workers)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = uc.fetchOne(ctx, fetcher, id, days)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return uc.finish(ctx, report, err)
	}

	var records []models.PriceRecord
	for i, res := range results {
		report.RowsRead += res.points
		if res.err != nil {
			uc.l.Warn("asset fetch failed",
				applogger.String("asset_id", ids[i]),
				applogger.Error(res.err),
			)
			if errors.Is(res.err, errs.ErrInvalidRecord) {
				report.AssetsFailed++
				report.NoteInvalid(res.err)
			} else {
				report.NoteSource(res.err)
			}
			continue
		}
		records = append(records, res.records...)
	}
	report.RowsNormalized = len(records)

	if report.AssetsFailed == len(ids) {
		first := report.FirstSource
		if first == nil {
			first = report.FirstInvalid
		}
		return uc.finish(ctx, report, fmt.Errorf("all %d assets failed: %w (first: %w)", len(ids), errs.ErrSourceUnavailable, first))
	}

	return uc.commit(ctx, report, records, nil)
}

func (uc *IngestUseCase) fetchOne(ctx context.Context, fetcher domrepo.SeriesFetcher, id string, days int) fetchResult {
	start := time.Now()
	frag, err := fetcher.FetchSeries(ctx, id, days)
	uc.metrics.RecordLatency("fetch_series", time.Since(start).Seconds())
	if err != nil {
		return fetchResult{err: err}
	}
	if frag.AssetID == "" {
		frag.AssetID = id
	}
	recs, err := normalize.Series(frag)
	if err != nil {
		return fetchResult{points: len(frag.Prices), err: fmt.Errorf("asset %s: %w", id, err)}
	}
	return fetchResult{records: recs, points: len(frag.Prices)}
}

// commit performs the single write of a run.
func (uc *IngestUseCase) commit(ctx context.Context, report *models.IngestReport, records []models.PriceRecord, metas []models.AssetMetadata) (*models.IngestReport, error) {
	if err := ctx.Err(); err != nil {
		return uc.finish(ctx, report, err)
	}

	start := time.Now()
	res, err := uc.writer.Write(ctx, records, metas)
	uc.metrics.RecordLatency("ingest_write", time.Since(start).Seconds())
	if err != nil {
		report.NoteStorage(err)
		return uc.finish(ctx, report, fmt.Errorf("write %s batch: %w", report.Source, err))
	}
	report.RowsWritten = res.PricesWritten
	report.MetadataWritten = res.MetadataWritten

	if res.PricesWritten+res.MetadataWritten > 0 && uc.invalidator != nil {
		if err := uc.invalidator.Invalidate(ctx); err != nil {
			uc.l.Warn("cache invalidation failed", applogger.Error(err))
		}
	}
	for id, price := range latestPrices(records) {
		uc.metrics.RecordLastPrice(id, price)
	}

	return uc.finish(ctx, report, nil)
}

// finish stamps the report, records metrics, publishes it and returns runErr.
func (uc *IngestUseCase) finish(ctx context.Context, report *models.IngestReport, runErr error) (*models.IngestReport, error) {
	report.Finish()

	uc.metrics.RecordRows(report.Source, "read", report.RowsRead)
	uc.metrics.RecordRows(report.Source, "normalized", report.RowsNormalized)
	uc.metrics.RecordRows(report.Source, "skipped", report.RowsSkipped)
	uc.metrics.RecordRows(report.Source, "written", report.RowsWritten)
	if report.FirstInvalid != nil {
		uc.metrics.RecordError(models.ErrKindInvalidRecord)
	}
	for i := 0; i < report.SourceFailures; i++ {
		uc.metrics.RecordError(models.ErrKindSourceUnavailable)
	}
	if report.FirstStorage != nil {
		uc.metrics.RecordError(models.ErrKindStorage)
	}

	outcome := "ok"
	switch {
	case runErr != nil:
		outcome = "error"
	case report.RowsSkipped > 0 || report.AssetsFailed > 0:
		outcome = "partial"
	}
	uc.metrics.RecordRun(report.Source, outcome)

	fields := []applogger.Field{
		applogger.String("source", report.Source),
		applogger.String("outcome", outcome),
		applogger.Int("rows_read", report.RowsRead),
		applogger.Int("rows_skipped", report.RowsSkipped),
		applogger.Int("rows_written", report.RowsWritten),
		applogger.Int("metadata_written", report.MetadataWritten),
		applogger.Int("assets_failed", report.AssetsFailed),
		applogger.Duration("duration_ms", report.Duration),
	}
	if runErr != nil {
		uc.l.Error("ingest run failed", append(fields, applogger.Error(runErr))...)
	} else {
		uc.l.Info("ingest run finished", fields...)
	}

	if uc.publisher != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := uc.publisher.PublishReport(pctx, report); err != nil {
			uc.l.Warn("publish ingest report failed", applogger.Error(err))
		}
	}
	return report, runErr
}

// latestPrices returns the most recent price per asset.
func latestPrices(records []models.PriceRecord) map[string]float64 {
	type point struct {
		ts    time.Time
		price float64
	}
	latest := make(map[string]point)
	for _, r := range records {
		if r.Price == nil {
			continue
		}
		if p, ok := latest[r.AssetID]; !ok || r.Timestamp.After(p.ts) {
			latest[r.AssetID] = point{ts: r.Timestamp, price: *r.Price}
		}
	}
	out := make(map[string]float64, len(latest))
	for id, p := range latest {
		out[id] = p.price
	}
	return out
}
