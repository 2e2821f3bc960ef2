package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"CoinPull/internal/domain/errs"
	"CoinPull/internal/domain/models"
)

type fakeWriter struct {
	mu      sync.Mutex
	calls   int
	records []models.PriceRecord
	metas   []models.AssetMetadata
	err     error
}

func (w *fakeWriter) Write(_ context.Context, records []models.PriceRecord, metas []models.AssetMetadata) (models.WriteResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return models.WriteResult{}, w.err
	}
	w.records = append(w.records, records...)
	w.metas = append(w.metas, metas...)
	return models.WriteResult{PricesWritten: len(records), MetadataWritten: len(metas)}, nil
}

type fakeCSV struct {
	rows []models.RawRow
	err  error
}

func (f *fakeCSV) Name() string { return "csv" }

func (f *fakeCSV) Rows(context.Context) ([]models.RawRow, error) { return f.rows, f.err }

type fakeSeries struct {
	frags    map[string]models.SeriesFragment
	fail     map[string]error
	delay    time.Duration
	inflight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (f *fakeSeries) Name() string { return "coingecko" }

func (f *fakeSeries) FetchSeries(ctx context.Context, id string, _ int) (models.SeriesFragment, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return models.SeriesFragment{}, ctx.Err()
		}
	}
	if err, ok := f.fail[id]; ok {
		return models.SeriesFragment{}, &errs.SourceError{Source: "coingecko", AssetID: id, Err: err}
	}
	return f.frags[id], nil
}

type fakePublisher struct {
	mu      sync.Mutex
	reports []*models.IngestReport
	err     error
}

func (p *fakePublisher) PublishReport(ctx context.Context, r *models.IngestReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.reports = append(p.reports, r)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

type fakeInvalidator struct{ calls int }

func (i *fakeInvalidator) Invalidate(context.Context) error {
	i.calls++
	return nil
}

type spyMetrics struct {
	mu        sync.Mutex
	rows      map[string]int
	errors    map[string]int
	lastPrice map[string]float64
	runs      map[string]int
}

func newSpyMetrics() *spyMetrics {
	return &spyMetrics{
		rows:      map[string]int{},
		errors:    map[string]int{},
		lastPrice: map[string]float64{},
		runs:      map[string]int{},
	}
}

func (m *spyMetrics) RecordRows(source, stage string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[source+"/"+stage] += n
}

func (m *spyMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *spyMetrics) RecordLastPrice(id string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPrice[id] = price
}

func (m *spyMetrics) RecordLatency(string, float64) {}

func (m *spyMetrics) RecordRun(source, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[source+"/"+outcome]++
}

func series(start time.Time, prices ...float64) models.SeriesFragment {
	var f models.SeriesFragment
	for i, p := range prices {
		ms := float64(start.Add(time.Duration(i) * time.Hour).UnixMilli())
		f.Prices = append(f.Prices, models.SeriesPoint{ms, p})
		f.MarketCaps = append(f.MarketCaps, models.SeriesPoint{ms, p * 1000})
		f.TotalVolumes = append(f.TotalVolumes, models.SeriesPoint{ms, p * 10})
	}
	return f
}

var errBoom = errors.New("boom")
