package models

import "time"

// Error categories used as keys of IngestReport.Errors.
const (
	ErrKindInvalidRecord     = "invalid_record"
	ErrKindSourceUnavailable = "source_unavailable"
	ErrKindStorage           = "storage"
)

// IngestReport summarizes one ingestion run.
// Only the first error per category is kept.
type IngestReport struct {
	Source          string            `json:"source"`
	SnapshotTime    time.Time         `json:"snapshot_time,omitzero"`
	StartedAt       time.Time         `json:"started_at"`
	Duration        time.Duration     `json:"duration_ns"`
	AssetsRequested int               `json:"assets_requested,omitempty"`
	AssetsFailed    int               `json:"assets_failed,omitempty"`
	SourceFailures  int               `json:"source_failures,omitempty"`
	RowsRead        int               `json:"rows_read"`
	RowsNormalized  int               `json:"rows_normalized"`
	RowsSkipped     int               `json:"rows_skipped"`
	RowsWritten     int               `json:"rows_written"`
	MetadataWritten int               `json:"metadata_written"`
	Errors          map[string]string `json:"errors,omitempty"`

	FirstInvalid error `json:"-"`
	FirstSource  error `json:"-"`
	FirstStorage error `json:"-"`
}

// NewIngestReport starts a report for source.
func NewIngestReport(source string, snapshot time.Time) *IngestReport {
	return &IngestReport{Source: source, SnapshotTime: snapshot, StartedAt: time.Now()}
}

// NoteInvalid counts one skipped row.
func (r *IngestReport) NoteInvalid(err error) {
	r.RowsSkipped++
	if r.FirstInvalid == nil {
		r.FirstInvalid = err
		r.setErr(ErrKindInvalidRecord, err)
	}
}

// NoteSource counts one asset (or file) the source could not deliver.
func (r *IngestReport) NoteSource(err error) {
	r.AssetsFailed++
	r.SourceFailures++
	if r.FirstSource == nil {
		r.FirstSource = err
		r.setErr(ErrKindSourceUnavailable, err)
	}
}

// NoteStorage records the storage failure that aborted the write.
func (r *IngestReport) NoteStorage(err error) {
	if r.FirstStorage == nil {
		r.FirstStorage = err
		r.setErr(ErrKindStorage, err)
	}
}

// Finish stamps the run duration.
func (r *IngestReport) Finish() { r.Duration = time.Since(r.StartedAt) }

func (r *IngestReport) setErr(kind string, err error) {
	if r.Errors == nil {
		r.Errors = map[string]string{}
	}
	r.Errors[kind] = err.Error()
}
