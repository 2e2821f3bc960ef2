package errs

import (
	"errors"
	"fmt"
)

// Error categories of the ingestion pipeline. Concrete errors wrap one of these
// and are classified with errors.Is.
var (
	// ErrInvalidRecord marks a single input row that failed normalization.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrStorage marks a failed transactional write or read.
	ErrStorage = errors.New("storage error")
	// ErrSourceUnavailable marks a fetcher failure for one source or asset.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrInvalidArgument marks a caller supplied parameter that cannot be served.
	ErrInvalidArgument = errors.New("invalid argument")
)

// InvalidRecordError describes why one raw row could not be normalized.
type InvalidRecordError struct {
	Row    int // 1-based data row, 0 when unknown
	Field  string
	Value  string
	Reason string
}

func (e *InvalidRecordError) Error() string {
	msg := "invalid record"
	if e.Row > 0 {
		msg = fmt.Sprintf("%s at row %d", msg, e.Row)
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s: field %q", msg, e.Field)
	}
	if e.Value != "" {
		msg = fmt.Sprintf("%s value %q", msg, e.Value)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	return msg
}

func (e *InvalidRecordError) Is(target error) bool { return target == ErrInvalidRecord }

// Invalid builds an InvalidRecordError for field.
func Invalid(field, value, reason string) *InvalidRecordError {
	return &InvalidRecordError{Field: field, Value: value, Reason: reason}
}

// StorageError wraps a driver error raised by the backing store.
type StorageError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// SourceError wraps a fetcher failure for a single asset (AssetID may be empty
// for whole-file sources).
type SourceError struct {
	Source  string
	AssetID string
	Err     error
}

func (e *SourceError) Error() string {
	if e.AssetID != "" {
		return fmt.Sprintf("source %s asset %s: %v", e.Source, e.AssetID, e.Err)
	}
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error { return []error{ErrSourceUnavailable, e.Err} }

// IsRetryable reports whether err is a storage error the caller may retry as a
// whole batch.
func IsRetryable(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
