// Package csvsource reads per-asset market data exports.
package csvsource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"CoinPull/internal/domain/errs"
	"CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
)

const (
	sourceName = "csv"
	utf8BOM    = "\ufeff"
)

// File implements domrepo.CSVFetcher over a file on disk.
type File struct {
	path string
}

var _ domrepo.CSVFetcher = (*File)(nil)

func NewFile(path string) *File { return &File{path: path} }

func (f *File) Name() string { return sourceName }

// Rows reads the whole file. Open failures and malformed CSV are
// errs.SourceError; per-row validity is left to the normalizer.
func (f *File) Rows(ctx context.Context) ([]models.RawRow, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, &errs.SourceError{Source: sourceName, Err: err}
	}
	defer fh.Close()

	rows, err := Read(ctx, fh)
	if err != nil {
		return nil, &errs.SourceError{Source: sourceName, Err: fmt.Errorf("%s: %w", filepath.Base(f.path), err)}
	}
	return rows, nil
}

// Read parses CSV with a header line into rows keyed by trimmed header
// names. Short rows leave the missing columns out; blank lines are skipped.
func Read(ctx context.Context, r io.Reader) ([]models.RawRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []models.RawRow{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		header[i] = strings.TrimSpace(h)
	}

	var rows []models.RawRow
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if blank(rec) {
			continue
		}
		row := make(models.RawRow, len(header))
		for i, name := range header {
			if name == "" || i >= len(rec) {
				continue
			}
			row[name] = rec[i]
		}
		rows = append(rows, row)
	}
	if rows == nil {
		rows = []models.RawRow{}
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
