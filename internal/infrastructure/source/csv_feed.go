package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"TxnPipeline/internal/domain"
	"TxnPipeline/internal/ports"
	"TxnPipeline/internal/quality"
)

var csvColumns = []string{
	"transaction_id",
	"customer_id",
	"product_id",
	"amount",
	"transaction_date",
	"status",
	"updated_at",
}

// CSVFeed ingests the daily CSV drop directory into staging. Only rows newer
// than what staging already holds are appended, so re-running ingestion for
// the same day does not multiply the batch.
type CSVFeed struct {
	dataDir string
	staging ports.StagingStore
	logger  *slog.Logger
}

var _ ports.Feed = (*CSVFeed)(nil)

// NewCSVFeed builds a feed reading *.csv files under dataDir.
func NewCSVFeed(dataDir string, staging ports.StagingStore, logger *slog.Logger) *CSVFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVFeed{dataDir: dataDir, staging: staging, logger: logger}
}

// Ingest discovers source files, filters incrementally against the staging
// maximum updated_at, dedupes by transaction ID, and appends the remainder.
// Returns the number of rows staged.
func (f *CSVFeed) Ingest(ctx context.Context, _ time.Time) (int, error) {
	files, err := f.discover()
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		f.logger.Info("no source files found", "dir", f.dataDir)
		return 0, nil
	}

	var records []domain.RawRecord
	for _, path := range files {
		fileRecords, err := readFile(path)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		records = append(records, fileRecords...)
	}
	f.logger.Info("source files read", "files", len(files), "records", len(records))

	stagedMax, err := f.staging.MaxUpdatedAt(ctx)
	if err != nil {
		return 0, fmt.Errorf("staging high-water check: %w", err)
	}

	fresh := FilterIncremental(records, stagedMax)
	if len(fresh) < len(records) {
		f.logger.Info("incremental filter applied", "before", len(records), "after", len(fresh))
	}

	staged, err := f.staging.Append(ctx, fresh)
	if err != nil {
		return 0, fmt.Errorf("append to staging: %w", err)
	}
	return staged, nil
}

func (f *CSVFeed) discover() ([]string, error) {
	entries, err := os.ReadDir(f.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read data dir %s: %w", f.dataDir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		files = append(files, filepath.Join(f.dataDir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// readFile parses one CSV file by header position. Field values stay raw;
// shape problems are the validator's job, not the feed's.
func readFile(path string) ([]domain.RawRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, col := range csvColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %s", col)
		}
	}

	var records []domain.RawRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		cell := func(col string) string {
			i := index[col]
			if i >= len(row) {
				return ""
			}
			return row[i]
		}
		records = append(records, domain.RawRecord{
			TransactionID:   cell("transaction_id"),
			CustomerID:      cell("customer_id"),
			ProductID:       cell("product_id"),
			Amount:          cell("amount"),
			TransactionDate: cell("transaction_date"),
			Status:          cell("status"),
			UpdatedAt:       cell("updated_at"),
		})
	}
	return records, nil
}

// FilterIncremental keeps records strictly newer than the staged maximum and
// drops repeated transaction IDs, first occurrence winning. With an empty
// staging store every record with a unique ID passes (full load).
func FilterIncremental(records []domain.RawRecord, stagedMax time.Time) []domain.RawRecord {
	seen := make(map[string]bool, len(records))
	var fresh []domain.RawRecord
	for _, rec := range records {
		if !stagedMax.IsZero() {
			ts, err := quality.ParseTimestamp(rec.UpdatedAt)
			if err != nil || !ts.After(stagedMax) {
				continue
			}
		}
		if rec.TransactionID != "" && seen[rec.TransactionID] {
			continue
		}
		seen[rec.TransactionID] = true
		fresh = append(fresh, rec)
	}
	return fresh
}
