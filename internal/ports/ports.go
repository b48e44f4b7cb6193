package ports

import (
	"context"
	"time"

	"TxnPipeline/internal/domain"
)

// Feed moves raw source data into the staging store ahead of a gate run.
type Feed interface {
	Ingest(ctx context.Context, now time.Time) (int, error)
}

// StagingStore holds the current batch between ingestion and the gate.
type StagingStore interface {
	FetchBatch(ctx context.Context) ([]domain.RawRecord, error)
	Append(ctx context.Context, records []domain.RawRecord) (int, error)
	MaxUpdatedAt(ctx context.Context) (time.Time, error)
	Clear(ctx context.Context) error
}

// ProductCatalog answers the referential-integrity lookup for rule five.
type ProductCatalog interface {
	ProductIDs(ctx context.Context) (map[string]struct{}, error)
}

// QuarantineStore is the append-only destination for invalid records.
type QuarantineStore interface {
	Append(ctx context.Context, record domain.QuarantinedRecord) error
}

// FactStore is the partitioned destination for validated transactions.
type FactStore interface {
	// ExistingIDs reports which of the given transaction IDs already have a
	// fact row, for first-seen eligibility.
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	// MaxUpdatedAt derives the watermark from the fact rows themselves.
	MaxUpdatedAt(ctx context.Context) (time.Time, error)
	// Merge upserts the batch in a single transaction. Partition misses are
	// reported per record in the result; any other error aborts the whole
	// merge with nothing committed.
	Merge(ctx context.Context, batch []domain.Transaction) (domain.MergeResult, error)
}

// RunLogStore records gate runs and the durable watermark.
type RunLogStore interface {
	Begin(ctx context.Context, runID string, start time.Time) error
	Complete(ctx context.Context, runID string, end time.Time, summary domain.RunSummary) error
	Fail(ctx context.Context, runID string, end time.Time, summary domain.RunSummary) error
	LastWatermark(ctx context.Context) (time.Time, error)
}

// Notifier publishes run summaries to operators.
type Notifier interface {
	PublishSummary(ctx context.Context, summary domain.RunSummary) error
}

// Scheduler controls when pipeline runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
