package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"TxnPipeline/internal/domain"
	"TxnPipeline/internal/ports"
	"TxnPipeline/internal/quality"
)

const stagingTable = "staging.transactions"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStaging reads and appends the current batch window. The staging
// columns are text so that malformed source values survive long enough to be
// quarantined; updated_ts shadows updated_at with a parsed value when one
// exists, for the incremental ingest filter.
type PostgresStaging struct {
	db *sql.DB
}

var _ ports.StagingStore = (*PostgresStaging)(nil)

// NewPostgresStaging wires a sql.DB implementation.
func NewPostgresStaging(db *sql.DB) *PostgresStaging {
	return &PostgresStaging{db: db}
}

// FetchBatch returns every staged row in ingestion order.
func (s *PostgresStaging) FetchBatch(ctx context.Context) ([]domain.RawRecord, error) {
	query, args, err := psql.
		Select("transaction_id", "customer_id", "product_id", "amount", "transaction_date", "status", "updated_at").
		From(stagingTable).
		OrderBy("ingested_at", "transaction_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build staging select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query staging: %w", err)
	}
	defer rows.Close()

	var batch []domain.RawRecord
	for rows.Next() {
		var rec domain.RawRecord
		err := rows.Scan(
			&rec.TransactionID,
			&rec.CustomerID,
			&rec.ProductID,
			&rec.Amount,
			&rec.TransactionDate,
			&rec.Status,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan staging row: %w", err)
		}
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("staging rows iteration: %w", err)
	}

	return batch, nil
}

// Append inserts records as received, keeping the raw text and, where the
// timestamp parses, the typed shadow column.
func (s *PostgresStaging) Append(ctx context.Context, records []domain.RawRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	builder := psql.
		Insert(stagingTable).
		Columns("transaction_id", "customer_id", "product_id", "amount", "transaction_date", "status", "updated_at", "updated_ts")
	for _, rec := range records {
		builder = builder.Values(
			rec.TransactionID,
			rec.CustomerID,
			rec.ProductID,
			rec.Amount,
			rec.TransactionDate,
			rec.Status,
			rec.UpdatedAt,
			parsedTimestampOrNil(rec.UpdatedAt),
		)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build staging insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("insert staging rows: %w", err)
	}

	return len(records), nil
}

// MaxUpdatedAt returns the latest parseable updated_at currently staged,
// zero when staging is empty.
func (s *PostgresStaging) MaxUpdatedAt(ctx context.Context) (time.Time, error) {
	var max sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT MAX(updated_ts) FROM `+stagingTable).Scan(&max)
	if err != nil {
		return time.Time{}, fmt.Errorf("staging max updated_at: %w", err)
	}
	if !max.Valid {
		return time.Time{}, nil
	}
	return max.Time.UTC(), nil
}

// Clear empties staging after a successful run.
func (s *PostgresStaging) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+stagingTable); err != nil {
		return fmt.Errorf("clear staging: %w", err)
	}
	return nil
}

// parsedTimestampOrNil yields a typed timestamp for the shadow column or
// NULL when the raw value does not parse.
func parsedTimestampOrNil(value string) interface{} {
	if ts, err := quality.ParseTimestamp(value); err == nil {
		return ts
	}
	return nil
}
