package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"TxnPipeline/internal/domain"
	"TxnPipeline/internal/ports"
)

const quarantineTable = "quarantine.transactions_errors"

// PostgresQuarantine is the append-only side store for rejected records. It
// keeps the raw field values exactly as received; the failure may well be
// that a value is missing or unparseable.
type PostgresQuarantine struct {
	db *sql.DB
}

var _ ports.QuarantineStore = (*PostgresQuarantine)(nil)

// NewPostgresQuarantine wires a sql.DB implementation.
func NewPostgresQuarantine(db *sql.DB) *PostgresQuarantine {
	return &PostgresQuarantine{db: db}
}

// Append inserts one quarantined record. Rows are never updated or deleted
// from here.
func (q *PostgresQuarantine) Append(ctx context.Context, record domain.QuarantinedRecord) error {
	errorTime := interface{}(record.ErrorTime)
	if record.ErrorTime.IsZero() {
		errorTime = sq.Expr("NOW()")
	}

	query, args, err := psql.
		Insert(quarantineTable).
		Columns("transaction_id", "customer_id", "product_id", "amount",
			"transaction_date", "status", "updated_at",
			"reason", "error_message", "error_timestamp").
		Values(
			record.Record.TransactionID,
			record.Record.CustomerID,
			record.Record.ProductID,
			record.Record.Amount,
			record.Record.TransactionDate,
			record.Record.Status,
			record.Record.UpdatedAt,
			string(record.Reason),
			record.ErrorMessage,
			errorTime,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build quarantine insert: %w", err)
	}

	if _, err := q.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert quarantine row: %w", err)
	}

	return nil
}
