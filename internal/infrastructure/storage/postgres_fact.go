package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"TxnPipeline/internal/domain"
	"TxnPipeline/internal/ports"
)

const factTable = "public.fact_transactions"

// upsertSQL is the conditional-write contract: insert if absent, overwrite
// only when the incoming updated_at is strictly newer. RETURNING (xmax = 0)
// distinguishes a fresh insert from an overwrite; a stale row matches no rows
// at all because of the WHERE guard.
const upsertSQL = `
	INSERT INTO public.fact_transactions
		(transaction_id, customer_id, product_id, amount, transaction_date, status, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (transaction_id, transaction_date) DO UPDATE SET
		customer_id = EXCLUDED.customer_id,
		product_id = EXCLUDED.product_id,
		amount = EXCLUDED.amount,
		status = EXCLUDED.status,
		updated_at = EXCLUDED.updated_at
	WHERE fact_transactions.updated_at < EXCLUDED.updated_at
	RETURNING (xmax = 0) AS inserted`

// PostgresFactStore merges validated transactions into the date-partitioned
// fact table. Partition creation and retention are owned elsewhere; a row
// whose date has no partition is a per-record load error, not a run failure.
type PostgresFactStore struct {
	db *sql.DB
}

var _ ports.FactStore = (*PostgresFactStore)(nil)

// NewPostgresFactStore wires a sql.DB implementation.
func NewPostgresFactStore(db *sql.DB) *PostgresFactStore {
	return &PostgresFactStore{db: db}
}

// ExistingIDs returns a map with transaction IDs that already have a fact row.
func (f *PostgresFactStore) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	query := `SELECT DISTINCT transaction_id FROM ` + factTable + ` WHERE transaction_id = ANY($1)`

	rows, err := f.db.QueryContext(ctx, query, pq.StringArray(ids))
	if err != nil {
		return nil, fmt.Errorf("query existing ids: %w", err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		result[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return result, nil
}

// MaxUpdatedAt derives the watermark from the fact rows themselves.
func (f *PostgresFactStore) MaxUpdatedAt(ctx context.Context) (time.Time, error) {
	var max sql.NullTime
	err := f.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM `+factTable).Scan(&max)
	if err != nil {
		return time.Time{}, fmt.Errorf("fact max updated_at: %w", err)
	}
	if !max.Valid {
		return time.Time{}, nil
	}
	return max.Time.UTC(), nil
}

// Merge upserts the whole batch inside one transaction: every record commits
// together or none do. Each record runs under a savepoint so a partition
// miss rolls back that record alone and is reported as a load error; any
// other error aborts the transaction.
func (f *PostgresFactStore) Merge(ctx context.Context, batch []domain.Transaction) (domain.MergeResult, error) {
	var result domain.MergeResult
	if len(batch) == 0 {
		return result, nil
	}

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin merge transaction: %w", err)
	}
	defer tx.Rollback()

	for i, txn := range batch {
		savepoint := fmt.Sprintf("merge_rec_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return domain.MergeResult{}, fmt.Errorf("savepoint: %w", err)
		}

		var inserted bool
		err := tx.QueryRowContext(ctx, upsertSQL,
			txn.TransactionID,
			txn.CustomerID,
			txn.ProductID,
			txn.Amount,
			txn.TransactionDate,
			txn.Status,
			txn.UpdatedAt,
		).Scan(&inserted)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Key exists with an equal or newer updated_at; the guard
			// skipped the write. Replays land here.
			result.Conflicts++
		case isPartitionError(err):
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
				return domain.MergeResult{}, fmt.Errorf("rollback to savepoint: %w", rbErr)
			}
			result.LoadErrors = append(result.LoadErrors, domain.LoadError{
				TransactionID:   txn.TransactionID,
				TransactionDate: txn.TransactionDate,
				Message:         err.Error(),
			})
			continue
		case err != nil:
			return domain.MergeResult{}, fmt.Errorf("upsert %s/%s: %w",
				txn.TransactionID, txn.TransactionDate.Format("2006-01-02"), err)
		default:
			result.Merged++
			if !inserted {
				result.Conflicts++
			}
			if txn.UpdatedAt.After(result.MaxUpdatedAt) {
				result.MaxUpdatedAt = txn.UpdatedAt
			}
		}

		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return domain.MergeResult{}, fmt.Errorf("release savepoint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.MergeResult{}, fmt.Errorf("commit merge: %w", err)
	}

	return result, nil
}

// isPartitionError matches Postgres "no partition of relation found for row"
// (SQLSTATE 23514 on partitioned tables).
func isPartitionError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23514"
}
