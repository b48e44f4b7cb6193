package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"TxnPipeline/internal/domain"
	"TxnPipeline/internal/ports"
)

const runLogTable = "public.etl_runs"

// PostgresRunLog records one row per gate run: lifecycle, counts, and the
// watermark reached. The watermark here is a convenience marker; recovery
// always cross-checks the fact store's own maximum.
type PostgresRunLog struct {
	db *sql.DB
}

var _ ports.RunLogStore = (*PostgresRunLog)(nil)

// NewPostgresRunLog wires a sql.DB implementation.
func NewPostgresRunLog(db *sql.DB) *PostgresRunLog {
	return &PostgresRunLog{db: db}
}

// Begin opens the run entry in the in_progress state.
func (r *PostgresRunLog) Begin(ctx context.Context, runID string, start time.Time) error {
	query, args, err := psql.
		Insert(runLogTable).
		Columns("run_id", "start_time", "status").
		Values(runID, start, "in_progress").
		ToSql()
	if err != nil {
		return fmt.Errorf("build run log insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run log entry: %w", err)
	}
	return nil
}

// Complete closes the entry with final counts and the advanced watermark.
func (r *PostgresRunLog) Complete(ctx context.Context, runID string, end time.Time, summary domain.RunSummary) error {
	return r.update(ctx, runID, end, "success", summary)
}

// Fail closes the entry keeping the counts gathered up to the failure point.
func (r *PostgresRunLog) Fail(ctx context.Context, runID string, end time.Time, summary domain.RunSummary) error {
	return r.update(ctx, runID, end, "failed", summary)
}

func (r *PostgresRunLog) update(ctx context.Context, runID string, end time.Time, status string, summary domain.RunSummary) error {
	builder := psql.
		Update(runLogTable).
		Set("end_time", end).
		Set("status", status).
		Set("validated_count", summary.Validated).
		Set("quarantined_count", summary.Quarantined).
		Set("skipped_count", summary.Skipped).
		Set("merged_count", summary.Merged).
		Set("load_error_count", summary.LoadErrors).
		Set("error_message", summary.Error).
		Where(sq.Eq{"run_id": runID})
	if !summary.Watermark.IsZero() {
		builder = builder.Set("watermark", summary.Watermark)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build run log update: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update run log entry: %w", err)
	}
	return nil
}

// LastWatermark returns the highest watermark among successful runs, zero
// when no run has succeeded yet.
func (r *PostgresRunLog) LastWatermark(ctx context.Context) (time.Time, error) {
	var max sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(watermark) FROM `+runLogTable+` WHERE status = 'success'`,
	).Scan(&max)
	if err != nil {
		return time.Time{}, fmt.Errorf("run log watermark: %w", err)
	}
	if !max.Valid {
		return time.Time{}, nil
	}
	return max.Time.UTC(), nil
}
