package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaDDL bootstraps the tables this pipeline owns. The fact table and its
// date partitions are deliberately absent: the destination schema belongs to
// the analytics store, and a missing partition must surface as a load error
// instead of being papered over here.
var schemaDDL = []string{
	`CREATE SCHEMA IF NOT EXISTS staging`,
	`CREATE SCHEMA IF NOT EXISTS quarantine`,
	`CREATE TABLE IF NOT EXISTS staging.transactions (
		transaction_id   TEXT,
		customer_id      TEXT,
		product_id       TEXT,
		amount           TEXT,
		transaction_date TEXT,
		status           TEXT,
		updated_at       TEXT,
		updated_ts       TIMESTAMPTZ,
		ingested_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS quarantine.transactions_errors (
		error_id         BIGSERIAL PRIMARY KEY,
		transaction_id   TEXT,
		customer_id      TEXT,
		product_id       TEXT,
		amount           TEXT,
		transaction_date TEXT,
		status           TEXT,
		updated_at       TEXT,
		reason           TEXT,
		error_message    TEXT,
		error_timestamp  TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS public.etl_runs (
		run_id            UUID PRIMARY KEY,
		start_time        TIMESTAMPTZ NOT NULL,
		end_time          TIMESTAMPTZ,
		status            TEXT NOT NULL,
		validated_count   INTEGER NOT NULL DEFAULT 0,
		quarantined_count INTEGER NOT NULL DEFAULT 0,
		skipped_count     INTEGER NOT NULL DEFAULT 0,
		merged_count      INTEGER NOT NULL DEFAULT 0,
		load_error_count  INTEGER NOT NULL DEFAULT 0,
		watermark         TIMESTAMPTZ,
		error_message     TEXT
	)`,
}

// EnsureSchema creates the staging, quarantine, and run-log tables when they
// do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, ddl := range schemaDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
