package storage

import (
	"context"
	"database/sql"
	"fmt"

	"TxnPipeline/internal/ports"
)

const productsTable = "public.products"

// PostgresProducts exposes the externally owned product dimension for the
// referential-integrity rule.
type PostgresProducts struct {
	db *sql.DB
}

var _ ports.ProductCatalog = (*PostgresProducts)(nil)

// NewPostgresProducts wires a sql.DB implementation.
func NewPostgresProducts(db *sql.DB) *PostgresProducts {
	return &PostgresProducts{db: db}
}

// ProductIDs loads the full dimension key set once per run.
func (p *PostgresProducts) ProductIDs(ctx context.Context) (map[string]struct{}, error) {
	query, _, err := psql.Select("product_id").From(productsTable).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build products select: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan product id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("products rows iteration: %w", err)
	}

	return ids, nil
}
