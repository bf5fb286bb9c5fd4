package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warely/warely/pkg/billing"
	"github.com/warely/warely/pkg/plans"
)

// newUsageAggregator wires the billing engine's usage collaborators to the
// inventory tables. Storehouses and users are listed by id so downgrades can
// offer a selection; items and transactions only need counts. The monthly
// transaction window is the current calendar month in UTC.
func newUsageAggregator(db *pgxpool.Pool) *billing.Aggregator {
	return billing.NewAggregator(
		billing.WithLister(plans.DimStorehouses, listIDs(db,
			`SELECT id FROM storehouses WHERE tenant_id = $1 ORDER BY created_at`)),
		billing.WithLister(plans.DimUsers, listIDs(db,
			`SELECT id FROM tenant_users WHERE tenant_id = $1 ORDER BY created_at`)),
		billing.WithCounter(plans.DimItems, countRows(db,
			`SELECT count(*) FROM items WHERE tenant_id = $1`)),
		billing.WithCounter(plans.DimMonthlyTransactions, countRows(db,
			`SELECT count(*) FROM stock_transactions
			 WHERE tenant_id = $1 AND created_at >= date_trunc('month', now() AT TIME ZONE 'utc')`)),
	)
}

func listIDs(db *pgxpool.Pool, query string) billing.ListerFunc {
	return func(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
		rows, err := db.Query(ctx, query, tenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to list resource ids: %w", err)
		}
		defer rows.Close()

		var ids []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("failed to scan resource id: %w", err)
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	}
}

func countRows(db *pgxpool.Pool, query string) billing.CounterFunc {
	return func(ctx context.Context, tenantID uuid.UUID) (int64, error) {
		var n int64
		if err := db.QueryRow(ctx, query, tenantID).Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to count resources: %w", err)
		}
		return n, nil
	}
}
