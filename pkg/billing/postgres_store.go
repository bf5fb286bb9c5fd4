package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warely/warely/pkg/pg"
)

// PostgresStore persists subscriptions in a postgres table with a version
// column for optimistic concurrency. Override maps, resource id sets, the
// payment method summary and the pending downgrade live in JSONB columns.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a postgres-backed subscription store.
// Panics if db is nil to fail fast during initialization.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	if db == nil {
		panic("billing: pgxpool is required")
	}
	return &PostgresStore{db: db}
}

const subscriptionColumns = `tenant_id, tier, cycle, status, provider_sub_id,
	current_period_start, current_period_end, trial_ends_at, canceled_at,
	payment_method, pending_downgrade, limit_overrides, feature_overrides,
	locked_storehouse_ids, deactivated_user_ids, last_swap_at,
	enforcement_required_at, created_at, updated_at, version`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	err := row.Scan(
		&sub.TenantID, &sub.Tier, &sub.Cycle, &sub.Status, &sub.ProviderSubID,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialEndsAt, &sub.CanceledAt,
		&sub.PaymentMethod, &sub.PendingDowngrade, &sub.LimitOverrides, &sub.FeatureOverrides,
		&sub.LockedStorehouseIDs, &sub.DeactivatedUserIDs, &sub.LastSwapAt,
		&sub.EnforcementRequiredAt, &sub.CreatedAt, &sub.UpdatedAt, &sub.Version,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	row := p.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1`, tenantID)

	sub, err := scanSubscription(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	sub.Version = 1
	_, err := p.db.Exec(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		sub.TenantID, sub.Tier, sub.Cycle, sub.Status, sub.ProviderSubID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEndsAt, sub.CanceledAt,
		sub.PaymentMethod, sub.PendingDowngrade, sub.LimitOverrides, sub.FeatureOverrides,
		sub.LockedStorehouseIDs, sub.DeactivatedUserIDs, sub.LastSwapAt,
		sub.EnforcementRequiredAt, sub.CreatedAt, sub.UpdatedAt, sub.Version,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (p *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE subscriptions SET
			tier = $2, cycle = $3, status = $4, provider_sub_id = $5,
			current_period_start = $6, current_period_end = $7, trial_ends_at = $8,
			canceled_at = $9, payment_method = $10, pending_downgrade = $11,
			limit_overrides = $12, feature_overrides = $13,
			locked_storehouse_ids = $14, deactivated_user_ids = $15,
			last_swap_at = $16, enforcement_required_at = $17,
			updated_at = $18, version = version + 1
		 WHERE tenant_id = $1 AND version = $19`,
		sub.TenantID, sub.Tier, sub.Cycle, sub.Status, sub.ProviderSubID,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEndsAt,
		sub.CanceledAt, sub.PaymentMethod, sub.PendingDowngrade,
		sub.LimitOverrides, sub.FeatureOverrides,
		sub.LockedStorehouseIDs, sub.DeactivatedUserIDs,
		sub.LastSwapAt, sub.EnforcementRequiredAt,
		sub.UpdatedAt, sub.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing record.
		var exists bool
		if err := p.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE tenant_id = $1)`,
			sub.TenantID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	sub.Version++
	return nil
}

func (p *PostgresStore) ListDuePendingDowngrades(ctx context.Context, now time.Time) ([]*Subscription, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE pending_downgrade IS NOT NULL
		   AND NOT COALESCE((pending_downgrade->>'executed')::boolean, false)
		   AND (pending_downgrade->>'grace_period_ends_at')::timestamptz <= $1`,
		now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due pending downgrades: %w", err)
	}
	return collectSubscriptions(rows)
}

func (p *PostgresStore) ListExpiredCancellations(ctx context.Context, now time.Time) ([]*Subscription, error) {
	rows, err := p.db.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE canceled_at IS NOT NULL
		   AND status = 'active'
		   AND tier <> 'free'
		   AND current_period_end <= $1`,
		now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired cancellations: %w", err)
	}
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows pgx.Rows) ([]*Subscription, error) {
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscriptions: %w", err)
	}
	return out, nil
}
