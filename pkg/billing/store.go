package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines the interface for subscription persistence. Each tenant has
// exactly one subscription, so TenantID serves as the primary key.
//
// Update is an optimistic-concurrency write: it succeeds only when the
// persisted Version still matches the Version on the passed record, then
// bumps it. A lost race returns ErrConflict and the caller must re-read.
type Store interface {
	// Get retrieves a subscription by tenant ID.
	// Returns ErrNotFound if no subscription exists.
	Get(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)

	// Create inserts a new subscription with Version 1.
	// Returns ErrAlreadyExists if the tenant already has one.
	Create(ctx context.Context, sub *Subscription) error

	// Update persists the record if sub.Version matches the stored version,
	// then increments sub.Version. Returns ErrConflict on a version mismatch
	// and ErrNotFound if the record disappeared.
	Update(ctx context.Context, sub *Subscription) error

	// ListDuePendingDowngrades returns subscriptions whose unexecuted pending
	// downgrade has a grace period ending at or before now.
	ListDuePendingDowngrades(ctx context.Context, now time.Time) ([]*Subscription, error)

	// ListExpiredCancellations returns canceling paid subscriptions whose
	// current period ended at or before now.
	ListExpiredCancellations(ctx context.Context, now time.Time) ([]*Subscription, error)
}
