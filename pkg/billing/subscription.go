package billing

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/warely/warely/pkg/plans"
)

// PendingDowngrade records a scheduled paid-to-paid downgrade. At most one
// exists per tenant; it is consumed exactly once at grace-period expiry.
type PendingDowngrade struct {
	ID                uuid.UUID  `json:"id"`
	TargetTier        plans.Tier `json:"target_tier"`
	RequestedAt       time.Time  `json:"requested_at"`
	GracePeriodEndsAt time.Time  `json:"grace_period_ends_at"`
	Executed          bool       `json:"executed"`
}

// Subscription is the per-tenant subscription record. Each tenant has exactly
// one; it is mutated only through the Service and persisted with optimistic
// concurrency control via Version.
type Subscription struct {
	TenantID           uuid.UUID
	Tier               plans.Tier
	Cycle              BillingCycle
	Status             Status
	ProviderSubID      string // Billing provider's subscription ID (empty for free tier)
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialEndsAt        *time.Time
	CanceledAt         *time.Time // Set while the subscription runs out its final period
	PaymentMethod      *PaymentMethod
	PendingDowngrade   *PendingDowngrade

	LimitOverrides   map[plans.Dimension]int64
	FeatureOverrides map[plans.Feature]bool

	LockedStorehouseIDs []uuid.UUID
	DeactivatedUserIDs  []uuid.UUID

	LastSwapAt            *time.Time
	EnforcementRequiredAt *time.Time // Set when a scheduled transition left the tenant over limit

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64 // Compare-and-swap token; bumped by the store on every update
}

// IsActive returns true if the subscription is active (including canceling).
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsTrialing returns true if the subscription is in trial status.
func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrialing
}

// IsCanceling returns true while the subscription is canceled but still
// running out its paid period.
func (s *Subscription) IsCanceling() bool {
	return s.CanceledAt != nil && s.Status == StatusActive
}

// HasPendingDowngrade returns true if an unexecuted pending downgrade exists.
func (s *Subscription) HasPendingDowngrade() bool {
	return s.PendingDowngrade != nil && !s.PendingDowngrade.Executed
}

// ActivePendingDowngrade returns the pending downgrade, or nil once it has
// been executed or never existed.
func (s *Subscription) ActivePendingDowngrade() *PendingDowngrade {
	if !s.HasPendingDowngrade() {
		return nil
	}
	pd := *s.PendingDowngrade
	return &pd
}

// IsStorehouseLocked reports whether the storehouse is in the locked set.
func (s *Subscription) IsStorehouseLocked(id uuid.UUID) bool {
	return slices.Contains(s.LockedStorehouseIDs, id)
}

// IsUserDeactivated reports whether the user is in the deactivated set.
func (s *Subscription) IsUserDeactivated(id uuid.UUID) bool {
	return slices.Contains(s.DeactivatedUserIDs, id)
}

// Clone returns a deep copy of the subscription.
func (s *Subscription) Clone() *Subscription {
	out := *s
	out.TrialEndsAt = cloneTime(s.TrialEndsAt)
	out.CanceledAt = cloneTime(s.CanceledAt)
	out.LastSwapAt = cloneTime(s.LastSwapAt)
	out.EnforcementRequiredAt = cloneTime(s.EnforcementRequiredAt)
	if s.PaymentMethod != nil {
		pm := *s.PaymentMethod
		out.PaymentMethod = &pm
	}
	if s.PendingDowngrade != nil {
		pd := *s.PendingDowngrade
		out.PendingDowngrade = &pd
	}
	if s.LimitOverrides != nil {
		out.LimitOverrides = make(map[plans.Dimension]int64, len(s.LimitOverrides))
		for k, v := range s.LimitOverrides {
			out.LimitOverrides[k] = v
		}
	}
	if s.FeatureOverrides != nil {
		out.FeatureOverrides = make(map[plans.Feature]bool, len(s.FeatureOverrides))
		for k, v := range s.FeatureOverrides {
			out.FeatureOverrides[k] = v
		}
	}
	out.LockedStorehouseIDs = slices.Clone(s.LockedStorehouseIDs)
	out.DeactivatedUserIDs = slices.Clone(s.DeactivatedUserIDs)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
