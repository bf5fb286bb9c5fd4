package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/warely/warely/pkg/plans"
)

// DimensionUsage contains the current usage and effective limit for a dimension.
type DimensionUsage struct {
	Current int64 `json:"current"`
	Limit   int64 `json:"limit"` // -1 means unlimited
}

// UsageSummary is the effective view of a tenant's subscription: plan limits
// merged with overrides, live counts, resolved feature flags. Computed fresh
// on every read, never stored.
type UsageSummary struct {
	TenantID              uuid.UUID                           `json:"tenant_id"`
	Tier                  plans.Tier                          `json:"tier"`
	Cycle                 BillingCycle                        `json:"cycle"`
	Status                Status                              `json:"status"`
	CurrentPeriodEnd      time.Time                           `json:"current_period_end"`
	TrialEndsAt           *time.Time                          `json:"trial_ends_at,omitempty"`
	CanceledAt            *time.Time                          `json:"canceled_at,omitempty"`
	Usage                 map[plans.Dimension]DimensionUsage  `json:"usage"`
	Features              map[plans.Feature]bool              `json:"features"`
	PendingDowngrade      *PendingDowngrade                   `json:"pending_downgrade,omitempty"`
	PaymentMethod         *PaymentMethod                      `json:"payment_method,omitempty"`
	EnforcementRequiredAt *time.Time                          `json:"enforcement_required_at,omitempty"`
}

// Resolver merges plan defaults with per-tenant overrides and live counts
// into a UsageSummary. Read-only; safe to call arbitrarily often.
type Resolver struct {
	registry *plans.Registry
	usage    *Aggregator
}

// NewResolver creates a Resolver.
// Panics if registry or usage is nil to fail fast during initialization.
func NewResolver(registry *plans.Registry, usage *Aggregator) *Resolver {
	if registry == nil {
		panic("billing: plan registry is required")
	}
	if usage == nil {
		panic("billing: usage aggregator is required")
	}
	return &Resolver{registry: registry, usage: usage}
}

// EffectiveLimit returns the override for the dimension if set, otherwise the
// plan default for the given tier.
func (r *Resolver) EffectiveLimit(sub *Subscription, tier plans.Tier, dim plans.Dimension) (int64, error) {
	if v, ok := sub.LimitOverrides[dim]; ok {
		return v, nil
	}
	plan, err := r.registry.Get(tier)
	if err != nil {
		return 0, err
	}
	return plan.Limit(dim), nil
}

// EffectiveFeature returns the override for the feature if set, otherwise the
// plan default for the subscription's current tier.
func (r *Resolver) EffectiveFeature(sub *Subscription, f plans.Feature) (bool, error) {
	if v, ok := sub.FeatureOverrides[f]; ok {
		return v, nil
	}
	plan, err := r.registry.Get(sub.Tier)
	if err != nil {
		return false, err
	}
	return plan.HasFeature(f), nil
}

// ActiveStorehouses returns the tenant's storehouse ids minus the locked set.
func (r *Resolver) ActiveStorehouses(ctx context.Context, sub *Subscription) ([]uuid.UUID, error) {
	all, err := r.usage.List(ctx, sub.TenantID, plans.DimStorehouses)
	if err != nil {
		return nil, err
	}
	return subtractIDs(all, sub.LockedStorehouseIDs), nil
}

// ActiveUsers returns the tenant's user ids minus the deactivated set.
func (r *Resolver) ActiveUsers(ctx context.Context, sub *Subscription) ([]uuid.UUID, error) {
	all, err := r.usage.List(ctx, sub.TenantID, plans.DimUsers)
	if err != nil {
		return nil, err
	}
	return subtractIDs(all, sub.DeactivatedUserIDs), nil
}

// Resolve computes the tenant's UsageSummary from the subscription record,
// the plan catalog and live counts.
func (r *Resolver) Resolve(ctx context.Context, sub *Subscription) (*UsageSummary, error) {
	usage := make(map[plans.Dimension]DimensionUsage, 4)

	for _, dim := range plans.Dimensions() {
		limit, err := r.EffectiveLimit(sub, sub.Tier, dim)
		if err != nil {
			return nil, err
		}

		var current int64
		switch dim {
		case plans.DimStorehouses:
			active, err := r.ActiveStorehouses(ctx, sub)
			if err != nil {
				return nil, err
			}
			current = int64(len(active))
		case plans.DimUsers:
			active, err := r.ActiveUsers(ctx, sub)
			if err != nil {
				return nil, err
			}
			current = int64(len(active))
		default:
			current, err = r.usage.Count(ctx, sub.TenantID, dim)
			if err != nil {
				return nil, err
			}
		}

		usage[dim] = DimensionUsage{Current: current, Limit: limit}
	}

	features := make(map[plans.Feature]bool, 3)
	for _, f := range plans.Features() {
		enabled, err := r.EffectiveFeature(sub, f)
		if err != nil {
			return nil, err
		}
		features[f] = enabled
	}

	return &UsageSummary{
		TenantID:              sub.TenantID,
		Tier:                  sub.Tier,
		Cycle:                 sub.Cycle,
		Status:                sub.Status,
		CurrentPeriodEnd:      sub.CurrentPeriodEnd,
		TrialEndsAt:           cloneTime(sub.TrialEndsAt),
		CanceledAt:            cloneTime(sub.CanceledAt),
		Usage:                 usage,
		Features:              features,
		PendingDowngrade:      sub.ActivePendingDowngrade(),
		PaymentMethod:         sub.PaymentMethod,
		EnforcementRequiredAt: cloneTime(sub.EnforcementRequiredAt),
	}, nil
}

// subtractIDs returns the ids in all that are not in exclude, preserving order.
func subtractIDs(all, exclude []uuid.UUID) []uuid.UUID {
	if len(exclude) == 0 {
		return all
	}
	excluded := make(map[uuid.UUID]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(all))
	for _, id := range all {
		if _, skip := excluded[id]; !skip {
			out = append(out, id)
		}
	}
	return out
}
