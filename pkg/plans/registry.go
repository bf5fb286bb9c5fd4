package plans

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Source defines how the plan catalog is loaded into a Registry.
type Source interface {
	Load(ctx context.Context) ([]Plan, error)
}

// Registry is the validated, immutable plan catalog.
// Safe for concurrent use; no mutation after construction.
type Registry struct {
	plans map[Tier]Plan
}

// NewRegistry loads and validates the catalog from the given source.
func NewRegistry(ctx context.Context, src Source) (*Registry, error) {
	if src == nil {
		panic("plans: Source is required")
	}

	list, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	byTier := make(map[Tier]Plan, len(list))
	for _, plan := range list {
		if !plan.Tier.Valid() {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("unknown tier %q", plan.Tier))
		}
		if _, exists := byTier[plan.Tier]; exists {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("duplicate plan for tier %q", plan.Tier))
		}
		for dim, limit := range plan.Limits {
			if limit < Unlimited {
				return nil, errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("plan %q: limit for %q must be >= -1, got %d", plan.Tier, dim, limit))
			}
		}
		byTier[plan.Tier] = plan.clone()
	}

	for _, tier := range []Tier{TierFree, TierPro, TierEnterprise} {
		if _, ok := byTier[tier]; !ok {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("missing plan for tier %q", tier))
		}
	}

	return &Registry{plans: byTier}, nil
}

// Get returns the plan for a tier.
func (r *Registry) Get(tier Tier) (Plan, error) {
	plan, ok := r.plans[tier]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return plan.clone(), nil
}

// All returns every plan ordered by rank (free first).
func (r *Registry) All() []Plan {
	out := make([]Plan, 0, len(r.plans))
	for _, plan := range r.plans {
		out = append(out, plan.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Tier.Rank() < out[j].Tier.Rank()
	})
	return out
}
