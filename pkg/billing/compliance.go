package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/warely/warely/pkg/plans"
)

// Violation describes a dimension where current usage exceeds the effective limit.
type Violation struct {
	Dimension plans.Dimension `json:"dimension"`
	Current   int64           `json:"current"`
	Limit     int64           `json:"limit"`
	Excess    int64           `json:"excess"`
}

// DowngradeRequirements tells the caller exactly how many resources must be
// locked/deactivated to fit a target tier, with the candidate id lists needed
// to present a selection.
type DowngradeRequirements struct {
	TargetTier          plans.Tier  `json:"target_tier"`
	StorehousesToLock   int         `json:"storehouses_to_lock"`
	UsersToDeactivate   int         `json:"users_to_deactivate"`
	ActiveStorehouseIDs []uuid.UUID `json:"active_storehouse_ids"`
	LockedStorehouseIDs []uuid.UUID `json:"locked_storehouse_ids"`
	ActiveUserIDs       []uuid.UUID `json:"active_user_ids"`
	DeactivatedUserIDs  []uuid.UUID `json:"deactivated_user_ids"`
}

// SwapCandidates lists the resources available on each side of a net-zero swap.
type SwapCandidates struct {
	ActiveStorehouseIDs []uuid.UUID `json:"active_storehouse_ids"`
	LockedStorehouseIDs []uuid.UUID `json:"locked_storehouse_ids"`
	ActiveUserIDs       []uuid.UUID `json:"active_user_ids"`
	DeactivatedUserIDs  []uuid.UUID `json:"deactivated_user_ids"`
}

// Evaluator detects over-limit dimensions and computes the exact resource
// counts a downgrade or an enforcement pass has to resolve. Read-only.
type Evaluator struct {
	resolver *Resolver
	registry *plans.Registry
}

// NewEvaluator creates an Evaluator sharing the resolver's view of limits.
func NewEvaluator(registry *plans.Registry, resolver *Resolver) *Evaluator {
	if registry == nil {
		panic("billing: plan registry is required")
	}
	if resolver == nil {
		panic("billing: resolver is required")
	}
	return &Evaluator{resolver: resolver, registry: registry}
}

// Violations returns every dimension where the effective limit is finite and
// exceeded by current usage.
func (e *Evaluator) Violations(ctx context.Context, sub *Subscription) ([]Violation, error) {
	summary, err := e.resolver.Resolve(ctx, sub)
	if err != nil {
		return nil, err
	}
	return summaryViolations(summary), nil
}

// IsOverLimit reports whether the tenant has any violation.
func (e *Evaluator) IsOverLimit(ctx context.Context, sub *Subscription) (bool, error) {
	violations, err := e.Violations(ctx, sub)
	if err != nil {
		return false, err
	}
	return len(violations) > 0, nil
}

// DowngradeRequirements computes how many storehouses/users must be locked or
// deactivated for the tenant to fit the target tier's effective limits.
func (e *Evaluator) DowngradeRequirements(ctx context.Context, sub *Subscription, target plans.Tier) (*DowngradeRequirements, error) {
	if _, err := e.registry.Get(target); err != nil {
		return nil, err
	}

	activeStorehouses, err := e.resolver.ActiveStorehouses(ctx, sub)
	if err != nil {
		return nil, err
	}
	activeUsers, err := e.resolver.ActiveUsers(ctx, sub)
	if err != nil {
		return nil, err
	}

	storehouseLimit, err := e.resolver.EffectiveLimit(sub, target, plans.DimStorehouses)
	if err != nil {
		return nil, err
	}
	userLimit, err := e.resolver.EffectiveLimit(sub, target, plans.DimUsers)
	if err != nil {
		return nil, err
	}

	return &DowngradeRequirements{
		TargetTier:          target,
		StorehousesToLock:   excessCount(len(activeStorehouses), storehouseLimit),
		UsersToDeactivate:   excessCount(len(activeUsers), userLimit),
		ActiveStorehouseIDs: activeStorehouses,
		LockedStorehouseIDs: sub.LockedStorehouseIDs,
		ActiveUserIDs:       activeUsers,
		DeactivatedUserIDs:  sub.DeactivatedUserIDs,
	}, nil
}

// SwapCandidates returns the active and inactive resource sets for the swap flow.
func (e *Evaluator) SwapCandidates(ctx context.Context, sub *Subscription) (*SwapCandidates, error) {
	activeStorehouses, err := e.resolver.ActiveStorehouses(ctx, sub)
	if err != nil {
		return nil, err
	}
	activeUsers, err := e.resolver.ActiveUsers(ctx, sub)
	if err != nil {
		return nil, err
	}

	return &SwapCandidates{
		ActiveStorehouseIDs: activeStorehouses,
		LockedStorehouseIDs: sub.LockedStorehouseIDs,
		ActiveUserIDs:       activeUsers,
		DeactivatedUserIDs:  sub.DeactivatedUserIDs,
	}, nil
}

// summaryViolations extracts the violations from an already-computed summary.
func summaryViolations(summary *UsageSummary) []Violation {
	var out []Violation
	for _, dim := range plans.Dimensions() {
		u, ok := summary.Usage[dim]
		if !ok || u.Limit == plans.Unlimited || u.Current <= u.Limit {
			continue
		}
		out = append(out, Violation{
			Dimension: dim,
			Current:   u.Current,
			Limit:     u.Limit,
			Excess:    u.Current - u.Limit,
		})
	}
	return out
}

// actionableViolations restricts violations to the dimensions resolvable by
// locking/deactivating. Items and monthly transactions require an upgrade or
// manual data reduction instead.
func actionableViolations(violations []Violation) []Violation {
	var out []Violation
	for _, v := range violations {
		if v.Dimension == plans.DimStorehouses || v.Dimension == plans.DimUsers {
			out = append(out, v)
		}
	}
	return out
}

// excessCount returns how many resources exceed a finite limit.
func excessCount(current int, limit int64) int {
	if limit == plans.Unlimited {
		return 0
	}
	if excess := int64(current) - limit; excess > 0 {
		return int(excess)
	}
	return 0
}
