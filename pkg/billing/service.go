package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/warely/warely/pkg/dailylimit"
	"github.com/warely/warely/pkg/plans"
)

// Service is the public interface of the subscription engine. All mutations
// go through it; each tenant's record is the unit of mutual exclusion,
// serialized by the store's version check.
type Service interface {
	// Provisioning and queries
	Provision(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	GetSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	GetUsageSummary(ctx context.Context, tenantID uuid.UUID) (*UsageSummary, error)
	Violations(ctx context.Context, tenantID uuid.UUID) ([]Violation, error)
	IsOverLimit(ctx context.Context, tenantID uuid.UUID) (bool, error)
	CanCreate(ctx context.Context, tenantID uuid.UUID, dim plans.Dimension) error
	HasFeature(ctx context.Context, tenantID uuid.UUID, f plans.Feature) bool
	DowngradeRequirements(ctx context.Context, tenantID uuid.UUID, target plans.Tier) (*DowngradeRequirements, error)
	SwapCandidates(ctx context.Context, tenantID uuid.UUID) (*SwapCandidates, error)
	PendingDowngrade(ctx context.Context, tenantID uuid.UUID) (*PendingDowngrade, error)

	// Plan transitions
	ChangePlan(ctx context.Context, tenantID uuid.UUID, target plans.Tier, cycle BillingCycle, sel *Selection) (*UsageSummary, error)
	CancelPendingDowngrade(ctx context.Context, tenantID uuid.UUID) error
	CancelSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	ReactivateSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	ResolveDowngrade(ctx context.Context, tenantID uuid.UUID, req ResolveRequest) (*UsageSummary, error)
	SwapResources(ctx context.Context, tenantID uuid.UUID, req SwapRequest) (*UsageSummary, error)
	EnforceLimits(ctx context.Context, tenantID uuid.UUID, sel Selection) (*UsageSummary, error)

	// Override administration (privileged callers only)
	SetLimitOverride(ctx context.Context, tenantID uuid.UUID, dim plans.Dimension, value int64) error
	SetFeatureOverride(ctx context.Context, tenantID uuid.UUID, f plans.Feature, enabled bool) error
	ClearLimitOverride(ctx context.Context, tenantID uuid.UUID, dim plans.Dimension) error
	ClearFeatureOverride(ctx context.Context, tenantID uuid.UUID, f plans.Feature) error
	ClearOverrides(ctx context.Context, tenantID uuid.UUID) error

	// Billing provider interactions
	CreateCheckoutLink(ctx context.Context, tenantID uuid.UUID, tier plans.Tier, cycle BillingCycle, opts CheckoutOptions) (*CheckoutLink, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	ApplyBillingEvent(ctx context.Context, event Event) error

	// Scheduled transitions (grace-period and cancellation expiry)
	ProcessDueTransitions(ctx context.Context, now time.Time) error
}

const defaultGracePeriod = 7 * 24 * time.Hour

// Swaps allowed per tenant per UTC day.
const defaultSwapsPerDay = 2

type service struct {
	registry    *plans.Registry
	store       Store
	resolver    *Resolver
	evaluator   *Evaluator
	authorizer  PaymentAuthorizer
	provider    BillingProvider
	swapLimiter *dailylimit.Limiter
	gracePeriod time.Duration
	now         func() time.Time
	log         *slog.Logger
}

// NewService creates the subscription engine.
// Panics if required parameters (registry, store, usage) are nil to fail fast
// during initialization. Defaults: record-backed payment authorizer, in-memory
// swap limiter at 2 swaps per UTC day, 7-day grace period, discarded logs.
func NewService(registry *plans.Registry, store Store, usage *Aggregator, opts ...ServiceOption) (Service, error) {
	if registry == nil {
		panic("billing: plan registry is required")
	}
	if store == nil {
		panic("billing: store is required")
	}
	if usage == nil {
		panic("billing: usage aggregator is required")
	}

	resolver := NewResolver(registry, usage)

	s := &service{
		registry:    registry,
		store:       store,
		resolver:    resolver,
		evaluator:   NewEvaluator(registry, resolver),
		authorizer:  recordAuthorizer{store: store},
		gracePeriod: defaultGracePeriod,
		now:         func() time.Time { return time.Now().UTC() },
		log:         slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.swapLimiter == nil {
		limiter, err := dailylimit.New(dailylimit.NewMemoryStore(), defaultSwapsPerDay)
		if err != nil {
			return nil, err
		}
		s.swapLimiter = limiter
	}

	return s, nil
}

// Provision creates the default free-tier record for a new tenant.
func (s *service) Provision(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	now := s.now()
	sub := &Subscription{
		TenantID:           tenantID,
		Tier:               plans.TierFree,
		Cycle:              CycleMonthly,
		Status:             StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   periodEnd(now, CycleMonthly),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubscription retrieves a tenant's subscription record.
func (s *service) GetSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	return s.store.Get(ctx, tenantID)
}

// GetUsageSummary returns the tenant's effective limits, counts and features.
func (s *service) GetUsageSummary(ctx context.Context, tenantID uuid.UUID) (*UsageSummary, error) {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, sub)
}

// Violations returns the tenant's over-limit dimensions.
func (s *service) Violations(ctx context.Context, tenantID uuid.UUID) ([]Violation, error) {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.evaluator.Violations(ctx, sub)
}

// IsOverLimit reports whether any dimension is over its effective limit.
func (s *service) IsOverLimit(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	violations, err := s.Violations(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return len(violations) > 0, nil
}

// CanCreate checks if the tenant can create one more resource in a dimension.
// Intended as the guard the inventory/team services call before inserts.
func (s *service) CanCreate(ctx context.Context, tenantID uuid.UUID, dim plans.Dimension) error {
	summary, err := s.GetUsageSummary(ctx, tenantID)
	if err != nil {
		return err
	}
	u, ok := summary.Usage[dim]
	if !ok {
		return ErrInvalidDimension
	}
	if u.Limit != plans.Unlimited && u.Current >= u.Limit {
		return ErrLimitExceeded
	}
	return nil
}

// HasFeature checks if a feature is enabled for the tenant's effective plan.
// Returns false on any error to fail closed for gated functionality.
func (s *service) HasFeature(ctx context.Context, tenantID uuid.UUID, f plans.Feature) bool {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return false
	}
	enabled, err := s.resolver.EffectiveFeature(sub, f)
	if err != nil {
		return false
	}
	return enabled
}

// DowngradeRequirements computes the exact selection a downgrade to target needs.
func (s *service) DowngradeRequirements(ctx context.Context, tenantID uuid.UUID, target plans.Tier) (*DowngradeRequirements, error) {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.evaluator.DowngradeRequirements(ctx, sub, target)
}

// SwapCandidates returns the resource sets available for a net-zero swap.
func (s *service) SwapCandidates(ctx context.Context, tenantID uuid.UUID) (*SwapCandidates, error) {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.evaluator.SwapCandidates(ctx, sub)
}

// PendingDowngrade returns the tenant's unexecuted pending downgrade, or nil.
func (s *service) PendingDowngrade(ctx context.Context, tenantID uuid.UUID) (*PendingDowngrade, error) {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return sub.ActivePendingDowngrade(), nil
}

// ChangePlan drives the plan state machine:
//
//   - higher rank: immediate upgrade, gated by payment authorization when the
//     tenant comes from the free tier
//   - same rank, monthly to annual: immediate upgrade (provider prorates)
//   - same rank, annual to monthly: rejected
//   - lower rank, target free: immediate, requires an exact resource selection
//   - lower rank, target paid: scheduled behind the grace period
func (s *service) ChangePlan(ctx context.Context, tenantID uuid.UUID, target plans.Tier, cycle BillingCycle, sel *Selection) (*UsageSummary, error) {
	if _, err := s.registry.Get(target); err != nil {
		return nil, err
	}

	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	switch sub.Status {
	case StatusActive, StatusTrialing, StatusPastDue:
	default:
		return nil, fmt.Errorf("%w: cannot change plan from status %q", ErrInvalidTransition, sub.Status)
	}

	if cycle == "" {
		cycle = sub.Cycle
	}
	if !cycle.Valid() {
		return nil, ErrInvalidCycle
	}

	now := s.now()

	switch {
	case target.Rank() == sub.Tier.Rank():
		if cycle == sub.Cycle || sub.Tier == plans.TierFree {
			// Nothing changes; return a fresh snapshot.
			return s.resolver.Resolve(ctx, sub)
		}
		if sub.Cycle == CycleAnnual && cycle == CycleMonthly {
			return nil, fmt.Errorf("%w: annual to monthly is not allowed", ErrInvalidTransition)
		}
		s.applyUpgrade(sub, target, cycle, now)

	case target.Rank() > sub.Tier.Rank():
		if sub.Tier == plans.TierFree {
			ok, err := s.authorizer.PaymentAuthorized(ctx, tenantID, target, cycle)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, ErrPaymentRequired
			}
		} else if sub.Cycle == CycleAnnual && cycle == CycleMonthly {
			return nil, fmt.Errorf("%w: annual to monthly is not allowed", ErrInvalidTransition)
		}
		s.applyUpgrade(sub, target, cycle, now)

	default:
		if target == plans.TierFree {
			req, err := s.evaluator.DowngradeRequirements(ctx, sub, target)
			if err != nil {
				return nil, err
			}
			if err := validateDowngradeSelection(sel, req); err != nil {
				return nil, err
			}
			applySelection(sub, sel)
			sub.Tier = plans.TierFree
			sub.Cycle = CycleMonthly
			sub.ProviderSubID = ""
			sub.PendingDowngrade = nil
			sub.CanceledAt = nil
			sub.CurrentPeriodStart = now
			sub.CurrentPeriodEnd = periodEnd(now, CycleMonthly)
		} else {
			if sub.HasPendingDowngrade() {
				return nil, ErrPendingTransitionExists
			}
			// Current plan stays active and billed until the grace
			// period ends; no resources are touched yet.
			sub.PendingDowngrade = &PendingDowngrade{
				ID:                uuid.New(),
				TargetTier:        target,
				RequestedAt:       now,
				GracePeriodEndsAt: now.Add(s.gracePeriod),
			}
		}
	}

	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "plan changed",
		"tenant_id", tenantID, "tier", string(sub.Tier), "cycle", string(sub.Cycle),
		"scheduled", sub.HasPendingDowngrade())

	return s.resolver.Resolve(ctx, sub)
}

func (s *service) applyUpgrade(sub *Subscription, target plans.Tier, cycle BillingCycle, now time.Time) {
	sub.Tier = target
	sub.Cycle = cycle
	sub.PendingDowngrade = nil
	sub.CanceledAt = nil
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = periodEnd(now, cycle)
}

// CancelPendingDowngrade removes a scheduled downgrade. Idempotent: calling
// it without a pending downgrade is a no-op.
func (s *service) CancelPendingDowngrade(ctx context.Context, tenantID uuid.UUID) error {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if !sub.HasPendingDowngrade() {
		return nil
	}
	sub.PendingDowngrade = nil
	sub.UpdatedAt = s.now()
	return s.store.Update(ctx, sub)
}

// CancelSubscription marks a paid subscription as canceling: the plan stays
// fully active until the current period ends, then the scheduler lands the
// tenant on the free tier.
func (s *service) CancelSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.Tier == plans.TierFree {
		return nil, fmt.Errorf("%w: free tier has nothing to cancel", ErrInvalidTransition)
	}
	if sub.IsCanceling() {
		return sub, nil
	}
	if sub.Status != StatusActive && sub.Status != StatusTrialing {
		return nil, fmt.Errorf("%w: cannot cancel from status %q", ErrInvalidTransition, sub.Status)
	}

	now := s.now()
	sub.CanceledAt = &now
	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ReactivateSubscription undoes a cancellation before the period runs out.
func (s *service) ReactivateSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !sub.IsCanceling() {
		return nil, fmt.Errorf("%w: subscription is not canceling", ErrInvalidTransition)
	}

	sub.CanceledAt = nil
	sub.UpdatedAt = s.now()
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ResolveDowngrade unlocks storehouses and reactivates users previously locked
// by a downgrade, as long as the tenant stays within its current effective
// limits. Purely additive; typically follows an upgrade.
func (s *service) ResolveDowngrade(ctx context.Context, tenantID uuid.UUID, req ResolveRequest) (*UsageSummary, error) {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(req.UnlockStorehouseIDs) == 0 && len(req.ReactivateUserIDs) == 0 {
		return s.resolver.Resolve(ctx, sub)
	}
	if !uniqueSubset(req.UnlockStorehouseIDs, sub.LockedStorehouseIDs) ||
		!uniqueSubset(req.ReactivateUserIDs, sub.DeactivatedUserIDs) {
		return nil, ErrSelectionMismatch
	}

	sub.LockedStorehouseIDs = subtractIDs(sub.LockedStorehouseIDs, req.UnlockStorehouseIDs)
	sub.DeactivatedUserIDs = subtractIDs(sub.DeactivatedUserIDs, req.ReactivateUserIDs)

	summary, err := s.resolver.Resolve(ctx, sub)
	if err != nil {
		return nil, err
	}
	if len(req.UnlockStorehouseIDs) > 0 && dimensionViolated(summary, plans.DimStorehouses) {
		return nil, ErrLimitExceeded
	}
	if len(req.ReactivateUserIDs) > 0 && dimensionViolated(summary, plans.DimUsers) {
		return nil, ErrLimitExceeded
	}

	sub.UpdatedAt = s.now()
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}
	return summary, nil
}

// SwapResources exchanges locked storehouses and deactivated users for active
// ones. Each pair must be net-zero and the operation is limited per UTC day.
// All four sets commit atomically or not at all.
func (s *service) SwapResources(ctx context.Context, tenantID uuid.UUID, req SwapRequest) (*UsageSummary, error) {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if len(req.LockStorehouseIDs) != len(req.UnlockStorehouseIDs) ||
		len(req.DeactivateUserIDs) != len(req.ReactivateUserIDs) {
		return nil, ErrNotNetZero
	}
	if len(req.LockStorehouseIDs)+len(req.DeactivateUserIDs) == 0 {
		return nil, fmt.Errorf("%w: nothing to swap", ErrNotNetZero)
	}

	limiterKey := tenantID.String()
	budget, err := s.swapLimiter.Status(ctx, limiterKey)
	if err != nil {
		return nil, err
	}
	if !budget.Allowed() {
		return nil, ErrRateLimitExceeded
	}

	activeStorehouses, err := s.resolver.ActiveStorehouses(ctx, sub)
	if err != nil {
		return nil, err
	}
	activeUsers, err := s.resolver.ActiveUsers(ctx, sub)
	if err != nil {
		return nil, err
	}
	if !uniqueSubset(req.LockStorehouseIDs, activeStorehouses) ||
		!uniqueSubset(req.UnlockStorehouseIDs, sub.LockedStorehouseIDs) ||
		!uniqueSubset(req.DeactivateUserIDs, activeUsers) ||
		!uniqueSubset(req.ReactivateUserIDs, sub.DeactivatedUserIDs) {
		return nil, ErrSelectionMismatch
	}

	sub.LockedStorehouseIDs = append(subtractIDs(sub.LockedStorehouseIDs, req.UnlockStorehouseIDs), req.LockStorehouseIDs...)
	sub.DeactivatedUserIDs = append(subtractIDs(sub.DeactivatedUserIDs, req.ReactivateUserIDs), req.DeactivateUserIDs...)

	now := s.now()
	sub.LastSwapAt = &now
	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	// Only committed swaps consume the daily budget. The peek-then-hit
	// window is safe because writes per tenant are serialized by the
	// store's version check.
	if _, err := s.swapLimiter.Hit(ctx, limiterKey); err != nil {
		s.log.WarnContext(ctx, "failed to record swap against daily budget",
			"tenant_id", tenantID, "error", err)
	}

	return s.resolver.Resolve(ctx, sub)
}

// EnforceLimits applies locks/deactivations to bring an over-limit tenant
// back under its effective limits, e.g. after a grace-period downgrade landed
// over limit. Over-selection is tolerated; an insufficient selection fails
// with ErrStillOverLimit and leaves the record untouched.
func (s *service) EnforceLimits(ctx context.Context, tenantID uuid.UUID, sel Selection) (*UsageSummary, error) {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	activeStorehouses, err := s.resolver.ActiveStorehouses(ctx, sub)
	if err != nil {
		return nil, err
	}
	activeUsers, err := s.resolver.ActiveUsers(ctx, sub)
	if err != nil {
		return nil, err
	}
	if !uniqueSubset(sel.LockedStorehouseIDs, activeStorehouses) ||
		!uniqueSubset(sel.DeactivatedUserIDs, activeUsers) {
		return nil, ErrSelectionMismatch
	}

	applySelection(sub, &sel)

	summary, err := s.resolver.Resolve(ctx, sub)
	if err != nil {
		return nil, err
	}
	// Only storehouse/user violations are fixable by a selection; the rest
	// need an upgrade or manual data reduction.
	if remaining := actionableViolations(summaryViolations(summary)); len(remaining) > 0 {
		return nil, ErrStillOverLimit
	}

	sub.EnforcementRequiredAt = nil
	sub.UpdatedAt = s.now()
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}
	summary.EnforcementRequiredAt = nil
	return summary, nil
}

// SetLimitOverride sets a per-tenant limit that takes precedence over the
// plan default until cleared. -1 means unlimited.
func (s *service) SetLimitOverride(ctx context.Context, tenantID uuid.UUID, dim plans.Dimension, value int64) error {
	if !validDimension(dim) {
		return ErrInvalidDimension
	}
	if value < plans.Unlimited {
		return ErrInvalidOverride
	}

	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if sub.LimitOverrides == nil {
		sub.LimitOverrides = make(map[plans.Dimension]int64, 1)
	}
	sub.LimitOverrides[dim] = value
	sub.UpdatedAt = s.now()
	return s.store.Update(ctx, sub)
}

// SetFeatureOverride forces a feature on or off regardless of the plan.
func (s *service) SetFeatureOverride(ctx context.Context, tenantID uuid.UUID, f plans.Feature, enabled bool) error {
	if !validFeature(f) {
		return ErrInvalidFeature
	}

	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if sub.FeatureOverrides == nil {
		sub.FeatureOverrides = make(map[plans.Feature]bool, 1)
	}
	sub.FeatureOverrides[f] = enabled
	sub.UpdatedAt = s.now()
	return s.store.Update(ctx, sub)
}

// ClearLimitOverride removes a limit override, restoring the plan default.
func (s *service) ClearLimitOverride(ctx context.Context, tenantID uuid.UUID, dim plans.Dimension) error {
	if !validDimension(dim) {
		return ErrInvalidDimension
	}

	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if _, ok := sub.LimitOverrides[dim]; !ok {
		return nil
	}
	delete(sub.LimitOverrides, dim)
	sub.UpdatedAt = s.now()
	return s.store.Update(ctx, sub)
}

// ClearFeatureOverride removes a feature override, restoring the plan default.
func (s *service) ClearFeatureOverride(ctx context.Context, tenantID uuid.UUID, f plans.Feature) error {
	if !validFeature(f) {
		return ErrInvalidFeature
	}

	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if _, ok := sub.FeatureOverrides[f]; !ok {
		return nil
	}
	delete(sub.FeatureOverrides, f)
	sub.UpdatedAt = s.now()
	return s.store.Update(ctx, sub)
}

// ClearOverrides removes every limit and feature override for the tenant.
func (s *service) ClearOverrides(ctx context.Context, tenantID uuid.UUID) error {
	sub, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if len(sub.LimitOverrides) == 0 && len(sub.FeatureOverrides) == 0 {
		return nil
	}
	sub.LimitOverrides = nil
	sub.FeatureOverrides = nil
	sub.UpdatedAt = s.now()
	return s.store.Update(ctx, sub)
}

// ProcessDueTransitions executes expired pending downgrades and lands expired
// cancellations on the free tier. Idempotent: executed downgrades are skipped
// and a lost version race is retried on the next run.
func (s *service) ProcessDueTransitions(ctx context.Context, now time.Time) error {
	var errs []error

	due, err := s.store.ListDuePendingDowngrades(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	for _, sub := range due {
		if err := s.executePendingDowngrade(ctx, sub, now); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			errs = append(errs, fmt.Errorf("tenant %s: %w", sub.TenantID, err))
		}
	}

	expired, err := s.store.ListExpiredCancellations(ctx, now)
	if err != nil {
		errs = append(errs, err)
	}
	for _, sub := range expired {
		if err := s.executeCancellation(ctx, sub, now); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			errs = append(errs, fmt.Errorf("tenant %s: %w", sub.TenantID, err))
		}
	}

	return errors.Join(errs...)
}

func (s *service) executePendingDowngrade(ctx context.Context, sub *Subscription, now time.Time) error {
	if !sub.HasPendingDowngrade() || sub.PendingDowngrade.GracePeriodEndsAt.After(now) {
		return nil
	}

	sub.Tier = sub.PendingDowngrade.TargetTier
	sub.PendingDowngrade.Executed = true
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = periodEnd(now, sub.Cycle)

	over, err := s.evaluator.IsOverLimit(ctx, sub)
	if err != nil {
		return err
	}
	if over {
		// Compliance does not hold on the new tier; leave the record
		// flagged for EnforceLimits instead of picking resources here.
		sub.EnforcementRequiredAt = &now
	}

	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "pending downgrade executed",
		"tenant_id", sub.TenantID, "tier", string(sub.Tier), "over_limit", over)
	return nil
}

func (s *service) executeCancellation(ctx context.Context, sub *Subscription, now time.Time) error {
	if !sub.IsCanceling() || sub.CurrentPeriodEnd.After(now) {
		return nil
	}

	sub.Tier = plans.TierFree
	sub.Cycle = CycleMonthly
	sub.ProviderSubID = ""
	sub.CanceledAt = nil
	sub.PendingDowngrade = nil
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = periodEnd(now, CycleMonthly)

	over, err := s.evaluator.IsOverLimit(ctx, sub)
	if err != nil {
		return err
	}
	if over {
		sub.EnforcementRequiredAt = &now
	}

	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "expired cancellation landed on free tier",
		"tenant_id", sub.TenantID, "over_limit", over)
	return nil
}

// validateDowngradeSelection checks the selection sizes match the computed
// requirements exactly and every id refers to a distinct active candidate.
func validateDowngradeSelection(sel *Selection, req *DowngradeRequirements) error {
	var locked, deactivated []uuid.UUID
	if sel != nil {
		locked = sel.LockedStorehouseIDs
		deactivated = sel.DeactivatedUserIDs
	}
	if len(locked) != req.StorehousesToLock || len(deactivated) != req.UsersToDeactivate {
		return ErrSelectionMismatch
	}
	if !uniqueSubset(locked, req.ActiveStorehouseIDs) || !uniqueSubset(deactivated, req.ActiveUserIDs) {
		return ErrSelectionMismatch
	}
	return nil
}

func applySelection(sub *Subscription, sel *Selection) {
	if sel == nil {
		return
	}
	sub.LockedStorehouseIDs = append(sub.LockedStorehouseIDs, sel.LockedStorehouseIDs...)
	sub.DeactivatedUserIDs = append(sub.DeactivatedUserIDs, sel.DeactivatedUserIDs...)
}

// uniqueSubset reports whether every selected id is distinct and present in
// the candidate list.
func uniqueSubset(selected, candidates []uuid.UUID) bool {
	if len(selected) == 0 {
		return true
	}
	pool := make(map[uuid.UUID]struct{}, len(candidates))
	for _, id := range candidates {
		pool[id] = struct{}{}
	}
	seen := make(map[uuid.UUID]struct{}, len(selected))
	for _, id := range selected {
		if _, ok := pool[id]; !ok {
			return false
		}
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}

func dimensionViolated(summary *UsageSummary, dim plans.Dimension) bool {
	u, ok := summary.Usage[dim]
	return ok && u.Limit != plans.Unlimited && u.Current > u.Limit
}

func validDimension(dim plans.Dimension) bool {
	for _, d := range plans.Dimensions() {
		if d == dim {
			return true
		}
	}
	return false
}

func validFeature(f plans.Feature) bool {
	for _, known := range plans.Features() {
		if known == f {
			return true
		}
	}
	return false
}

func periodEnd(start time.Time, cycle BillingCycle) time.Time {
	if cycle == CycleAnnual {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}
