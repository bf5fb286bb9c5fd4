package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warely/warely/pkg/billing"
	"github.com/warely/warely/pkg/dailylimit"
	"github.com/warely/warely/pkg/plans"
)

// env wires the engine against in-memory collaborators with a controllable
// clock and usage counts mutable mid-test.
type env struct {
	t     *testing.T
	now   time.Time
	store *billing.MemoryStore
	svc   billing.Service

	storehouses  []uuid.UUID
	users        []uuid.UUID
	items        int64
	transactions int64
	authorized   bool
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		t:     t,
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		store: billing.NewMemoryStore(),
	}

	registry, err := plans.NewRegistry(context.Background(), plans.NewInMemSource(plans.DefaultCatalog()...))
	require.NoError(t, err)

	usage := billing.NewAggregator(
		billing.WithLister(plans.DimStorehouses, func(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
			return e.storehouses, nil
		}),
		billing.WithLister(plans.DimUsers, func(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
			return e.users, nil
		}),
		billing.WithCounter(plans.DimItems, func(ctx context.Context, tenantID uuid.UUID) (int64, error) {
			return e.items, nil
		}),
		billing.WithCounter(plans.DimMonthlyTransactions, func(ctx context.Context, tenantID uuid.UUID) (int64, error) {
			return e.transactions, nil
		}),
	)

	limiter, err := dailylimit.New(dailylimit.NewMemoryStore(), 2,
		dailylimit.WithClock(func() time.Time { return e.now }))
	require.NoError(t, err)

	svc, err := billing.NewService(registry, e.store, usage,
		billing.WithClock(func() time.Time { return e.now }),
		billing.WithSwapLimiter(limiter),
		billing.WithPaymentAuthorizer(billing.PaymentAuthorizerFunc(
			func(ctx context.Context, tenantID uuid.UUID, tier plans.Tier, cycle billing.BillingCycle) (bool, error) {
				return e.authorized, nil
			})),
	)
	require.NoError(t, err)
	e.svc = svc

	return e
}

// seed inserts a subscription record directly, bypassing the state machine.
func (e *env) seed(tier plans.Tier, cycle billing.BillingCycle) uuid.UUID {
	e.t.Helper()

	tenantID := uuid.New()
	sub := &billing.Subscription{
		TenantID:           tenantID,
		Tier:               tier,
		Cycle:              cycle,
		Status:             billing.StatusActive,
		CurrentPeriodStart: e.now,
		CurrentPeriodEnd:   e.now.AddDate(0, 1, 0),
		CreatedAt:          e.now,
		UpdatedAt:          e.now,
	}
	if tier != plans.TierFree {
		sub.ProviderSubID = "psub_" + tenantID.String()[:8]
	}
	require.NoError(e.t, e.store.Create(context.Background(), sub))
	return tenantID
}

func newIDs(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func TestProvision(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tenantID := uuid.New()

	sub, err := e.svc.Provision(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, plans.TierFree, sub.Tier)
	assert.Equal(t, billing.StatusActive, sub.Status)

	_, err = e.svc.Provision(ctx, tenantID)
	assert.ErrorIs(t, err, billing.ErrAlreadyExists)
}

func TestGetUsageSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("no record", func(t *testing.T) {
		e := newEnv(t)
		_, err := e.svc.GetUsageSummary(ctx, uuid.New())
		assert.ErrorIs(t, err, billing.ErrNotFound)
	})

	t.Run("merges plan limits with live counts", func(t *testing.T) {
		e := newEnv(t)
		e.storehouses = newIDs(2)
		e.users = newIDs(3)
		e.items = 42
		tenantID := e.seed(plans.TierPro, billing.CycleMonthly)

		summary, err := e.svc.GetUsageSummary(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, billing.DimensionUsage{Current: 2, Limit: 2}, summary.Usage[plans.DimStorehouses])
		assert.Equal(t, billing.DimensionUsage{Current: 3, Limit: 5}, summary.Usage[plans.DimUsers])
		assert.Equal(t, billing.DimensionUsage{Current: 42, Limit: 5000}, summary.Usage[plans.DimItems])
		assert.True(t, summary.Features[plans.FeatureTransfers])
		assert.False(t, summary.Features[plans.FeatureCustomRoles])
	})

	t.Run("locked resources do not count as usage", func(t *testing.T) {
		e := newEnv(t)
		e.storehouses = newIDs(3)
		tenantID := e.seed(plans.TierPro, billing.CycleMonthly)

		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		sub.LockedStorehouseIDs = []uuid.UUID{e.storehouses[0]}
		require.NoError(t, e.store.Update(ctx, sub))

		summary, err := e.svc.GetUsageSummary(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), summary.Usage[plans.DimStorehouses].Current)
	})
}

func TestChangePlan_Upgrade(t *testing.T) {
	ctx := context.Background()

	t.Run("free to paid requires payment authorization", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierFree, billing.CycleMonthly)

		_, err := e.svc.ChangePlan(ctx, tenantID, plans.TierPro, billing.CycleMonthly, nil)
		assert.ErrorIs(t, err, billing.ErrPaymentRequired)

		e.authorized = true
		summary, err := e.svc.ChangePlan(ctx, tenantID, plans.TierPro, billing.CycleMonthly, nil)
		require.NoError(t, err)
		assert.Equal(t, plans.TierPro, summary.Tier)
	})

	t.Run("paid to paid applies immediately", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierPro, billing.CycleMonthly)

		summary, err := e.svc.ChangePlan(ctx, tenantID, plans.TierEnterprise, billing.CycleMonthly, nil)
		require.NoError(t, err)
		assert.Equal(t, plans.TierEnterprise, summary.Tier)

		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, e.now, sub.CurrentPeriodStart)
	})

	t.Run("upgrade clears a pending downgrade", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierEnterprise, billing.CycleMonthly)

		_, err := e.svc.ChangePlan(ctx, tenantID, plans.TierPro, billing.CycleMonthly, nil)
		require.NoError(t, err)
		pd, err := e.svc.PendingDowngrade(ctx, tenantID)
		require.NoError(t, err)
		require.NotNil(t, pd)

		// Switching the same tier to annual is an upgrade and supersedes it.
		_, err = e.svc.ChangePlan(ctx, tenantID, plans.TierEnterprise, billing.CycleAnnual, nil)
		require.NoError(t, err)

		pd, err = e.svc.PendingDowngrade(ctx, tenantID)
		require.NoError(t, err)
		assert.Nil(t, pd)
	})

	t.Run("unknown tier", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierFree, billing.CycleMonthly)

		_, err := e.svc.ChangePlan(ctx, tenantID, plans.Tier("platinum"), billing.CycleMonthly, nil)
		assert.ErrorIs(t, err, plans.ErrPlanNotFound)
	})
}

func TestChangePlan_CycleSwitch(t *testing.T) {
	ctx := context.Background()

	t.Run("annual to monthly is forbidden", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierPro, billing.CycleAnnual)

		_, err := e.svc.ChangePlan(ctx, tenantID, plans.TierPro, billing.CycleMonthly, nil)
		assert.ErrorIs(t, err, billing.ErrInvalidTransition)
	})

	t.Run("monthly to annual is an upgrade", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierPro, billing.CycleMonthly)

		summary, err := e.svc.ChangePlan(ctx, tenantID, plans.TierPro, billing.CycleAnnual, nil)
		require.NoError(t, err)
		assert.Equal(t, billing.CycleAnnual, summary.Cycle)

		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, e.now.AddDate(1, 0, 0), sub.CurrentPeriodEnd)
	})

	t.Run("same tier and cycle is a no-op", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierPro, billing.CycleMonthly)
		before, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)

		summary, err := e.svc.ChangePlan(ctx, tenantID, plans.TierPro, billing.CycleMonthly, nil)
		require.NoError(t, err)
		assert.Equal(t, plans.TierPro, summary.Tier)

		after, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, before.Version, after.Version)
	})
}

func TestChangePlan_DowngradeToFree(t *testing.T) {
	ctx := context.Background()

	// Pro tenant over the free limits: 2 active storehouses (free allows 1),
	// 3 active users (free allows 2). Exactly 1 + 1 must be selected.
	setup := func(t *testing.T) (*env, uuid.UUID) {
		e := newEnv(t)
		e.storehouses = newIDs(2)
		e.users = newIDs(3)
		return e, e.seed(plans.TierPro, billing.CycleMonthly)
	}

	t.Run("no selection", func(t *testing.T) {
		e, tenantID := setup(t)
		_, err := e.svc.ChangePlan(ctx, tenantID, plans.TierFree, "", nil)
		assert.ErrorIs(t, err, billing.ErrSelectionMismatch)
	})

	t.Run("too many selected", func(t *testing.T) {
		e, tenantID := setup(t)
		_, err := e.svc.ChangePlan(ctx, tenantID, plans.TierFree, "", &billing.Selection{
			LockedStorehouseIDs: e.storehouses,
			DeactivatedUserIDs:  e.users[:1],
		})
		assert.ErrorIs(t, err, billing.ErrSelectionMismatch)
	})

	t.Run("id outside candidates", func(t *testing.T) {
		e, tenantID := setup(t)
		_, err := e.svc.ChangePlan(ctx, tenantID, plans.TierFree, "", &billing.Selection{
			LockedStorehouseIDs: []uuid.UUID{uuid.New()},
			DeactivatedUserIDs:  e.users[:1],
		})
		assert.ErrorIs(t, err, billing.ErrSelectionMismatch)
	})

	t.Run("exact selection downgrades immediately", func(t *testing.T) {
		e, tenantID := setup(t)
		summary, err := e.svc.ChangePlan(ctx, tenantID, plans.TierFree, "", &billing.Selection{
			LockedStorehouseIDs: e.storehouses[:1],
			DeactivatedUserIDs:  e.users[:1],
		})
		require.NoError(t, err)
		assert.Equal(t, plans.TierFree, summary.Tier)
		assert.Equal(t, billing.DimensionUsage{Current: 1, Limit: 1}, summary.Usage[plans.DimStorehouses])
		assert.Equal(t, billing.DimensionUsage{Current: 2, Limit: 2}, summary.Usage[plans.DimUsers])

		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, e.storehouses[:1], sub.LockedStorehouseIDs)
		assert.Empty(t, sub.ProviderSubID)
	})

	t.Run("failed selection leaves record untouched", func(t *testing.T) {
		e, tenantID := setup(t)
		before, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)

		_, err = e.svc.ChangePlan(ctx, tenantID, plans.TierFree, "", nil)
		require.ErrorIs(t, err, billing.ErrSelectionMismatch)

		after, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestChangePlan_ScheduledDowngrade(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.storehouses = newIDs(4)
	tenantID := e.seed(plans.TierEnterprise, billing.CycleMonthly)

	summary, err := e.svc.ChangePlan(ctx, tenantID, plans.TierPro, "", nil)
	require.NoError(t, err)

	// Current plan stays active; only the pending downgrade is recorded.
	assert.Equal(t, plans.TierEnterprise, summary.Tier)
	require.NotNil(t, summary.PendingDowngrade)
	assert.Equal(t, plans.TierPro, summary.PendingDowngrade.TargetTier)
	assert.Equal(t, e.now.Add(7*24*time.Hour), summary.PendingDowngrade.GracePeriodEndsAt)

	sub, err := e.store.Get(ctx, tenantID)
	require.NoError(t, err)
	assert.Empty(t, sub.LockedStorehouseIDs)
	assert.Empty(t, sub.DeactivatedUserIDs)

	_, err = e.svc.ChangePlan(ctx, tenantID, plans.TierPro, "", nil)
	assert.ErrorIs(t, err, billing.ErrPendingTransitionExists)
}

func TestCancelPendingDowngrade(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tenantID := e.seed(plans.TierEnterprise, billing.CycleMonthly)

	_, err := e.svc.ChangePlan(ctx, tenantID, plans.TierPro, "", nil)
	require.NoError(t, err)

	require.NoError(t, e.svc.CancelPendingDowngrade(ctx, tenantID))
	pd, err := e.svc.PendingDowngrade(ctx, tenantID)
	require.NoError(t, err)
	assert.Nil(t, pd)

	// Second call is a no-op, not an error.
	require.NoError(t, e.svc.CancelPendingDowngrade(ctx, tenantID))
}

func TestDowngradeRequirements(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.storehouses = newIDs(3)
	e.users = newIDs(2)
	tenantID := e.seed(plans.TierEnterprise, billing.CycleMonthly)

	t.Run("counts excess over target limits", func(t *testing.T) {
		req, err := e.svc.DowngradeRequirements(ctx, tenantID, plans.TierPro)
		require.NoError(t, err)
		assert.Equal(t, 1, req.StorehousesToLock) // 3 active, pro allows 2
		assert.Equal(t, 0, req.UsersToDeactivate) // 2 active, pro allows 5
		assert.Len(t, req.ActiveStorehouseIDs, 3)
	})

	t.Run("within limits needs nothing", func(t *testing.T) {
		req, err := e.svc.DowngradeRequirements(ctx, tenantID, plans.TierEnterprise)
		require.NoError(t, err)
		assert.Zero(t, req.StorehousesToLock)
		assert.Zero(t, req.UsersToDeactivate)
	})
}

func TestSwapResources(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*env, uuid.UUID) {
		e := newEnv(t)
		e.storehouses = newIDs(3)
		e.users = newIDs(4)
		tenantID := e.seed(plans.TierPro, billing.CycleMonthly)

		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		sub.LockedStorehouseIDs = []uuid.UUID{e.storehouses[0]}
		sub.DeactivatedUserIDs = []uuid.UUID{e.users[0]}
		require.NoError(t, e.store.Update(ctx, sub))
		return e, tenantID
	}

	t.Run("one-sided request is rejected", func(t *testing.T) {
		e, tenantID := setup(t)
		_, err := e.svc.SwapResources(ctx, tenantID, billing.SwapRequest{
			LockStorehouseIDs: []uuid.UUID{e.storehouses[1]},
		})
		assert.ErrorIs(t, err, billing.ErrNotNetZero)
	})

	t.Run("empty request is rejected", func(t *testing.T) {
		e, tenantID := setup(t)
		_, err := e.svc.SwapResources(ctx, tenantID, billing.SwapRequest{})
		assert.ErrorIs(t, err, billing.ErrNotNetZero)
	})

	t.Run("swap exchanges both sides atomically", func(t *testing.T) {
		e, tenantID := setup(t)
		_, err := e.svc.SwapResources(ctx, tenantID, billing.SwapRequest{
			LockStorehouseIDs:   []uuid.UUID{e.storehouses[1]},
			UnlockStorehouseIDs: []uuid.UUID{e.storehouses[0]},
			DeactivateUserIDs:   []uuid.UUID{e.users[1]},
			ReactivateUserIDs:   []uuid.UUID{e.users[0]},
		})
		require.NoError(t, err)

		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{e.storehouses[1]}, sub.LockedStorehouseIDs)
		assert.Equal(t, []uuid.UUID{e.users[1]}, sub.DeactivatedUserIDs)
		require.NotNil(t, sub.LastSwapAt)
		assert.Equal(t, e.now, *sub.LastSwapAt)
	})

	t.Run("locking an already locked storehouse is rejected", func(t *testing.T) {
		e, tenantID := setup(t)
		_, err := e.svc.SwapResources(ctx, tenantID, billing.SwapRequest{
			LockStorehouseIDs:   []uuid.UUID{e.storehouses[0]},
			UnlockStorehouseIDs: []uuid.UUID{e.storehouses[0]},
		})
		assert.ErrorIs(t, err, billing.ErrSelectionMismatch)
	})

	t.Run("third swap within a UTC day is rate limited", func(t *testing.T) {
		e, tenantID := setup(t)

		swap := func(lock, unlock uuid.UUID) error {
			_, err := e.svc.SwapResources(ctx, tenantID, billing.SwapRequest{
				LockStorehouseIDs:   []uuid.UUID{lock},
				UnlockStorehouseIDs: []uuid.UUID{unlock},
			})
			return err
		}

		require.NoError(t, swap(e.storehouses[1], e.storehouses[0]))
		require.NoError(t, swap(e.storehouses[0], e.storehouses[1]))
		assert.ErrorIs(t, swap(e.storehouses[1], e.storehouses[0]), billing.ErrRateLimitExceeded)

		// The first swap on the next UTC day succeeds again.
		e.now = e.now.Add(24 * time.Hour)
		require.NoError(t, swap(e.storehouses[1], e.storehouses[0]))
	})

	t.Run("rejected swaps do not consume the daily budget", func(t *testing.T) {
		e, tenantID := setup(t)

		for range 5 {
			_, err := e.svc.SwapResources(ctx, tenantID, billing.SwapRequest{
				LockStorehouseIDs: []uuid.UUID{e.storehouses[1]},
			})
			require.ErrorIs(t, err, billing.ErrNotNetZero)
		}

		_, err := e.svc.SwapResources(ctx, tenantID, billing.SwapRequest{
			LockStorehouseIDs:   []uuid.UUID{e.storehouses[1]},
			UnlockStorehouseIDs: []uuid.UUID{e.storehouses[0]},
		})
		require.NoError(t, err)
	})
}

func TestResolveDowngrade(t *testing.T) {
	ctx := context.Background()

	// Enterprise tenant with spare capacity and one locked storehouse plus
	// one deactivated user left over from an earlier downgrade.
	setup := func(t *testing.T) (*env, uuid.UUID) {
		e := newEnv(t)
		e.storehouses = newIDs(3)
		e.users = newIDs(3)
		tenantID := e.seed(plans.TierEnterprise, billing.CycleMonthly)

		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		sub.LockedStorehouseIDs = []uuid.UUID{e.storehouses[0]}
		sub.DeactivatedUserIDs = []uuid.UUID{e.users[0]}
		require.NoError(t, e.store.Update(ctx, sub))
		return e, tenantID
	}

	t.Run("unlocks within limits", func(t *testing.T) {
		e, tenantID := setup(t)
		summary, err := e.svc.ResolveDowngrade(ctx, tenantID, billing.ResolveRequest{
			UnlockStorehouseIDs: []uuid.UUID{e.storehouses[0]},
			ReactivateUserIDs:   []uuid.UUID{e.users[0]},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), summary.Usage[plans.DimStorehouses].Current)

		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Empty(t, sub.LockedStorehouseIDs)
		assert.Empty(t, sub.DeactivatedUserIDs)
	})

	t.Run("fails when unlock would exceed limits", func(t *testing.T) {
		e, tenantID := setup(t)
		e.storehouses = newIDs(6) // 5 active at the enterprise cap once unlocked
		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		sub.LockedStorehouseIDs = []uuid.UUID{e.storehouses[0]}
		require.NoError(t, e.store.Update(ctx, sub))

		_, err = e.svc.ResolveDowngrade(ctx, tenantID, billing.ResolveRequest{
			UnlockStorehouseIDs: []uuid.UUID{e.storehouses[0]},
		})
		assert.ErrorIs(t, err, billing.ErrLimitExceeded)
	})

	t.Run("unknown ids are rejected", func(t *testing.T) {
		e, tenantID := setup(t)
		_, err := e.svc.ResolveDowngrade(ctx, tenantID, billing.ResolveRequest{
			UnlockStorehouseIDs: []uuid.UUID{uuid.New()},
		})
		assert.ErrorIs(t, err, billing.ErrSelectionMismatch)
	})
}

func TestEnforceLimits(t *testing.T) {
	ctx := context.Background()

	// Free tenant over limits: 3 storehouses (allowed 1), 3 users (allowed 2).
	setup := func(t *testing.T) (*env, uuid.UUID) {
		e := newEnv(t)
		e.storehouses = newIDs(3)
		e.users = newIDs(3)
		return e, e.seed(plans.TierFree, billing.CycleMonthly)
	}

	t.Run("insufficient selection fails and leaves state unchanged", func(t *testing.T) {
		e, tenantID := setup(t)
		before, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)

		_, err = e.svc.EnforceLimits(ctx, tenantID, billing.Selection{
			LockedStorehouseIDs: e.storehouses[:1], // need 2
			DeactivatedUserIDs:  e.users[:1],
		})
		require.ErrorIs(t, err, billing.ErrStillOverLimit)

		after, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("correct selection ends within limits", func(t *testing.T) {
		e, tenantID := setup(t)
		summary, err := e.svc.EnforceLimits(ctx, tenantID, billing.Selection{
			LockedStorehouseIDs: e.storehouses[:2],
			DeactivatedUserIDs:  e.users[:1],
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), summary.Usage[plans.DimStorehouses].Current)

		over, err := e.svc.IsOverLimit(ctx, tenantID)
		require.NoError(t, err)
		assert.False(t, over)
	})

	t.Run("over-selection is tolerated", func(t *testing.T) {
		e, tenantID := setup(t)
		summary, err := e.svc.EnforceLimits(ctx, tenantID, billing.Selection{
			LockedStorehouseIDs: e.storehouses, // lock all three
			DeactivatedUserIDs:  e.users[:2],
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), summary.Usage[plans.DimStorehouses].Current)
	})
}

func TestCancelAndReactivateSubscription(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel keeps the plan active until period end", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierPro, billing.CycleMonthly)

		sub, err := e.svc.CancelSubscription(ctx, tenantID)
		require.NoError(t, err)
		assert.True(t, sub.IsCanceling())
		assert.Equal(t, plans.TierPro, sub.Tier)

		// Idempotent.
		again, err := e.svc.CancelSubscription(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, sub.CanceledAt, again.CanceledAt)
	})

	t.Run("free tier cannot cancel", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierFree, billing.CycleMonthly)

		_, err := e.svc.CancelSubscription(ctx, tenantID)
		assert.ErrorIs(t, err, billing.ErrInvalidTransition)
	})

	t.Run("reactivate requires a canceling subscription", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierPro, billing.CycleMonthly)

		_, err := e.svc.ReactivateSubscription(ctx, tenantID)
		assert.ErrorIs(t, err, billing.ErrInvalidTransition)

		_, err = e.svc.CancelSubscription(ctx, tenantID)
		require.NoError(t, err)

		sub, err := e.svc.ReactivateSubscription(ctx, tenantID)
		require.NoError(t, err)
		assert.Nil(t, sub.CanceledAt)
	})
}

func TestProcessDueTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("executes expired downgrade within limits", func(t *testing.T) {
		e := newEnv(t)
		e.storehouses = newIDs(2) // fits pro
		tenantID := e.seed(plans.TierEnterprise, billing.CycleMonthly)
		_, err := e.svc.ChangePlan(ctx, tenantID, plans.TierPro, "", nil)
		require.NoError(t, err)

		e.now = e.now.Add(8 * 24 * time.Hour)
		require.NoError(t, e.svc.ProcessDueTransitions(ctx, e.now))

		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, plans.TierPro, sub.Tier)
		assert.Nil(t, sub.EnforcementRequiredAt)
		require.NotNil(t, sub.PendingDowngrade)
		assert.True(t, sub.PendingDowngrade.Executed)

		pd, err := e.svc.PendingDowngrade(ctx, tenantID)
		require.NoError(t, err)
		assert.Nil(t, pd)
	})

	t.Run("flags enforcement when over target limits", func(t *testing.T) {
		e := newEnv(t)
		e.storehouses = newIDs(4) // over pro's limit of 2
		tenantID := e.seed(plans.TierEnterprise, billing.CycleMonthly)
		_, err := e.svc.ChangePlan(ctx, tenantID, plans.TierPro, "", nil)
		require.NoError(t, err)

		e.now = e.now.Add(8 * 24 * time.Hour)
		require.NoError(t, e.svc.ProcessDueTransitions(ctx, e.now))

		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, plans.TierPro, sub.Tier)
		require.NotNil(t, sub.EnforcementRequiredAt)

		// EnforceLimits resolves the flagged state.
		_, err = e.svc.EnforceLimits(ctx, tenantID, billing.Selection{
			LockedStorehouseIDs: e.storehouses[:2],
		})
		require.NoError(t, err)
		sub, err = e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Nil(t, sub.EnforcementRequiredAt)
	})

	t.Run("running twice is idempotent", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierEnterprise, billing.CycleMonthly)
		_, err := e.svc.ChangePlan(ctx, tenantID, plans.TierPro, "", nil)
		require.NoError(t, err)

		e.now = e.now.Add(8 * 24 * time.Hour)
		require.NoError(t, e.svc.ProcessDueTransitions(ctx, e.now))
		first, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)

		require.NoError(t, e.svc.ProcessDueTransitions(ctx, e.now))
		second, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, first.Version, second.Version)
	})

	t.Run("expired cancellation lands on free tier", func(t *testing.T) {
		e := newEnv(t)
		e.storehouses = newIDs(1)
		tenantID := e.seed(plans.TierPro, billing.CycleMonthly)
		_, err := e.svc.CancelSubscription(ctx, tenantID)
		require.NoError(t, err)

		e.now = e.now.AddDate(0, 1, 1)
		require.NoError(t, e.svc.ProcessDueTransitions(ctx, e.now))

		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, plans.TierFree, sub.Tier)
		assert.Equal(t, billing.StatusActive, sub.Status)
		assert.Nil(t, sub.CanceledAt)
		assert.Empty(t, sub.ProviderSubID)
	})

	t.Run("canceled pending downgrade is not executed", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierEnterprise, billing.CycleMonthly)
		_, err := e.svc.ChangePlan(ctx, tenantID, plans.TierPro, "", nil)
		require.NoError(t, err)
		require.NoError(t, e.svc.CancelPendingDowngrade(ctx, tenantID))

		e.now = e.now.Add(8 * 24 * time.Hour)
		require.NoError(t, e.svc.ProcessDueTransitions(ctx, e.now))

		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, plans.TierEnterprise, sub.Tier)
	})
}

func TestOverrides(t *testing.T) {
	ctx := context.Background()

	t.Run("limit override takes precedence over plan default", func(t *testing.T) {
		e := newEnv(t)
		e.storehouses = newIDs(10)
		tenantID := e.seed(plans.TierFree, billing.CycleMonthly)

		over, err := e.svc.IsOverLimit(ctx, tenantID)
		require.NoError(t, err)
		require.True(t, over)

		require.NoError(t, e.svc.SetLimitOverride(ctx, tenantID, plans.DimStorehouses, plans.Unlimited))

		violations, err := e.svc.Violations(ctx, tenantID)
		require.NoError(t, err)
		for _, v := range violations {
			assert.NotEqual(t, plans.DimStorehouses, v.Dimension)
		}

		require.NoError(t, e.svc.ClearLimitOverride(ctx, tenantID, plans.DimStorehouses))
		over, err = e.svc.IsOverLimit(ctx, tenantID)
		require.NoError(t, err)
		assert.True(t, over)
	})

	t.Run("feature override", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierFree, billing.CycleMonthly)

		assert.False(t, e.svc.HasFeature(ctx, tenantID, plans.FeatureTransfers))
		require.NoError(t, e.svc.SetFeatureOverride(ctx, tenantID, plans.FeatureTransfers, true))
		assert.True(t, e.svc.HasFeature(ctx, tenantID, plans.FeatureTransfers))

		require.NoError(t, e.svc.ClearFeatureOverride(ctx, tenantID, plans.FeatureTransfers))
		assert.False(t, e.svc.HasFeature(ctx, tenantID, plans.FeatureTransfers))
	})

	t.Run("validation", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierFree, billing.CycleMonthly)

		assert.ErrorIs(t, e.svc.SetLimitOverride(ctx, tenantID, plans.DimStorehouses, -2), billing.ErrInvalidOverride)
		assert.ErrorIs(t, e.svc.SetLimitOverride(ctx, tenantID, plans.Dimension("gpus"), 1), billing.ErrInvalidDimension)
		assert.ErrorIs(t, e.svc.SetFeatureOverride(ctx, tenantID, plans.Feature("time_travel"), true), billing.ErrInvalidFeature)
	})

	t.Run("clear all", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierFree, billing.CycleMonthly)

		require.NoError(t, e.svc.SetLimitOverride(ctx, tenantID, plans.DimItems, 500))
		require.NoError(t, e.svc.SetFeatureOverride(ctx, tenantID, plans.FeatureCustomRoles, true))
		require.NoError(t, e.svc.ClearOverrides(ctx, tenantID))

		summary, err := e.svc.GetUsageSummary(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, int64(100), summary.Usage[plans.DimItems].Limit)
		assert.False(t, summary.Features[plans.FeatureCustomRoles])
	})
}

func TestCanCreate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.storehouses = newIDs(1)
	e.items = 99
	tenantID := e.seed(plans.TierFree, billing.CycleMonthly)

	assert.ErrorIs(t, e.svc.CanCreate(ctx, tenantID, plans.DimStorehouses), billing.ErrLimitExceeded)
	assert.NoError(t, e.svc.CanCreate(ctx, tenantID, plans.DimItems))

	e.items = 100
	assert.ErrorIs(t, e.svc.CanCreate(ctx, tenantID, plans.DimItems), billing.ErrLimitExceeded)
}

func TestApplyBillingEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("activation enables free to paid upgrade", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierFree, billing.CycleMonthly)

		// Default authorizer: nothing on record yet.
		svcDefault, err := billing.NewService(mustRegistry(t), e.store, billing.NewAggregator(
			billing.WithLister(plans.DimStorehouses, emptyLister),
			billing.WithLister(plans.DimUsers, emptyLister),
			billing.WithCounter(plans.DimItems, zeroCounter),
			billing.WithCounter(plans.DimMonthlyTransactions, zeroCounter),
		))
		require.NoError(t, err)

		_, err = svcDefault.ChangePlan(ctx, tenantID, plans.TierPro, billing.CycleMonthly, nil)
		require.ErrorIs(t, err, billing.ErrPaymentRequired)

		require.NoError(t, svcDefault.ApplyBillingEvent(ctx, billing.Event{
			Type:          billing.EventSubscriptionActivated,
			TenantID:      tenantID,
			Tier:          plans.TierPro,
			Cycle:         billing.CycleMonthly,
			ProviderSubID: "psub_123",
			PaymentMethod: &billing.PaymentMethod{Type: "card", Brand: "visa", Last4: "4242"},
		}))

		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, plans.TierPro, sub.Tier)
		assert.Equal(t, "psub_123", sub.ProviderSubID)
	})

	t.Run("payment failure marks past due", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierPro, billing.CycleMonthly)

		require.NoError(t, e.svc.ApplyBillingEvent(ctx, billing.Event{
			Type:     billing.EventPaymentFailed,
			TenantID: tenantID,
		}))
		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPastDue, sub.Status)

		require.NoError(t, e.svc.ApplyBillingEvent(ctx, billing.Event{
			Type:     billing.EventPaymentSucceeded,
			TenantID: tenantID,
		}))
		sub, err = e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, sub.Status)
	})

	t.Run("provider cancellation starts the run-out period", func(t *testing.T) {
		e := newEnv(t)
		tenantID := e.seed(plans.TierPro, billing.CycleMonthly)

		require.NoError(t, e.svc.ApplyBillingEvent(ctx, billing.Event{
			Type:       billing.EventSubscriptionCanceled,
			TenantID:   tenantID,
			OccurredAt: e.now,
		}))
		sub, err := e.store.Get(ctx, tenantID)
		require.NoError(t, err)
		assert.True(t, sub.IsCanceling())
	})

	t.Run("webhook without provider", func(t *testing.T) {
		e := newEnv(t)
		err := e.svc.HandleWebhook(ctx, []byte(`{}`), "sig")
		assert.ErrorIs(t, err, billing.ErrNoBillingProvider)
	})
}

func mustRegistry(t *testing.T) *plans.Registry {
	t.Helper()
	registry, err := plans.NewRegistry(context.Background(), plans.NewInMemSource(plans.DefaultCatalog()...))
	require.NoError(t, err)
	return registry
}

func emptyLister(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func zeroCounter(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return 0, nil
}
