package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warely/warely/pkg/plans"
)

// MemoryStore is an in-memory Store for tests and single-node setups.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

// NewMemoryStore creates an empty in-memory subscription store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[uuid.UUID]*Subscription)}
}

func (m *MemoryStore) Get(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[sub.TenantID]; exists {
		return ErrAlreadyExists
	}
	sub.Version = 1
	m.subs[sub.TenantID] = sub.Clone()
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.subs[sub.TenantID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != sub.Version {
		return ErrConflict
	}
	sub.Version++
	m.subs[sub.TenantID] = sub.Clone()
	return nil
}

func (m *MemoryStore) ListDuePendingDowngrades(ctx context.Context, now time.Time) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Subscription
	for _, sub := range m.subs {
		if sub.HasPendingDowngrade() && !sub.PendingDowngrade.GracePeriodEndsAt.After(now) {
			out = append(out, sub.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) ListExpiredCancellations(ctx context.Context, now time.Time) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Subscription
	for _, sub := range m.subs {
		if sub.IsCanceling() && sub.Tier != plans.TierFree && !sub.CurrentPeriodEnd.After(now) {
			out = append(out, sub.Clone())
		}
	}
	return out, nil
}
