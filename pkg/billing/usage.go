package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/warely/warely/pkg/plans"
)

// CounterFunc returns the current usage for a tenant dimension.
// Must be fast and ideally cached as it's called on every summary read.
// Consider implementing counters with database aggregates or cached values.
type CounterFunc func(ctx context.Context, tenantID uuid.UUID) (int64, error)

// ListerFunc returns the ids of a tenant's resources for a dimension.
// Used for dimensions resolved by locking/deactivating individual resources,
// where the engine needs the ids and not just a count.
type ListerFunc func(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)

// Aggregator computes live resource counts from the domain data stores.
// Countable dimensions (items, monthly transactions) register a CounterFunc;
// selectable dimensions (storehouses, users) register a ListerFunc.
type Aggregator struct {
	counters map[plans.Dimension]CounterFunc
	listers  map[plans.Dimension]ListerFunc
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithCounter registers a counter function for a dimension.
// Panics if a counter for the same dimension has already been registered
// to prevent accidental overwrites and ensure explicit configuration.
func WithCounter(dim plans.Dimension, fn CounterFunc) AggregatorOption {
	return func(a *Aggregator) {
		if fn == nil {
			return
		}
		if _, exists := a.counters[dim]; exists {
			panic("billing: counter for dimension " + string(dim) + " already registered")
		}
		a.counters[dim] = fn
	}
}

// WithLister registers a resource id lister for a dimension.
// Panics on duplicate registration, same as WithCounter.
func WithLister(dim plans.Dimension, fn ListerFunc) AggregatorOption {
	return func(a *Aggregator) {
		if fn == nil {
			return
		}
		if _, exists := a.listers[dim]; exists {
			panic("billing: lister for dimension " + string(dim) + " already registered")
		}
		a.listers[dim] = fn
	}
}

// NewAggregator creates an Aggregator with the given collaborators.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		counters: make(map[plans.Dimension]CounterFunc),
		listers:  make(map[plans.Dimension]ListerFunc),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Count returns the current usage for a dimension. Falls back to the lister's
// id count when no counter is registered.
func (a *Aggregator) Count(ctx context.Context, tenantID uuid.UUID, dim plans.Dimension) (int64, error) {
	if counter, ok := a.counters[dim]; ok {
		current, err := counter(ctx, tenantID)
		if err != nil {
			return 0, errors.Join(ErrFailedToCountUsage, err)
		}
		return current, nil
	}
	if lister, ok := a.listers[dim]; ok {
		ids, err := lister(ctx, tenantID)
		if err != nil {
			return 0, errors.Join(ErrFailedToCountUsage, err)
		}
		return int64(len(ids)), nil
	}
	return 0, ErrNoCounterRegistered
}

// List returns the resource ids for a selectable dimension.
func (a *Aggregator) List(ctx context.Context, tenantID uuid.UUID, dim plans.Dimension) ([]uuid.UUID, error) {
	lister, ok := a.listers[dim]
	if !ok {
		return nil, ErrNoListerRegistered
	}
	ids, err := lister(ctx, tenantID)
	if err != nil {
		return nil, errors.Join(ErrFailedToCountUsage, err)
	}
	return ids, nil
}
