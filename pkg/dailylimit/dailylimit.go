package dailylimit

import (
	"context"
	"time"
)

// Result describes the state of a key's daily budget.
type Result struct {
	Count   int       // Hits recorded so far today
	Limit   int       // Maximum hits per UTC day
	ResetAt time.Time // Next UTC midnight, when the counter resets
}

// Allowed reports whether another hit fits in today's budget.
func (r *Result) Allowed() bool {
	return r.Count < r.Limit
}

// Remaining returns the hits left in today's budget.
func (r *Result) Remaining() int {
	if rem := r.Limit - r.Count; rem > 0 {
		return rem
	}
	return 0
}

// Limiter counts hits per key per UTC calendar day.
type Limiter struct {
	store Store
	limit int
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Limiter with the given store and per-day budget.
func New(store Store, limit int, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	l := &Limiter{
		store: store,
		limit: limit,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Status returns the key's current budget without consuming a hit.
func (l *Limiter) Status(ctx context.Context, key string) (*Result, error) {
	day, reset := window(l.now())
	count, err := l.store.Get(ctx, key, day)
	if err != nil {
		return nil, err
	}
	return &Result{Count: count, Limit: l.limit, ResetAt: reset}, nil
}

// Hit records one hit against the key's budget and returns the new state.
// Hit does not enforce the limit; check Status (or the returned Result) first.
func (l *Limiter) Hit(ctx context.Context, key string) (*Result, error) {
	day, reset := window(l.now())
	count, err := l.store.Incr(ctx, key, day, reset)
	if err != nil {
		return nil, err
	}
	return &Result{Count: count, Limit: l.limit, ResetAt: reset}, nil
}

// Reset clears the key's counter for the current UTC day.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	day, _ := window(l.now())
	return l.store.Reset(ctx, key, day)
}

// window returns the UTC day identifier and the moment the counter resets.
func window(now time.Time) (day string, resetAt time.Time) {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Format("2006-01-02"), midnight.AddDate(0, 0, 1)
}
