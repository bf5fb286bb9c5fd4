package dailylimit

import (
	"context"
	"time"
)

// Store persists per-key, per-day counters.
// The day string identifies the UTC calendar day ("2006-01-02"); expireAt is
// when the counter may be discarded.
type Store interface {
	// Get returns the counter for the key and day; 0 if absent.
	Get(ctx context.Context, key, day string) (int, error)

	// Incr increments the counter for the key and day and returns the new value.
	Incr(ctx context.Context, key, day string, expireAt time.Time) (int, error)

	// Reset removes the counter for the key and day.
	Reset(ctx context.Context, key, day string) error
}
