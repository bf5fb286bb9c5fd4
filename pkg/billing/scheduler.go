package billing

import (
	"context"
	"log/slog"
	"time"
)

const defaultSchedulerInterval = time.Minute

// Scheduler periodically executes due plan transitions: expired pending
// downgrades and paid subscriptions whose cancellation period ran out.
type Scheduler struct {
	service  Service
	interval time.Duration
	log      *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets how often due transitions are checked.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSchedulerLogger sets the scheduler's logger.
func WithSchedulerLogger(log *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// NewScheduler creates a Scheduler driving the service's due transitions.
// Panics if service is nil to fail fast during initialization.
func NewScheduler(service Service, opts ...SchedulerOption) *Scheduler {
	if service == nil {
		panic("billing: service is required")
	}
	s := &Scheduler{
		service:  service,
		interval: defaultSchedulerInterval,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks, processing due transitions every interval until ctx is done.
// A failed pass is logged and retried on the next tick; transitions are
// idempotent so overlap with on-demand processing is harmless.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.InfoContext(ctx, "transition scheduler started", "interval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "transition scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.service.ProcessDueTransitions(ctx, time.Now().UTC()); err != nil {
				s.log.ErrorContext(ctx, "failed to process due transitions", "error", err)
			}
		}
	}
}
