package billing

import (
	"log/slog"
	"time"

	"github.com/warely/warely/pkg/dailylimit"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithPaymentAuthorizer replaces the default record-backed authorizer that
// gates free-to-paid upgrades.
func WithPaymentAuthorizer(authorizer PaymentAuthorizer) ServiceOption {
	return func(s *service) {
		if authorizer != nil {
			s.authorizer = authorizer
		}
	}
}

// WithBillingProvider attaches a payment provider for checkout links and
// webhook parsing. Without one, HandleWebhook and CreateCheckoutLink return
// ErrNoBillingProvider.
func WithBillingProvider(provider BillingProvider) ServiceOption {
	return func(s *service) {
		if provider != nil {
			s.provider = provider
		}
	}
}

// WithSwapLimiter replaces the default in-memory daily swap limiter.
// Use a Redis-backed limiter when running more than one instance.
func WithSwapLimiter(limiter *dailylimit.Limiter) ServiceOption {
	return func(s *service) {
		if limiter != nil {
			s.swapLimiter = limiter
		}
	}
}

// WithGracePeriod sets how long a scheduled paid-to-paid downgrade waits
// before executing. Non-positive values are ignored.
func WithGracePeriod(d time.Duration) ServiceOption {
	return func(s *service) {
		if d > 0 {
			s.gracePeriod = d
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger for transition and scheduler events.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}
