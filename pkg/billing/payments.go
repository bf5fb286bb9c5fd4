package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warely/warely/pkg/plans"
)

// PaymentAuthorizer gates free-to-paid upgrades: a tenant coming from the
// free tier must have completed payment collection externally before the
// engine applies the paid tier.
type PaymentAuthorizer interface {
	PaymentAuthorized(ctx context.Context, tenantID uuid.UUID, tier plans.Tier, cycle BillingCycle) (bool, error)
}

// PaymentAuthorizerFunc adapts a function to the PaymentAuthorizer interface.
type PaymentAuthorizerFunc func(ctx context.Context, tenantID uuid.UUID, tier plans.Tier, cycle BillingCycle) (bool, error)

func (f PaymentAuthorizerFunc) PaymentAuthorized(ctx context.Context, tenantID uuid.UUID, tier plans.Tier, cycle BillingCycle) (bool, error) {
	return f(ctx, tenantID, tier, cycle)
}

// recordAuthorizer is the default PaymentAuthorizer: a tenant counts as
// authorized once its record carries provider linkage or a payment method,
// both of which are set by the provider's activation webhook.
type recordAuthorizer struct {
	store Store
}

func (a recordAuthorizer) PaymentAuthorized(ctx context.Context, tenantID uuid.UUID, _ plans.Tier, _ BillingCycle) (bool, error) {
	sub, err := a.store.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return sub.ProviderSubID != "" || sub.PaymentMethod != nil, nil
}

// EventType represents the normalized billing event type.
// Each provider implementation maps their specific events to these types.
type EventType string

const (
	EventSubscriptionActivated EventType = "subscription_activated"
	EventSubscriptionUpdated   EventType = "subscription_updated"
	EventSubscriptionCanceled  EventType = "subscription_canceled"
	EventSubscriptionResumed   EventType = "subscription_resumed"
	EventPaymentSucceeded      EventType = "payment_succeeded"
	EventPaymentFailed         EventType = "payment_failed"
)

// Event is a normalized billing event consumed by ApplyBillingEvent.
// Zero-valued fields mean "not reported by the provider".
type Event struct {
	Type          EventType
	TenantID      uuid.UUID
	Tier          plans.Tier
	Cycle         BillingCycle
	ProviderSubID string
	PaymentMethod *PaymentMethod
	PeriodStart   time.Time
	PeriodEnd     time.Time
	OccurredAt    time.Time
	ProviderEvent string         // Original provider event name
	Raw           map[string]any // Full provider payload
}

// BillingProvider is the minimal payment-provider integration surface.
// The provider owns checkout, card collection and proration; the engine only
// creates hosted checkout sessions and consumes normalized webhook events.
type BillingProvider interface {
	// CreateCheckoutLink creates a hosted checkout session for a paid tier.
	CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)

	// ParseWebhook validates the payload signature and returns the
	// normalized event. Must reject unverifiable payloads.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
}

// CheckoutRequest contains data needed to create a checkout session.
type CheckoutRequest struct {
	TenantID   uuid.UUID
	Tier       plans.Tier
	Cycle      BillingCycle
	Email      string // Optional billing email
	SuccessURL string // Redirect after successful payment
	CancelURL  string // Redirect if customer cancels
}

// CheckoutLink represents a hosted checkout session.
type CheckoutLink struct {
	URL       string    `json:"url"`
	SessionID string    `json:"session_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ApplyBillingEvent updates the subscription record from a provider event.
// The provider's confirmation is the source of truth for payment state; plan
// state stays owned by ChangePlan and the scheduler.
func (s *service) ApplyBillingEvent(ctx context.Context, event Event) error {
	if event.TenantID == uuid.Nil {
		return fmt.Errorf("%w: event has no tenant id", ErrNotFound)
	}

	sub, err := s.store.Get(ctx, event.TenantID)
	if err != nil {
		return err
	}

	now := s.now()

	switch event.Type {
	case EventSubscriptionActivated:
		if event.Tier.Valid() {
			sub.Tier = event.Tier
		}
		if event.Cycle.Valid() {
			sub.Cycle = event.Cycle
		}
		sub.Status = StatusActive
		sub.ProviderSubID = event.ProviderSubID
		if event.PaymentMethod != nil {
			sub.PaymentMethod = event.PaymentMethod
		}
		if !event.PeriodStart.IsZero() {
			sub.CurrentPeriodStart = event.PeriodStart
		}
		if !event.PeriodEnd.IsZero() {
			sub.CurrentPeriodEnd = event.PeriodEnd
		}
		sub.CanceledAt = nil
		sub.PendingDowngrade = nil

	case EventSubscriptionUpdated:
		if event.Tier.Valid() {
			sub.Tier = event.Tier
		}
		if event.Cycle.Valid() {
			sub.Cycle = event.Cycle
		}
		if event.ProviderSubID != "" {
			sub.ProviderSubID = event.ProviderSubID
		}
		if event.PaymentMethod != nil {
			sub.PaymentMethod = event.PaymentMethod
		}
		if !event.PeriodStart.IsZero() {
			sub.CurrentPeriodStart = event.PeriodStart
		}
		if !event.PeriodEnd.IsZero() {
			sub.CurrentPeriodEnd = event.PeriodEnd
		}

	case EventSubscriptionCanceled:
		// Provider-side cancellation: run out the paid period, the
		// scheduler lands the tenant on the free tier afterwards.
		canceledAt := event.OccurredAt
		if canceledAt.IsZero() {
			canceledAt = now
		}
		sub.CanceledAt = &canceledAt

	case EventSubscriptionResumed:
		sub.CanceledAt = nil
		sub.Status = StatusActive

	case EventPaymentFailed:
		sub.Status = StatusPastDue

	case EventPaymentSucceeded:
		if sub.Status == StatusPastDue {
			sub.Status = StatusActive
		}
		if !event.PeriodEnd.IsZero() {
			sub.CurrentPeriodEnd = event.PeriodEnd
		}

	default:
		s.log.DebugContext(ctx, "ignoring unhandled billing event",
			"event_type", string(event.Type), "provider_event", event.ProviderEvent)
		return nil
	}

	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return fmt.Errorf("failed to apply billing event: %w", err)
	}
	return nil
}

// HandleWebhook verifies and applies a raw provider webhook payload.
func (s *service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.provider == nil {
		return ErrNoBillingProvider
	}
	event, err := s.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return err
	}
	return s.ApplyBillingEvent(ctx, *event)
}

// CreateCheckoutLink creates a hosted checkout session for a free-tier tenant
// to authorize a paid tier. The activation webhook completes the upgrade.
func (s *service) CreateCheckoutLink(ctx context.Context, tenantID uuid.UUID, tier plans.Tier, cycle BillingCycle, opts CheckoutOptions) (*CheckoutLink, error) {
	if s.provider == nil {
		return nil, ErrNoBillingProvider
	}
	plan, err := s.registry.Get(tier)
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, fmt.Errorf("%w: free tier needs no checkout", ErrInvalidTransition)
	}
	if !cycle.Valid() {
		return nil, ErrInvalidCycle
	}
	if _, err := s.store.Get(ctx, tenantID); err != nil {
		return nil, err
	}

	return s.provider.CreateCheckoutLink(ctx, CheckoutRequest{
		TenantID:   tenantID,
		Tier:       tier,
		Cycle:      cycle,
		Email:      opts.Email,
		SuccessURL: opts.SuccessURL,
		CancelURL:  opts.CancelURL,
	})
}
