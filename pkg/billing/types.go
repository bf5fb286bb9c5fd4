package billing

import "github.com/google/uuid"

// BillingCycle represents the billing frequency for a paid subscription.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleAnnual  BillingCycle = "annual"
)

// Valid reports whether the cycle is one of the known billing cycles.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleAnnual
}

// Status represents the current state of a subscription.
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// PaymentMethod is a display-only summary of the tenant's payment instrument.
// The billing provider holds the real details.
type PaymentMethod struct {
	Type        string `json:"type"` // card, paypal, ...
	Brand       string `json:"brand,omitempty"`
	Last4       string `json:"last4,omitempty"`
	ExpiryMonth int    `json:"expiry_month,omitempty"`
	ExpiryYear  int    `json:"expiry_year,omitempty"`
}

// Selection names the resources to lock/deactivate for a downgrade or
// an enforcement pass.
type Selection struct {
	LockedStorehouseIDs []uuid.UUID
	DeactivatedUserIDs  []uuid.UUID
}

// ResolveRequest names the resources to unlock/reactivate after an upgrade
// freed capacity. Purely additive.
type ResolveRequest struct {
	UnlockStorehouseIDs []uuid.UUID
	ReactivateUserIDs   []uuid.UUID
}

// SwapRequest describes a net-zero resource exchange: each pair must change
// both sides by the same count.
type SwapRequest struct {
	LockStorehouseIDs   []uuid.UUID
	UnlockStorehouseIDs []uuid.UUID
	DeactivateUserIDs   []uuid.UUID
	ReactivateUserIDs   []uuid.UUID
}

// CheckoutOptions contains options for creating a hosted checkout session.
type CheckoutOptions struct {
	Email      string // Pre-fill billing email if known
	SuccessURL string // Redirect after successful payment
	CancelURL  string // Redirect if customer cancels
}
