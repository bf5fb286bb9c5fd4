package billing

import "errors"

var (
	ErrNotFound      = errors.New("subscription not found")
	ErrAlreadyExists = errors.New("subscription already exists")
	ErrConflict      = errors.New("subscription was modified concurrently")

	ErrInvalidTransition       = errors.New("invalid plan transition")
	ErrPendingTransitionExists = errors.New("a pending downgrade already exists")
	ErrSelectionMismatch       = errors.New("resource selection does not match requirements")
	ErrNotNetZero              = errors.New("swap request is not net-zero")
	ErrRateLimitExceeded       = errors.New("daily swap limit exceeded")
	ErrLimitExceeded           = errors.New("operation would exceed plan limits")
	ErrStillOverLimit          = errors.New("tenant remains over plan limits after enforcement")
	ErrPaymentRequired         = errors.New("payment authorization required")

	ErrPlanNotFound     = errors.New("plan not found")
	ErrInvalidCycle     = errors.New("invalid billing cycle")
	ErrInvalidOverride  = errors.New("invalid override value")
	ErrInvalidDimension = errors.New("invalid limit dimension")
	ErrInvalidFeature   = errors.New("invalid feature flag")

	ErrNoCounterRegistered = errors.New("no usage counter registered for dimension")
	ErrNoListerRegistered  = errors.New("no resource lister registered for dimension")
	ErrFailedToCountUsage  = errors.New("failed to count resource usage")

	ErrNoBillingProvider          = errors.New("no billing provider configured")
	ErrWebhookVerificationFailed  = errors.New("webhook signature verification failed")
	ErrNoCheckoutURL              = errors.New("no checkout URL returned from provider")
	ErrMissingAPIKey              = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret       = errors.New("billing provider webhook secret is required")
	ErrInvalidProviderEnvironment = errors.New("invalid billing provider environment")
)
