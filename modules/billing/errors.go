package billing

import (
	"errors"
	"net/http"

	"github.com/warely/warely/binder"
	"github.com/warely/warely/core"
	engine "github.com/warely/warely/pkg/billing"
	"github.com/warely/warely/pkg/plans"
)

// mapError translates engine and binder errors into core.HTTPError values so
// the JSON envelope carries a stable machine-readable key.
func mapError(err error) error {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return core.NewHTTPError(http.StatusNotFound, "subscription_not_found")
	case errors.Is(err, plans.ErrPlanNotFound):
		return core.NewHTTPError(http.StatusNotFound, "plan_not_found")

	case errors.Is(err, engine.ErrPaymentRequired):
		return core.NewHTTPError(http.StatusPaymentRequired, "payment_required")

	case errors.Is(err, engine.ErrAlreadyExists):
		return core.NewHTTPError(http.StatusConflict, "subscription_exists")
	case errors.Is(err, engine.ErrPendingTransitionExists):
		return core.NewHTTPError(http.StatusConflict, "pending_downgrade_exists")
	case errors.Is(err, engine.ErrConflict):
		return core.NewHTTPError(http.StatusConflict, "conflict_retry")

	case errors.Is(err, engine.ErrRateLimitExceeded):
		return core.NewHTTPError(http.StatusTooManyRequests, "swap_limit_exceeded")

	case errors.Is(err, engine.ErrInvalidTransition):
		return core.NewHTTPError(http.StatusUnprocessableEntity, "invalid_transition")
	case errors.Is(err, engine.ErrSelectionMismatch):
		return core.NewHTTPError(http.StatusUnprocessableEntity, "selection_mismatch")
	case errors.Is(err, engine.ErrNotNetZero):
		return core.NewHTTPError(http.StatusUnprocessableEntity, "not_net_zero")
	case errors.Is(err, engine.ErrLimitExceeded):
		return core.NewHTTPError(http.StatusUnprocessableEntity, "limit_exceeded")
	case errors.Is(err, engine.ErrStillOverLimit):
		return core.NewHTTPError(http.StatusUnprocessableEntity, "still_over_limit")
	case errors.Is(err, engine.ErrInvalidCycle):
		return core.NewHTTPError(http.StatusUnprocessableEntity, "invalid_cycle")
	case errors.Is(err, engine.ErrInvalidOverride):
		return core.NewHTTPError(http.StatusUnprocessableEntity, "invalid_override")
	case errors.Is(err, engine.ErrInvalidDimension):
		return core.NewHTTPError(http.StatusUnprocessableEntity, "invalid_dimension")
	case errors.Is(err, engine.ErrInvalidFeature):
		return core.NewHTTPError(http.StatusUnprocessableEntity, "invalid_feature")

	case errors.Is(err, engine.ErrNoBillingProvider):
		return core.NewHTTPError(http.StatusNotImplemented, "billing_provider_not_configured")
	case errors.Is(err, engine.ErrWebhookVerificationFailed):
		return core.NewHTTPError(http.StatusUnauthorized, "invalid_webhook_signature")

	case errors.Is(err, binder.ErrInvalidJSON),
		errors.Is(err, binder.ErrMissingContentType),
		errors.Is(err, binder.ErrUnsupportedMediaType):
		return core.NewHTTPError(http.StatusBadRequest, "invalid_request_body")

	default:
		return err
	}
}
