package billing

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warely/warely/binder"
	"github.com/warely/warely/core"
	engine "github.com/warely/warely/pkg/billing"
	"github.com/warely/warely/pkg/plans"
)

type handlers struct {
	svc engine.Service
	log *slog.Logger
}

func (h *handlers) render(w http.ResponseWriter, r *http.Request, resp core.Response) {
	if err := resp.Render(w, r); err != nil {
		h.log.ErrorContext(r.Context(), "failed to render response", "error", err)
	}
}

func (h *handlers) renderError(w http.ResponseWriter, r *http.Request, err error) {
	h.render(w, r, core.JSONError(mapError(err)))
}

func tenantID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "tenantID"))
}

// ChangePlanRequest selects the target plan, optionally a new billing cycle
// and, for an immediate downgrade to free, the exact resources to lock.
type ChangePlanRequest struct {
	Plan                string      `json:"plan"`
	Cycle               string      `json:"cycle,omitempty"`
	LockedStorehouseIDs []uuid.UUID `json:"locked_storehouse_ids,omitempty"`
	DeactivatedUserIDs  []uuid.UUID `json:"deactivated_user_ids,omitempty"`
}

type ResolveDowngradeRequest struct {
	UnlockStorehouseIDs []uuid.UUID `json:"unlock_storehouse_ids,omitempty"`
	ReactivateUserIDs   []uuid.UUID `json:"reactivate_user_ids,omitempty"`
}

type SwapRequest struct {
	LockStorehouseIDs   []uuid.UUID `json:"lock_storehouse_ids,omitempty"`
	UnlockStorehouseIDs []uuid.UUID `json:"unlock_storehouse_ids,omitempty"`
	DeactivateUserIDs   []uuid.UUID `json:"deactivate_user_ids,omitempty"`
	ReactivateUserIDs   []uuid.UUID `json:"reactivate_user_ids,omitempty"`
}

type EnforceLimitsRequest struct {
	LockedStorehouseIDs []uuid.UUID `json:"locked_storehouse_ids,omitempty"`
	DeactivatedUserIDs  []uuid.UUID `json:"deactivated_user_ids,omitempty"`
}

type LimitOverrideRequest struct {
	Value int64 `json:"value"`
}

type FeatureOverrideRequest struct {
	Enabled bool `json:"enabled"`
}

type CheckoutRequest struct {
	Plan       string `json:"plan"`
	Cycle      string `json:"cycle"`
	Email      string `json:"email,omitempty"`
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

func (h *handlers) provision(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	sub, err := h.svc.Provision(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	summary, err := h.svc.GetUsageSummary(r.Context(), sub.TenantID)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSONStatus(http.StatusCreated, "subscription_created", summary))
}

func (h *handlers) getSummary(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	summary, err := h.svc.GetUsageSummary(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSON("subscription", summary, nil))
}

func (h *handlers) violations(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	violations, err := h.svc.Violations(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSON("violations", violations, nil))
}

func (h *handlers) changePlan(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	var req ChangePlanRequest
	if err := binder.BindJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}

	var sel *engine.Selection
	if len(req.LockedStorehouseIDs) > 0 || len(req.DeactivatedUserIDs) > 0 {
		sel = &engine.Selection{
			LockedStorehouseIDs: req.LockedStorehouseIDs,
			DeactivatedUserIDs:  req.DeactivatedUserIDs,
		}
	}

	summary, err := h.svc.ChangePlan(r.Context(), id, plans.Tier(req.Plan), engine.BillingCycle(req.Cycle), sel)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSON("subscription", summary, nil))
}

func (h *handlers) downgradeRequirements(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	target := plans.Tier(r.URL.Query().Get("plan"))
	req, err := h.svc.DowngradeRequirements(r.Context(), id, target)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSON("downgrade_requirements", req, nil))
}

func (h *handlers) pendingDowngrade(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	pd, err := h.svc.PendingDowngrade(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSON("pending_downgrade", pd, nil))
}

func (h *handlers) cancelPendingDowngrade(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	if err := h.svc.CancelPendingDowngrade(r.Context(), id); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSONStatus(http.StatusNoContent, "", nil))
}

func (h *handlers) resolveDowngrade(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	var req ResolveDowngradeRequest
	if err := binder.BindJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	summary, err := h.svc.ResolveDowngrade(r.Context(), id, engine.ResolveRequest{
		UnlockStorehouseIDs: req.UnlockStorehouseIDs,
		ReactivateUserIDs:   req.ReactivateUserIDs,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSON("subscription", summary, nil))
}

func (h *handlers) swapCandidates(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	candidates, err := h.svc.SwapCandidates(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSON("swap_candidates", candidates, nil))
}

func (h *handlers) swap(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	var req SwapRequest
	if err := binder.BindJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	summary, err := h.svc.SwapResources(r.Context(), id, engine.SwapRequest{
		LockStorehouseIDs:   req.LockStorehouseIDs,
		UnlockStorehouseIDs: req.UnlockStorehouseIDs,
		DeactivateUserIDs:   req.DeactivateUserIDs,
		ReactivateUserIDs:   req.ReactivateUserIDs,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSON("subscription", summary, nil))
}

func (h *handlers) enforceLimits(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	var req EnforceLimitsRequest
	if err := binder.BindJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	summary, err := h.svc.EnforceLimits(r.Context(), id, engine.Selection{
		LockedStorehouseIDs: req.LockedStorehouseIDs,
		DeactivatedUserIDs:  req.DeactivatedUserIDs,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSON("subscription", summary, nil))
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	sub, err := h.svc.CancelSubscription(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSON("subscription_canceled", map[string]any{
		"tier":               sub.Tier,
		"canceled_at":        sub.CanceledAt,
		"current_period_end": sub.CurrentPeriodEnd,
	}, nil))
}

func (h *handlers) reactivate(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	sub, err := h.svc.ReactivateSubscription(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSON("subscription_reactivated", map[string]any{
		"tier":               sub.Tier,
		"current_period_end": sub.CurrentPeriodEnd,
	}, nil))
}

func (h *handlers) checkout(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	var req CheckoutRequest
	if err := binder.BindJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	link, err := h.svc.CreateCheckoutLink(r.Context(), id,
		plans.Tier(req.Plan), engine.BillingCycle(req.Cycle), engine.CheckoutOptions{
			Email:      req.Email,
			SuccessURL: req.SuccessURL,
			CancelURL:  req.CancelURL,
		})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSON("checkout_link", link, nil))
}

func (h *handlers) setLimitOverride(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	var req LimitOverrideRequest
	if err := binder.BindJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	dim := plans.Dimension(chi.URLParam(r, "dimension"))
	if err := h.svc.SetLimitOverride(r.Context(), id, dim, req.Value); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSONStatus(http.StatusNoContent, "", nil))
}

func (h *handlers) clearLimitOverride(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	dim := plans.Dimension(chi.URLParam(r, "dimension"))
	if err := h.svc.ClearLimitOverride(r.Context(), id, dim); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSONStatus(http.StatusNoContent, "", nil))
}

func (h *handlers) setFeatureOverride(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	var req FeatureOverrideRequest
	if err := binder.BindJSON(r, &req); err != nil {
		h.renderError(w, r, err)
		return
	}
	f := plans.Feature(chi.URLParam(r, "feature"))
	if err := h.svc.SetFeatureOverride(r.Context(), id, f, req.Enabled); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSONStatus(http.StatusNoContent, "", nil))
}

func (h *handlers) clearFeatureOverride(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	f := plans.Feature(chi.URLParam(r, "feature"))
	if err := h.svc.ClearFeatureOverride(r.Context(), id, f); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSONStatus(http.StatusNoContent, "", nil))
}

func (h *handlers) clearOverrides(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	if err := h.svc.ClearOverrides(r.Context(), id); err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSONStatus(http.StatusNoContent, "", nil))
}

func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.render(w, r, core.JSONError(core.ErrBadRequest))
		return
	}
	signature := r.Header.Get("Paddle-Signature")
	if err := h.svc.HandleWebhook(r.Context(), payload, signature); err != nil {
		h.log.ErrorContext(r.Context(), "failed to process billing webhook", "error", err)
		h.renderError(w, r, err)
		return
	}
	h.render(w, r, core.JSON("ok", nil, nil))
}
