// Package billing exposes the subscription engine over HTTP: summary reads,
// plan transitions, resource swaps, override administration and the payment
// provider webhook.
package billing

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	engine "github.com/warely/warely/pkg/billing"
)

// Router mounts the subscription endpoints.
//
//	r := chi.NewRouter()
//	r.Mount("/", billing.Router(svc, logger))
//
// Override routes mutate arbitrary tenants and must sit behind an admin
// authorization middleware at the mount point.
func Router(svc engine.Service, log *slog.Logger) chi.Router {
	if svc == nil {
		panic("billing: service is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	h := &handlers{svc: svc, log: log}

	r := chi.NewRouter()

	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Route("/subscription", func(r chi.Router) {
			r.Post("/", h.provision)
			r.Get("/", h.getSummary)
			r.Get("/violations", h.violations)
			r.Post("/change-plan", h.changePlan)
			r.Get("/downgrade-requirements", h.downgradeRequirements)
			r.Get("/pending-downgrade", h.pendingDowngrade)
			r.Post("/cancel-pending-downgrade", h.cancelPendingDowngrade)
			r.Post("/resolve-downgrade", h.resolveDowngrade)
			r.Get("/swap-candidates", h.swapCandidates)
			r.Post("/swap", h.swap)
			r.Post("/enforce-limits", h.enforceLimits)
			r.Post("/cancel", h.cancel)
			r.Post("/reactivate", h.reactivate)
			r.Post("/checkout", h.checkout)
		})

		r.Route("/overrides", func(r chi.Router) {
			r.Put("/limits/{dimension}", h.setLimitOverride)
			r.Delete("/limits/{dimension}", h.clearLimitOverride)
			r.Put("/features/{feature}", h.setFeatureOverride)
			r.Delete("/features/{feature}", h.clearFeatureOverride)
			r.Delete("/", h.clearOverrides)
		})
	})

	r.Post("/webhooks/billing", h.webhook)

	return r
}
