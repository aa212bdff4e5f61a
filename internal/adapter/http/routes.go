package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteOptions carries the middleware that differs between the tenant and
// admin APIs.
type RouteOptions struct {
	// Tenant resolves the request's tenant. Applied to /api/v1 only.
	Tenant func(http.Handler) http.Handler
	// RateLimit, Idempotency and AdminAuth are optional.
	RateLimit   func(http.Handler) http.Handler
	Idempotency func(http.Handler) http.Handler
	AdminAuth   func(http.Handler) http.Handler
}

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Route("/api/v1", func(r chi.Router) {
		if opts.Tenant != nil {
			r.Use(opts.Tenant)
		}
		r.Use(Logger)
		if opts.RateLimit != nil {
			r.Use(opts.RateLimit)
		}
		if opts.Idempotency != nil {
			r.Use(opts.Idempotency)
		}

		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})
		r.Get("/tenant", h.CurrentTenant)

		// Auth
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		// Jobs
		r.Post("/jobs", h.SubmitJob)
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{id}", h.GetJob)
		r.Post("/jobs/{id}/sync", h.SyncJob)

		// Balance
		r.Get("/users/{id}/balance", h.GetBalance)
		r.Get("/users/{id}/ledger", h.ListLedger)

		if h.WS != nil {
			r.Get("/ws", h.WS)
		}
	})

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(Logger)
		if opts.AdminAuth != nil {
			r.Use(opts.AdminAuth)
		}

		r.Get("/tenants", h.ListTenants)
		r.Post("/tenants", h.CreateTenant)
		r.Post("/tenants/refresh", h.RefreshTenants)
		r.Post("/tenants/{tenantID}/users/{id}/recharge", h.RechargeUser)
		r.Get("/stats/jobs", h.JobStats)
		r.Post("/reconcile/sync", h.RunSyncPass)
		r.Post("/reconcile/timeouts", h.RunTimeoutPass)
	})
}
