package http

import (
	"context"
	"net/http"

	"github.com/Strob0t/SiteKeeper/internal/domain/ledger"
	"github.com/Strob0t/SiteKeeper/internal/domain/tenant"
	"github.com/Strob0t/SiteKeeper/internal/tenantctx"
)

// ListTenants handles GET /admin/v1/tenants
func (h *Handlers) ListTenants(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Admin.List())
}

// CreateTenant handles POST /admin/v1/tenants
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[tenant.CreateRequest](w, r)
	if !ok {
		return
	}
	t, err := h.Admin.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// RefreshTenants handles POST /admin/v1/tenants/refresh
func (h *Handlers) RefreshTenants(w http.ResponseWriter, r *http.Request) {
	if err := h.Admin.Refresh(r.Context()); err != nil {
		writeDomainError(w, r, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"tenants": len(h.Admin.List())})
}

// JobStats handles GET /admin/v1/stats/jobs
func (h *Handlers) JobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Admin.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "no stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// RunSyncPass handles POST /admin/v1/reconcile/sync
func (h *Handlers) RunSyncPass(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Admin.RunSyncPass(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "no jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates":  rep.Candidates,
		"checked":     rep.Checked,
		"errors":      rep.Errors,
		"duration_ms": rep.Duration.Milliseconds(),
	})
}

// RunTimeoutPass handles POST /admin/v1/reconcile/timeouts
func (h *Handlers) RunTimeoutPass(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Admin.RunTimeoutPass(r.Context())
	if err != nil {
		writeDomainError(w, r, err, "no jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates":   rep.Candidates,
		"timed_out":    rep.TimedOut,
		"refunded":     rep.Refunded,
		"refund_total": rep.RefundTotal,
		"errors":       rep.Errors,
		"duration_ms":  rep.Duration.Milliseconds(),
	})
}

type rechargeRequest struct {
	Amount int64  `json:"amount"`
	Remark string `json:"remark"`
}

// RechargeUser handles POST /admin/v1/tenants/{tenantID}/users/{id}/recharge
func (h *Handlers) RechargeUser(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := idParam(w, r, "tenantID")
	if !ok {
		return
	}
	userID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := readJSON[rechargeRequest](w, r)
	if !ok {
		return
	}

	var entry *ledger.Entry
	err := tenantctx.Scope(r.Context(), tenantID, func(ctx context.Context) error {
		var err error
		entry, err = h.Jobs.Recharge(ctx, userID, req.Amount, req.Remark)
		return err
	})
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
