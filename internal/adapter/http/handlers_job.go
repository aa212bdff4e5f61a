package http

import (
	"net/http"

	"github.com/Strob0t/SiteKeeper/internal/service"
	"github.com/Strob0t/SiteKeeper/internal/tenantctx"
)

// CurrentTenant handles GET /api/v1/tenant
func (h *Handlers) CurrentTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := tenantctx.Current(r.Context())
	if !ok {
		writeError(w, http.StatusNotFound, "tenant not resolved")
		return
	}
	t, known := h.Directory.ByID(id)
	if !known {
		writeError(w, http.StatusNotFound, "tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// SubmitJob handles POST /api/v1/jobs
func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.SubmitRequest](w, r)
	if !ok {
		return
	}
	j, err := h.Jobs.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

// ListJobs handles GET /api/v1/jobs?user_id=&limit=
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID := int64(queryInt(r, "user_id", 0))
	if userID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	jobs, err := h.Jobs.List(r.Context(), userID, queryInt(r, "limit", 0))
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// GetJob handles GET /api/v1/jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	j, err := h.Jobs.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// SyncJob handles POST /api/v1/jobs/{id}/sync
func (h *Handlers) SyncJob(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	j, err := h.Jobs.Sync(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// GetBalance handles GET /api/v1/users/{id}/balance
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	u, err := h.Jobs.Balance(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"user_id": u.ID, "balance": u.Balance})
}

// ListLedger handles GET /api/v1/users/{id}/ledger
func (h *Handlers) ListLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.Jobs.Ledger(r.Context(), id, queryInt(r, "limit", 0))
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
