package http

import (
	"net/http"

	"github.com/Strob0t/SiteKeeper/internal/domain/user"
	"github.com/Strob0t/SiteKeeper/internal/tenantctx"
)

// Register handles POST /api/v1/auth/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.CreateRequest](w, r)
	if !ok {
		return
	}
	// Public sign-up always lands in the resolved tenant.
	if _, resolved := tenantctx.Current(r.Context()); !resolved {
		writeError(w, http.StatusForbidden, "tenant not resolved")
		return
	}
	req.TenantID = nil
	u, err := h.Auth.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err, "tenant not found")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.LoginRequest](w, r)
	if !ok {
		return
	}
	u, err := h.Auth.Login(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}
