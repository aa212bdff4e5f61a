package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/SiteKeeper/internal/domain"
	"github.com/Strob0t/SiteKeeper/internal/domain/user"
)

type staticAdmins map[string]*user.Admin

func (s staticAdmins) ValidateAdminKey(_ context.Context, key string) (*user.Admin, error) {
	a, ok := s[key]
	if !ok {
		return nil, domain.ErrInvalidCredentials
	}
	return a, nil
}

func TestAdminKey(t *testing.T) {
	admins := staticAdmins{"ska_good": {ID: 7, Name: "ops"}}

	tests := []struct {
		name     string
		key      string
		wantCode int
	}{
		{"valid key", "ska_good", http.StatusOK},
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "ska_bad", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *user.Admin
			h := AdminKey(admins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = AdminFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/admin/tenants", http.NoBody)
			if tt.key != "" {
				req.Header.Set("X-Admin-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK && (got == nil || got.ID != 7) {
				t.Fatalf("admin not in context: %+v", got)
			}
		})
	}
}
