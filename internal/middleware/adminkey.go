package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Strob0t/SiteKeeper/internal/domain"
	"github.com/Strob0t/SiteKeeper/internal/domain/user"
)

const headerAdminKey = "X-Admin-Key"

// AdminValidator resolves an admin key to its account.
type AdminValidator interface {
	ValidateAdminKey(ctx context.Context, key string) (*user.Admin, error)
}

type adminCtxKey struct{}

// AdminKey rejects requests without a valid X-Admin-Key header and stores
// the admin in the request context.
func AdminKey(v AdminValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, err := v.ValidateAdminKey(r.Context(), r.Header.Get(headerAdminKey))
			if err != nil {
				if !errors.Is(err, domain.ErrInvalidCredentials) {
					slog.ErrorContext(r.Context(), "admin key validation failed", "error", err)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid admin key"}`))
				return
			}
			ctx := context.WithValue(r.Context(), adminCtxKey{}, a)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminFromContext returns the admin installed by AdminKey.
func AdminFromContext(ctx context.Context) (*user.Admin, bool) {
	a, ok := ctx.Value(adminCtxKey{}).(*user.Admin)
	return a, ok
}
