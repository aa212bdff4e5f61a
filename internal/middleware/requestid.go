// Package middleware provides HTTP middleware for SiteKeeper.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/SiteKeeper/internal/logger"
)

const (
	headerRequestID  = "X-Request-ID"
	maxRequestIDSize = 128
)

// RequestID is HTTP middleware that extracts X-Request-ID from the request
// header or generates a new one. The ID is stored in the context and set
// on the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" || len(id) > maxRequestIDSize {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
