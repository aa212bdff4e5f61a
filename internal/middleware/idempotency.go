package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Strob0t/SiteKeeper/internal/port/cache"
	"github.com/Strob0t/SiteKeeper/internal/tenantctx"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyBody   = 1 << 20 // 1 MB
)

// idempotencyEntry stores a cached HTTP response. A Pending entry holds the
// key while the first request is still being handled.
type idempotencyEntry struct {
	Pending    bool                `json:"pending,omitempty"`
	StatusCode int                 `json:"status_code,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       []byte              `json:"body,omitempty"`
}

var pendingEntry = []byte(`{"pending":true}`)

// Idempotency returns middleware that replays the stored response for a
// repeated POST/PUT/DELETE carrying the same Idempotency-Key. Keys are scoped
// to the tenant, method and path, so two sites can never see each other's
// responses.
//
// The key is claimed atomically before the handler runs, so of several
// concurrent requests with one key only the first is executed; the others
// get 409 until it finishes. Server errors release the key and may be
// retried.
func Idempotency(store cache.Reserver, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			raw := r.Header.Get(headerIdempotencyKey)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := idempotencyCacheKey(r, raw)
			ctx := r.Context()

			claimed, err := store.SetIfAbsent(ctx, key, pendingEntry, ttl)
			if err != nil {
				slog.WarnContext(ctx, "idempotency: claim failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !claimed {
				replayOrConflict(w, r, store, key)
				return
			}

			stored := false
			defer func() {
				if !stored {
					if err := store.Delete(context.WithoutCancel(ctx), key); err != nil {
						slog.WarnContext(ctx, "idempotency: failed to release key", "key", key, "error", err)
					}
				}
			}()

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= http.StatusInternalServerError || rec.body.Len() > maxIdempotencyBody {
				return
			}
			data, err := json.Marshal(idempotencyEntry{
				StatusCode: rec.statusCode,
				Headers:    w.Header().Clone(),
				Body:       rec.body.Bytes(),
			})
			if err != nil {
				return
			}
			if err := store.Set(ctx, key, data, ttl); err != nil {
				slog.WarnContext(ctx, "idempotency: failed to store response", "key", key, "error", err)
				return
			}
			stored = true
		})
	}
}

// replayOrConflict answers a request whose key is already claimed: with the
// stored response once there is one, else 409.
func replayOrConflict(w http.ResponseWriter, r *http.Request, store cache.Cache, key string) {
	data, ok, err := store.Get(r.Context(), key)
	if err != nil {
		slog.WarnContext(r.Context(), "idempotency: lookup failed", "error", err)
	}
	var cached idempotencyEntry
	if err == nil && ok {
		if err := json.Unmarshal(data, &cached); err != nil {
			slog.WarnContext(r.Context(), "idempotency: corrupt cache entry", "key", key)
		}
	}
	if cached.Pending || cached.StatusCode == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"a request with this idempotency key is in progress"}`))
		return
	}
	for k, vals := range cached.Headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(headerReplayed, "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

func idempotencyCacheKey(r *http.Request, raw string) string {
	scope := "none"
	if id, ok := tenantctx.Current(r.Context()); ok {
		scope = strconv.FormatInt(id, 10)
	}
	sum := sha256.Sum256([]byte(r.Method + " " + r.URL.Path + " " + raw))
	return "idem:" + scope + ":" + hex.EncodeToString(sum[:])
}

// responseRecorder wraps http.ResponseWriter to capture the response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
