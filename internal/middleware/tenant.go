package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Strob0t/SiteKeeper/internal/domain/tenant"
	"github.com/Strob0t/SiteKeeper/internal/tenantctx"
)

// DefaultTenantHeader carries an explicit tenant id.
const DefaultTenantHeader = "X-Tenant-ID"

const headerForwardedHost = "X-Forwarded-Host"

// TenantLookup is the subset of the tenant directory the resolver needs.
type TenantLookup interface {
	ByID(id int64) (tenant.Tenant, bool)
	ByDomain(host string) (tenant.Tenant, bool)
}

// TenantResolver installs the request's tenant into the request context.
//
// An explicit header holding a positive integer wins. Otherwise the host
// (X-Forwarded-Host when trustForwarded is set, else Host) is looked up by
// domain. A request that resolves to no active tenant proceeds without one
// and the data layer returns nothing for it.
func TenantResolver(dir TenantLookup, header string, trustForwarded bool) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultTenantHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := resolveTenant(r, dir, header, trustForwarded)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(tenantctx.Install(r.Context(), id)))
		})
	}
}

func resolveTenant(r *http.Request, dir TenantLookup, header string, trustForwarded bool) (int64, bool) {
	if raw := strings.TrimSpace(r.Header.Get(header)); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && id > 0 {
			// An id the directory has not loaded yet is still honoured;
			// a known but inactive tenant is not.
			if t, known := dir.ByID(id); known && !t.Active() {
				return 0, false
			}
			return id, true
		}
		slog.WarnContext(r.Context(), "ignoring malformed tenant header", "header", header, "value", raw)
	}

	host := r.Host
	if trustForwarded {
		if fwd := r.Header.Get(headerForwardedHost); fwd != "" {
			host = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	if host == "" {
		return 0, false
	}
	t, ok := dir.ByDomain(host)
	if !ok || !t.Active() {
		return 0, false
	}
	return t.ID, true
}
