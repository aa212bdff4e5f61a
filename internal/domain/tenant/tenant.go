// Package tenant defines the tenant (site) domain model for multi-tenancy.
package tenant

import (
	"errors"
	"net"
	"strings"
	"time"
)

// AdminID is the tenant id reserved for administrative and global rows.
const AdminID int64 = 0

// Tenant represents an isolated site sharing the database and process fleet.
type Tenant struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain,omitempty"`
	Code      string    `json:"code,omitempty"`
	Enabled   bool      `json:"enabled"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether requests may be attributed to the tenant.
func (t *Tenant) Active() bool {
	return t.Enabled && !t.Deleted
}

// CreateRequest holds the fields required to create a new tenant.
type CreateRequest struct {
	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Validate checks that the CreateRequest is well formed.
func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if r.Domain == "" && r.Code == "" {
		return errors.New("domain or code is required")
	}
	if strings.ContainsAny(r.Code, " \t/") {
		return errors.New("code must not contain whitespace or slashes")
	}
	return nil
}

// NormalizeHost lower-cases a host name and strips a port suffix and a
// trailing dot, so "B.Example.com:8443" and "b.example.com" compare equal.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.IndexByte(host, ':')]
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	host = strings.TrimSuffix(host, ".")
	return strings.ToLower(host)
}

// NormalizeCode lower-cases and trims a tenant short code.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
