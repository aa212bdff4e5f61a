package user

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// AdminKeyPrefix is prepended to generated admin keys for identification.
const AdminKeyPrefix = "ska_"

// Admin is a platform operator account. Admins are global and live in the
// tenant-exempt admin_users table.
type Admin struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Prefix    string    `json:"prefix"` // first 8 chars for display
	KeyHash   string    `json:"-"`      // SHA-256 hash, never serialized
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateAdminRequest is the input for creating an admin account.
type CreateAdminRequest struct {
	Name string `json:"name"`
}

// Validate checks that the CreateAdminRequest has all required fields.
func (r *CreateAdminRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

// GenerateAdminKey returns a new random plaintext admin key.
func GenerateAdminKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return AdminKeyPrefix + hex.EncodeToString(b), nil
}

// HashAdminKey returns the hex SHA-256 of a plaintext admin key.
func HashAdminKey(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
