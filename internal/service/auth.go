package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/SiteKeeper/internal/domain"
	"github.com/Strob0t/SiteKeeper/internal/domain/user"
	"github.com/Strob0t/SiteKeeper/internal/port/database"
)

// dummyHash is compared against when the user does not exist so that both
// paths cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("sitekeeper-dummy-password"), bcrypt.MinCost)

// AuthService verifies user passwords and admin keys.
type AuthService struct {
	store database.UserStore
	guard *LoginGuard
	cost  int
}

// NewAuthService creates a new authentication service. guard may be nil to
// disable lockout.
func NewAuthService(store database.UserStore, guard *LoginGuard) *AuthService {
	return &AuthService{
		store: store,
		guard: guard,
		cost:  bcrypt.DefaultCost,
	}
}

// Register creates a user with a bcrypt-hashed password in the tenant of
// ctx, or in req.TenantID when set.
func (s *AuthService) Register(ctx context.Context, req user.CreateRequest) (*user.User, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	req.Email = user.NormalizeEmail(req.Email)

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.store.CreateUser(ctx, req, string(hash))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Login checks the password of a user in the tenant of ctx. After too many
// failures the email is locked out regardless of tenant.
func (s *AuthService) Login(ctx context.Context, req user.LoginRequest) (*user.User, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	email := user.NormalizeEmail(req.Email)

	if s.guard != nil {
		if err := s.guard.Check(email); err != nil {
			return nil, err
		}
	}

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("get user: %w", err)
	}

	hash := dummyHash
	if u != nil {
		hash = []byte(u.PasswordHash)
	}
	pwErr := bcrypt.CompareHashAndPassword(hash, []byte(req.Password))

	if u == nil || pwErr != nil || !u.Enabled {
		if s.guard != nil && s.guard.RecordFailure(email) {
			slog.WarnContext(ctx, "login: identifier locked out", "email", email)
		}
		return nil, domain.ErrInvalidCredentials
	}

	if s.guard != nil {
		s.guard.Reset(email)
	}
	return u, nil
}

// CreateAdmin generates a new admin key, stores its hash and returns the
// plaintext key. The plaintext is not recoverable afterwards.
func (s *AuthService) CreateAdmin(ctx context.Context, req user.CreateAdminRequest) (*user.Admin, string, error) {
	if err := req.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	key, err := user.GenerateAdminKey()
	if err != nil {
		return nil, "", fmt.Errorf("generate admin key: %w", err)
	}
	a, err := s.store.CreateAdmin(ctx, req, key[:8], user.HashAdminKey(key))
	if err != nil {
		return nil, "", fmt.Errorf("create admin: %w", err)
	}
	return a, key, nil
}

// ValidateAdminKey resolves a plaintext admin key to its enabled admin.
func (s *AuthService) ValidateAdminKey(ctx context.Context, key string) (*user.Admin, error) {
	if key == "" {
		return nil, domain.ErrInvalidCredentials
	}
	a, err := s.store.GetAdminByKeyHash(ctx, user.HashAdminKey(key))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get admin: %w", err)
	}
	if !a.Enabled {
		return nil, domain.ErrInvalidCredentials
	}
	return a, nil
}
