package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/SiteKeeper/internal/domain"
	"github.com/Strob0t/SiteKeeper/internal/domain/ledger"
	"github.com/Strob0t/SiteKeeper/internal/domain/user"
)

const userColumns = `id, tenant_id, email, name, password_hash, balance, enabled, created_at, updated_at`

func scanUser(row scannable) (user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.PasswordHash, &u.Balance, &u.Enabled, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, req user.CreateRequest, passwordHash string) (*user.User, error) {
	tid, err := s.gate.InsertTenant(ctx, tableUsers, req.TenantID)
	if err != nil {
		return nil, err
	}

	u, err := scanUser(s.pool.QueryRow(ctx,
		`INSERT INTO users (tenant_id, email, name, password_hash)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+userColumns,
		tid, user.NormalizeEmail(req.Email), req.Name, passwordHash,
	))
	if err != nil {
		return nil, conflictWrap(err, "create user %s", req.Email)
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*user.User, error) {
	where, args := s.gate.Where(ctx, tableUsers, []string{"id = $1"}, id)
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users`+where, args...))
	if err != nil {
		return nil, notFoundWrap(err, "get user %d", id)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	where, args := s.gate.Where(ctx, tableUsers, []string{"email = $1"}, user.NormalizeEmail(email))
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users`+where, args...))
	if err != nil {
		return nil, notFoundWrap(err, "get user by email")
	}
	return &u, nil
}

// --- Balance ledger ---

func (s *Store) ListLedger(ctx context.Context, userID int64, limit int) ([]ledger.Entry, error) {
	where, args := s.gate.Where(ctx, tableLedger, []string{"user_id = $1"}, userID)
	lim, args := limitArg(args, limit)

	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, user_id, type, amount, balance_after, job_id, trade_no, remark, created_at
		 FROM balance_ledger`+where+` ORDER BY created_at DESC, id DESC`+lim, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.Type, &e.Amount, &e.BalanceAfter,
			&e.JobID, &e.TradeNo, &e.Remark, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return orEmpty(entries), rows.Err()
}

func (s *Store) Recharge(ctx context.Context, userID, amount int64, remark string) (*ledger.Entry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("recharge amount must be positive: %w", domain.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	where, args := s.gate.Where(ctx, tableUsers, []string{"id = $2"}, amount, userID)
	var tenantID, balance int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance + $1, updated_at = now()`+where+` RETURNING tenant_id, balance`,
		args...,
	).Scan(&tenantID, &balance)
	if err != nil {
		return nil, notFoundWrap(err, "recharge user %d", userID)
	}

	entry := &ledger.Entry{
		TenantID:     tenantID,
		UserID:       userID,
		Type:         ledger.TypeRecharge,
		Amount:       amount,
		BalanceAfter: balance,
		Remark:       remark,
	}
	if err := insertLedger(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return entry, nil
}

// --- Admin users (tenant-exempt) ---

func (s *Store) CreateAdmin(ctx context.Context, req user.CreateAdminRequest, prefix, keyHash string) (*user.Admin, error) {
	var a user.Admin
	err := s.pool.QueryRow(ctx,
		`INSERT INTO admin_users (name, prefix, key_hash) VALUES ($1, $2, $3)
		 RETURNING id, name, prefix, key_hash, enabled, created_at`,
		req.Name, prefix, keyHash,
	).Scan(&a.ID, &a.Name, &a.Prefix, &a.KeyHash, &a.Enabled, &a.CreatedAt)
	if err != nil {
		return nil, conflictWrap(err, "create admin %s", req.Name)
	}
	return &a, nil
}

func (s *Store) GetAdminByKeyHash(ctx context.Context, keyHash string) (*user.Admin, error) {
	where, args := s.gate.Where(ctx, tableAdmins, []string{"key_hash = $1", "enabled"}, keyHash)
	var a user.Admin
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, prefix, key_hash, enabled, created_at FROM admin_users`+where, args...,
	).Scan(&a.ID, &a.Name, &a.Prefix, &a.KeyHash, &a.Enabled, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get admin by key: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get admin by key: %w", err)
	}
	return &a, nil
}
