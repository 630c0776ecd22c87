package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-accounts/internal/platform/db"
	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
)

// Repository defines persistence operations for the accounts module.
type Repository interface {
	Create(ctx context.Context, input NewAccount) (*Account, error)
	GetByID(ctx context.Context, id int64) (*Account, error)
	GetByUsername(ctx context.Context, username string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	ConfirmEmail(ctx context.Context, id int64, at time.Time) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const selectAccount = `SELECT a.id, a.username, a.email, a.password_hash, a.is_active, a.last_login_at,
	a.created_at, a.updated_at, v.email_confirmed, v.confirmed_at
FROM accounts a
JOIN account_verifications v ON v.account_id = a.id`

// Create inserts the account and its verification row in one transaction.
func (r *PGRepository) Create(ctx context.Context, input NewAccount) (*Account, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `INSERT INTO accounts (username, email, password_hash, is_active)
VALUES ($1, $2, $3, $4) RETURNING id`, input.Username, input.Email, input.PasswordHash, input.IsActive)
		if err := row.Scan(&id); err != nil {
			return mapWriteError(err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO account_verifications (account_id, email_confirmed) VALUES ($1, FALSE)`, id); err != nil {
			return mapWriteError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// GetByID fetches an account by primary key.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (*Account, error) {
	return r.getOne(ctx, selectAccount+` WHERE a.id = $1`, id)
}

// GetByUsername fetches an account by its exact username.
func (r *PGRepository) GetByUsername(ctx context.Context, username string) (*Account, error) {
	return r.getOne(ctx, selectAccount+` WHERE a.username = $1`, username)
}

// GetByEmail fetches an account by email, ignoring case.
func (r *PGRepository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return r.getOne(ctx, selectAccount+` WHERE LOWER(a.email) = LOWER($1)`, email)
}

// UsernameExists reports whether the username is taken.
func (r *PGRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1)`, username).Scan(&exists)
	return exists, err
}

// EmailExists reports whether the email is taken, ignoring case.
func (r *PGRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE LOWER(email) = LOWER($1))`, email).Scan(&exists)
	return exists, err
}

// ConfirmEmail sets the verification flag. The update only ever moves false to true.
func (r *PGRepository) ConfirmEmail(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE account_verifications
SET email_confirmed = TRUE, confirmed_at = COALESCE(confirmed_at, $2)
WHERE account_id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *PGRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// TouchLastLogin records a successful login.
func (r *PGRepository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE accounts SET last_login_at = $2 WHERE id = $1`, id, at.UTC())
	return err
}

// CreateSession persists a new login session in the database for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_sessions (id, user_id, created_at, expires_at, ip, user_agent)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))`, id, userID, time.Now().UTC(), expiresAt.UTC(), ip, ua)
	return err
}

// DeleteSession removes a session record from the database.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_sessions WHERE id = $1`, id)
	return err
}

// PurgeExpiredSessions deletes session records that expired before the cut-off.
func (r *PGRepository) PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_sessions WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PGRepository) getOne(ctx context.Context, query string, arg any) (*Account, error) {
	var (
		acc         Account
		lastLogin   *time.Time
		confirmedAt *time.Time
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&acc.ID, &acc.Username, &acc.Email, &acc.PasswordHash, &acc.IsActive, &lastLogin,
		&acc.CreatedAt, &acc.UpdatedAt, &acc.Verification.EmailConfirmed, &confirmedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	acc.LastLoginAt = lastLogin
	acc.Verification.ConfirmedAt = confirmedAt
	return &acc, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("accounts: %s: %w", pgErr.ConstraintName, shared.ErrDuplicate)
	}
	return err
}

var _ Repository = (*PGRepository)(nil)
