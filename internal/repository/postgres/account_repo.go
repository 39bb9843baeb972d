package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/goph-auth/internal/errs"
	"github.com/and161185/goph-auth/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, email, password_hash, display_name, is_active, verified_at, token_version, last_login, created_at, updated_at`

// AccountRepo implements AccountRepository using PostgreSQL.
type AccountRepo struct{ q querier }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{q: db.Pool} }

// Create inserts a new account row.
func (r *AccountRepo) Create(ctx context.Context, a *model.Account) error {
	const q = `
INSERT INTO accounts (id, email, password_hash, display_name, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)`
	_, err := r.q.Exec(ctx, q, a.ID, a.Email, a.PasswordHash, a.DisplayName, a.IsActive, a.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects an account by ID.
func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// GetByIDForUpdate selects an account by ID and locks the row.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
}

// GetByEmail selects an account by email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

func (r *AccountRepo) getOne(ctx context.Context, q string, arg any) (*model.Account, error) {
	var a model.Account
	err := r.q.QueryRow(ctx, q, arg).Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.IsActive,
		&a.VerifiedAt, &a.TokenVersion, &a.LastLogin, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Update applies the non-nil fields of upd.
func (r *AccountRepo) Update(ctx context.Context, id uuid.UUID, upd model.AccountUpdate) error {
	args := []any{id}
	var sets []string
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.PasswordHash != nil {
		set("password_hash", *upd.PasswordHash)
	}
	if upd.VerifiedAt != nil {
		set("verified_at", *upd.VerifiedAt)
	}
	if upd.LastLogin != nil {
		set("last_login", *upd.LastLogin)
	}
	if upd.IsActive != nil {
		set("is_active", *upd.IsActive)
	}
	if upd.DisplayName != nil {
		set("display_name", *upd.DisplayName)
	}
	if len(sets) == 0 {
		return nil
	}
	q := `UPDATE accounts SET ` + strings.Join(sets, ", ") + `, updated_at = now() WHERE id = $1`
	tag, err := r.q.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetVerifiedIfUnset stamps verified_at once; later calls leave the first stamp in place.
func (r *AccountRepo) SetVerifiedIfUnset(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `
UPDATE accounts
SET verified_at = $2, updated_at = now()
WHERE id = $1 AND verified_at IS NULL`
	_, err := r.q.Exec(ctx, q, id, at)
	return err
}

// IncrementTokenVersion bumps token_version and returns the new value.
func (r *AccountRepo) IncrementTokenVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	const q = `
UPDATE accounts
SET token_version = token_version + 1, updated_at = now()
WHERE id = $1
RETURNING token_version`
	var v int64
	if err := r.q.QueryRow(ctx, q, id).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errs.ErrNotFound
		}
		return 0, err
	}
	return v, nil
}
