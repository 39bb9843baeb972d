package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/and161185/goph-auth/internal/errs"
	"github.com/and161185/goph-auth/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

const tokenColumns = `id, account_id, token_hash, type, expires_at, blacklisted, created_at, updated_at`

// TokenRepo implements TokenRepository using PostgreSQL.
type TokenRepo struct{ q querier }

// NewTokenRepo constructs a token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{q: db.Pool} }

// Create inserts a token record.
func (r *TokenRepo) Create(ctx context.Context, rec *model.TokenRecord) error {
	const q = `
INSERT INTO tokens (id, account_id, token_hash, type, expires_at, blacklisted, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`
	_, err := r.q.Exec(ctx, q, rec.ID, rec.AccountID, rec.TokenHash, string(rec.Type), rec.ExpiresAt, rec.Blacklisted, rec.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// FindByHash selects the record with exactly this digest.
func (r *TokenRepo) FindByHash(ctx context.Context, hash string) (*model.TokenRecord, error) {
	q := `SELECT ` + tokenColumns + ` FROM tokens WHERE token_hash = $1`
	rec, err := scanToken(r.q.QueryRow(ctx, q, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// FindByAccountAndType lists records newest first.
func (r *TokenRepo) FindByAccountAndType(ctx context.Context, accountID uuid.UUID, typ model.TokenType) ([]model.TokenRecord, error) {
	q := `SELECT ` + tokenColumns + ` FROM tokens WHERE account_id = $1 AND type = $2 ORDER BY created_at DESC`
	rows, err := r.q.Query(ctx, q, accountID, string(typ))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TokenRecord
	for rows.Next() {
		rec, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// MarkBlacklisted flips blacklisted to true. Already blacklisted rows still match.
func (r *TokenRepo) MarkBlacklisted(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE tokens SET blacklisted = true, updated_at = now() WHERE id = $1`
	tag, err := r.q.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ConsumeIfActive is a conditional update: concurrent callers serialize on the row
// lock and only the first one sees a changed row.
func (r *TokenRepo) ConsumeIfActive(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE tokens SET blacklisted = true, updated_at = now() WHERE id = $1 AND blacklisted = false`
	tag, err := r.q.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// BlacklistAll revokes every outstanding record of typ for the account.
func (r *TokenRepo) BlacklistAll(ctx context.Context, accountID uuid.UUID, typ model.TokenType) (int64, error) {
	const q = `
UPDATE tokens SET blacklisted = true, updated_at = now()
WHERE account_id = $1 AND type = $2 AND blacklisted = false`
	tag, err := r.q.Exec(ctx, q, accountID, string(typ))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// BlacklistExcess keeps the newest keep outstanding records and revokes older ones.
func (r *TokenRepo) BlacklistExcess(ctx context.Context, accountID uuid.UUID, typ model.TokenType, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	const q = `
UPDATE tokens SET blacklisted = true, updated_at = now()
WHERE id IN (
  SELECT id FROM tokens
  WHERE account_id = $1 AND type = $2 AND blacklisted = false
  ORDER BY created_at DESC
  OFFSET $3
)`
	tag, err := r.q.Exec(ctx, q, accountID, string(typ), keep)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Update applies the non-nil fields of upd. Blacklisting is one-way: false never clears the flag.
func (r *TokenRepo) Update(ctx context.Context, id uuid.UUID, upd model.TokenUpdate) error {
	args := []any{id}
	var sets []string
	if upd.ExpiresAt != nil {
		args = append(args, *upd.ExpiresAt)
		sets = append(sets, fmt.Sprintf("expires_at = $%d", len(args)))
	}
	if upd.Blacklisted != nil {
		args = append(args, *upd.Blacklisted)
		sets = append(sets, fmt.Sprintf("blacklisted = blacklisted OR $%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	q := `UPDATE tokens SET ` + strings.Join(sets, ", ") + `, updated_at = now() WHERE id = $1`
	tag, err := r.q.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanToken(row pgx.Row) (*model.TokenRecord, error) {
	var (
		rec model.TokenRecord
		typ string
	)
	if err := row.Scan(&rec.ID, &rec.AccountID, &rec.TokenHash, &typ, &rec.ExpiresAt, &rec.Blacklisted, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Type = model.TokenType(typ)
	return &rec, nil
}
