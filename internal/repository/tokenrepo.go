package repository

import (
	"context"

	"github.com/and161185/goph-auth/internal/model"
	"github.com/gofrs/uuid/v5"
)

// TokenRepository stores refresh, email verification and reset token records.
type TokenRepository interface {
	// Create inserts a record.
	Create(ctx context.Context, rec *model.TokenRecord) error
	// FindByHash returns the record stored under the exact token digest.
	FindByHash(ctx context.Context, hash string) (*model.TokenRecord, error)
	// FindByAccountAndType lists an account's records of one type, newest first.
	FindByAccountAndType(ctx context.Context, accountID uuid.UUID, typ model.TokenType) ([]model.TokenRecord, error)
	// MarkBlacklisted flips the flag; blacklisting twice is a no-op success.
	MarkBlacklisted(ctx context.Context, id uuid.UUID) error
	// ConsumeIfActive blacklists the record only if it is not blacklisted yet and
	// reports whether this call did it. It is the compare-and-swap behind single use.
	ConsumeIfActive(ctx context.Context, id uuid.UUID) (bool, error)
	// BlacklistAll blacklists every non-blacklisted record of typ for the account.
	BlacklistAll(ctx context.Context, accountID uuid.UUID, typ model.TokenType) (int64, error)
	// BlacklistExcess keeps the newest keep active records of typ and blacklists the rest.
	BlacklistExcess(ctx context.Context, accountID uuid.UUID, typ model.TokenType, keep int) (int64, error)
	// Update applies a partial update.
	Update(ctx context.Context, id uuid.UUID, upd model.TokenUpdate) error
}
