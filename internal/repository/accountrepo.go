// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/goph-auth/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AccountRepository provides access to accounts.
type AccountRepository interface {
	// Create inserts a new account; a taken email yields errs.ErrAlreadyExists.
	Create(ctx context.Context, a *model.Account) error
	// GetByID loads an account by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetByIDForUpdate loads an account and holds its row lock until the enclosing
	// transaction ends. Outside a transaction it behaves like GetByID.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Account, error)
	// GetByEmail loads an account by its stored (normalized) email.
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	// Update applies a partial update and bumps updated_at.
	Update(ctx context.Context, id uuid.UUID, upd model.AccountUpdate) error
	// SetVerifiedIfUnset stamps verified_at only if it is still NULL.
	SetVerifiedIfUnset(ctx context.Context, id uuid.UUID, at time.Time) error
	// IncrementTokenVersion bumps token_version and returns the new value.
	IncrementTokenVersion(ctx context.Context, id uuid.UUID) (int64, error)
}
