// Package model defines the domain entities shared by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Account is a credential holder. Email is stored normalized (trimmed, lowercased).
type Account struct {
	ID           uuid.UUID
	Email        string // unique
	PasswordHash string // bcrypt
	DisplayName  string
	IsActive     bool
	VerifiedAt   *time.Time // set once by email verification
	TokenVersion int64      // only increases; bumped by global revocation
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Verified reports whether the email address was confirmed.
func (a *Account) Verified() bool { return a.VerifiedAt != nil }

// AccountUpdate is a partial update; nil fields are left untouched.
type AccountUpdate struct {
	PasswordHash *string
	VerifiedAt   *time.Time
	LastLogin    *time.Time
	IsActive     *bool
	DisplayName  *string
}
