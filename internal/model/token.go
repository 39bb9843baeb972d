package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// TokenType identifies the purpose of a bearer token.
type TokenType string

const (
	TokenAccess            TokenType = "access"
	TokenRefresh           TokenType = "refresh"
	TokenEmailVerification TokenType = "email_verification"
	TokenResetPassword     TokenType = "reset_password"
)

// Valid reports whether t is a known token type.
func (t TokenType) Valid() bool {
	switch t {
	case TokenAccess, TokenRefresh, TokenEmailVerification, TokenResetPassword:
		return true
	}
	return false
}

// Stored reports whether tokens of this type are persisted. Access tokens never are.
func (t TokenType) Stored() bool { return t.Valid() && t != TokenAccess }

// TokenRecord is the persisted state of a refresh, email verification or reset token.
type TokenRecord struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	TokenHash   string // hex SHA-256 of the bearer string
	Type        TokenType
	ExpiresAt   time.Time
	Blacklisted bool // one-way: consumed or revoked
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Active reports whether the record can still be accepted at now.
func (r *TokenRecord) Active(now time.Time) bool {
	return !r.Blacklisted && now.Before(r.ExpiresAt)
}

// TokenUpdate is a partial update of a token record.
type TokenUpdate struct {
	ExpiresAt   *time.Time
	Blacklisted *bool
}

// Tokens collects an issued access/refresh pair.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time // access token expiry
	ExpiresIn        time.Duration
	RefreshExpiresAt time.Time
}
