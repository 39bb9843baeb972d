// Package token signs and verifies the stateless bearer tokens handed to clients.
// It never touches storage.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/and161185/goph-auth/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// Verification failures.
var (
	ErrMalformed        = errors.New("token malformed")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrExpired          = errors.New("token expired")
	ErrTypeMismatch     = errors.New("token type mismatch")
)

// Default lifetimes per token type.
var DefaultTTLs = map[model.TokenType]time.Duration{
	model.TokenAccess:            15 * time.Minute,
	model.TokenRefresh:           7 * 24 * time.Hour,
	model.TokenEmailVerification: 7 * 24 * time.Hour,
	model.TokenResetPassword:     15 * time.Minute,
}

// Claims is the payload carried by every token. Subject holds the account ID.
type Claims struct {
	Email        string          `json:"email"`
	Type         model.TokenType `json:"token_type"`
	TokenVersion int64           `json:"tv"`
	jwt.RegisteredClaims
}

// AccountID parses the subject as an account ID.
func (c *Claims) AccountID() (uuid.UUID, error) {
	return uuid.FromString(c.Subject)
}

// Config configures a Codec. Every type needs a key and a positive TTL.
type Config struct {
	Keys   map[model.TokenType][]byte
	TTLs   map[model.TokenType]time.Duration
	Issuer string
	Leeway time.Duration
	Now    func() time.Time
}

// Codec issues and verifies HS256 tokens with a key per token type.
type Codec struct {
	keys   map[model.TokenType][]byte
	ttls   map[model.TokenType]time.Duration
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewCodec validates cfg and builds a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	c := &Codec{
		keys:   map[model.TokenType][]byte{},
		ttls:   map[model.TokenType]time.Duration{},
		issuer: cfg.Issuer,
		leeway: cfg.Leeway,
		now:    cfg.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.leeway < 0 || c.leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway")
	}
	for _, typ := range []model.TokenType{model.TokenAccess, model.TokenRefresh, model.TokenEmailVerification, model.TokenResetPassword} {
		key := cfg.Keys[typ]
		if len(key) == 0 {
			return nil, fmt.Errorf("missing signing key for %s tokens", typ)
		}
		ttl, ok := cfg.TTLs[typ]
		if !ok {
			ttl = DefaultTTLs[typ]
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("invalid ttl for %s tokens", typ)
		}
		c.keys[typ] = key
		c.ttls[typ] = ttl
	}
	return c, nil
}

// TTL returns the lifetime of tokens of type typ.
func (c *Codec) TTL(typ model.TokenType) time.Duration { return c.ttls[typ] }

// Issue signs a new token. Two calls never produce the same string: each token gets a random ID.
func (c *Codec) Issue(accountID uuid.UUID, email string, typ model.TokenType, tokenVersion int64) (string, *Claims, error) {
	key, ok := c.keys[typ]
	if !ok {
		return "", nil, fmt.Errorf("issue: unknown token type %q", typ)
	}
	jti, err := uuid.NewV4()
	if err != nil {
		return "", nil, err
	}
	now := c.now()
	claims := &Claims{
		Email:        email,
		Type:         typ,
		TokenVersion: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Subject:   accountID.String(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttls[typ])),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// Verify checks signature, expiry and type. On ErrExpired the parsed claims are still returned,
// so callers can consult stored state before reporting the failure.
func (c *Codec) Verify(tokenString string, expected model.TokenType) (*Claims, error) {
	key, ok := c.keys[expected]
	if !ok {
		return nil, ErrTypeMismatch
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.leeway > 0 {
		opts = append(opts, jwt.WithLeeway(c.leeway))
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &Claims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		if claims.Type != expected {
			return nil, ErrTypeMismatch
		}
		return claims, ErrExpired
	default:
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if claims.Type != expected {
		return nil, ErrTypeMismatch
	}
	if _, err := claims.AccountID(); err != nil {
		return nil, ErrMalformed
	}
	return claims, nil
}
