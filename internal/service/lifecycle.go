// Package service contains the token lifecycle and the authentication flows built on it.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/goph-auth/internal/crypto"
	"github.com/and161185/goph-auth/internal/errs"
	"github.com/and161185/goph-auth/internal/model"
	"github.com/and161185/goph-auth/internal/repository"
	"github.com/and161185/goph-auth/internal/token"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// DefaultMaxRefreshTokens caps outstanding refresh tokens per account.
const DefaultMaxRefreshTokens = 5

// PasswordHasher is the slow, salted hashing collaborator.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// LifecycleOption customizes a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithClock sets the time source used for expiry checks and timestamps.
func WithClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) { l.now = now }
}

// WithMaxRefreshTokens sets the per-account refresh token cap. Zero disables the cap.
func WithMaxRefreshTokens(n int) LifecycleOption {
	return func(l *Lifecycle) { l.maxRefresh = n }
}

// Lifecycle issues, rotates, consumes and revokes tokens. The codec answers whether a
// token is authentic; the store answers whether it is still usable.
type Lifecycle struct {
	store      repository.Store
	codec      *token.Codec
	hasher     PasswordHasher
	log        *zap.Logger
	now        func() time.Time
	maxRefresh int
}

// NewLifecycle wires the lifecycle service.
func NewLifecycle(store repository.Store, codec *token.Codec, hasher PasswordHasher, log *zap.Logger, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		store:      store,
		codec:      codec,
		hasher:     hasher,
		log:        log.Named("lifecycle"),
		now:        time.Now,
		maxRefresh: DefaultMaxRefreshTokens,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// IssueRefreshPair mints an access token and a stored refresh token for a.
func (l *Lifecycle) IssueRefreshPair(ctx context.Context, a *model.Account) (model.Tokens, error) {
	var out model.Tokens
	err := l.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		out, err = l.issuePair(ctx, tx, a)
		return err
	})
	return out, err
}

func (l *Lifecycle) issuePair(ctx context.Context, st repository.Store, a *model.Account) (model.Tokens, error) {
	access, ac, err := l.codec.Issue(a.ID, a.Email, model.TokenAccess, a.TokenVersion)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("issue access: %w", err)
	}
	refresh, rc, err := l.codec.Issue(a.ID, a.Email, model.TokenRefresh, a.TokenVersion)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("issue refresh: %w", err)
	}
	if err := l.persist(ctx, st, a.ID, refresh, rc); err != nil {
		return model.Tokens{}, err
	}
	if l.maxRefresh > 0 {
		n, err := st.Tokens().BlacklistExcess(ctx, a.ID, model.TokenRefresh, l.maxRefresh)
		if err != nil {
			return model.Tokens{}, fmt.Errorf("cap refresh tokens: %w", err)
		}
		if n > 0 {
			l.log.Info("oldest refresh tokens evicted", zap.String("account_id", a.ID.String()), zap.Int64("count", n))
		}
	}
	return model.Tokens{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        ac.ExpiresAt.Time,
		ExpiresIn:        l.codec.TTL(model.TokenAccess),
		RefreshExpiresAt: rc.ExpiresAt.Time,
	}, nil
}

func (l *Lifecycle) persist(ctx context.Context, st repository.Store, accountID uuid.UUID, raw string, c *token.Claims) error {
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	rec := &model.TokenRecord{
		ID:        id,
		AccountID: accountID,
		TokenHash: crypto.HashToken(raw),
		Type:      c.Type,
		ExpiresAt: c.ExpiresAt.Time,
		CreatedAt: l.now(),
	}
	if err := st.Tokens().Create(ctx, rec); err != nil {
		return fmt.Errorf("store %s token: %w", c.Type, err)
	}
	return nil
}

// IssueActionToken mints an email verification or reset token for a. Outstanding tokens
// of the same type are revoked so only the newest link works.
func (l *Lifecycle) IssueActionToken(ctx context.Context, a *model.Account, typ model.TokenType) (string, error) {
	var raw string
	err := l.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		raw, err = l.issueAction(ctx, tx, a, typ)
		return err
	})
	return raw, err
}

func (l *Lifecycle) issueAction(ctx context.Context, st repository.Store, a *model.Account, typ model.TokenType) (string, error) {
	if typ != model.TokenEmailVerification && typ != model.TokenResetPassword {
		return "", fmt.Errorf("issue action token: unsupported type %q", typ)
	}
	raw, c, err := l.codec.Issue(a.ID, a.Email, typ, a.TokenVersion)
	if err != nil {
		return "", fmt.Errorf("issue %s: %w", typ, err)
	}
	if _, err := st.Tokens().BlacklistAll(ctx, a.ID, typ); err != nil {
		return "", fmt.Errorf("supersede %s tokens: %w", typ, err)
	}
	if err := l.persist(ctx, st, a.ID, raw, c); err != nil {
		return "", err
	}
	return raw, nil
}

// check runs the shared acceptance chain for stored tokens: signature and type,
// exact lookup, blacklist, expiry, then subject binding.
func (l *Lifecycle) check(ctx context.Context, raw string, typ model.TokenType) (*token.Claims, *model.TokenRecord, error) {
	claims, err := l.codec.Verify(raw, typ)
	expired := errors.Is(err, token.ErrExpired)
	if err != nil && !expired {
		return nil, nil, errs.ErrInvalidToken
	}

	rec, err := l.store.Tokens().FindByHash(ctx, crypto.HashToken(raw))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil, errs.ErrInvalidToken
		}
		return nil, nil, fmt.Errorf("find token: %w", err)
	}
	if rec.Type != typ {
		return nil, nil, errs.ErrInvalidToken
	}
	if expired || !rec.Active(l.now()) {
		if rec.Blacklisted {
			return nil, nil, errs.ErrTokenRevoked
		}
		return nil, nil, errs.ErrTokenExpired
	}
	sub, err := claims.AccountID()
	if err != nil || sub != rec.AccountID {
		return nil, nil, errs.ErrInvalidToken
	}
	return claims, rec, nil
}

func (l *Lifecycle) activeAccount(ctx context.Context, st repository.Store, id uuid.UUID) (*model.Account, error) {
	return usableAccount(st.Accounts().GetByID(ctx, id))
}

// lockedAccount loads the account row under a lock held until tx ends, serializing
// against token version bumps.
func (l *Lifecycle) lockedAccount(ctx context.Context, tx repository.Store, id uuid.UUID) (*model.Account, error) {
	return usableAccount(tx.Accounts().GetByIDForUpdate(ctx, id))
}

func usableAccount(a *model.Account, err error) (*model.Account, error) {
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !a.IsActive {
		return nil, errs.ErrAccountInactive
	}
	return a, nil
}

// consume flips the record to blacklisted inside the caller's transaction. Losing the
// race to another consumer reads as a revoked token.
func (l *Lifecycle) consume(ctx context.Context, tx repository.Store, rec *model.TokenRecord) error {
	ok, err := tx.Tokens().ConsumeIfActive(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("consume token: %w", err)
	}
	if !ok {
		l.log.Warn("token already consumed",
			zap.String("token_id", rec.ID.String()),
			zap.String("account_id", rec.AccountID.String()),
			zap.String("type", string(rec.Type)),
		)
		return errs.ErrTokenRevoked
	}
	return nil
}

// Rotate exchanges a refresh token for a new pair. The presented token is consumed in the
// same transaction that stores its replacement, so concurrent rotations of one token
// yield exactly one winner. The account row is locked for the duration, and a token
// minted before the account's last global revocation is refused.
func (l *Lifecycle) Rotate(ctx context.Context, raw string) (model.Tokens, *model.Account, error) {
	claims, rec, err := l.check(ctx, raw, model.TokenRefresh)
	if err != nil {
		if errors.Is(err, errs.ErrTokenRevoked) {
			l.log.Warn("revoked refresh token presented", zap.String("token_hash", crypto.HashToken(raw)[:12]))
		}
		return model.Tokens{}, nil, err
	}

	var (
		out model.Tokens
		a   *model.Account
	)
	err = l.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		if a, err = l.lockedAccount(ctx, tx, rec.AccountID); err != nil {
			return err
		}
		if claims.TokenVersion != a.TokenVersion {
			l.log.Warn("stale refresh token presented",
				zap.String("account_id", a.ID.String()),
				zap.Int64("token_version", claims.TokenVersion),
				zap.Int64("account_version", a.TokenVersion),
			)
			return errs.ErrTokenRevoked
		}
		if err := l.consume(ctx, tx, rec); err != nil {
			return err
		}
		out, err = l.issuePair(ctx, tx, a)
		return err
	})
	if err != nil {
		return model.Tokens{}, nil, err
	}
	return out, a, nil
}

// Revoke blacklists a refresh token. Unknown, malformed, expired or already revoked
// tokens are treated as already logged out.
func (l *Lifecycle) Revoke(ctx context.Context, raw string) error {
	claims, err := l.codec.Verify(raw, model.TokenRefresh)
	if err != nil && !errors.Is(err, token.ErrExpired) {
		return nil
	}
	rec, err := l.store.Tokens().FindByHash(ctx, crypto.HashToken(raw))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("find token: %w", err)
	}
	if sub, err := claims.AccountID(); err != nil || sub != rec.AccountID || rec.Type != model.TokenRefresh {
		return nil
	}
	if err := l.store.Tokens().MarkBlacklisted(ctx, rec.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

// RevokeAllForAccount bumps the account's token version, which invalidates every access
// token issued so far, and blacklists all outstanding refresh tokens.
func (l *Lifecycle) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID) error {
	return l.store.WithTx(ctx, func(tx repository.Store) error {
		return l.revokeAll(ctx, tx, accountID)
	})
}

// revokeAll bumps the version before sweeping. The UPDATE takes the account row lock, so
// a rotation holding it commits first and its replacement token is seen by the sweep.
func (l *Lifecycle) revokeAll(ctx context.Context, tx repository.Store, accountID uuid.UUID) error {
	v, err := tx.Accounts().IncrementTokenVersion(ctx, accountID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrAccountNotFound
		}
		return fmt.Errorf("bump token version: %w", err)
	}
	n, err := tx.Tokens().BlacklistAll(ctx, accountID, model.TokenRefresh)
	if err != nil {
		return fmt.Errorf("blacklist refresh tokens: %w", err)
	}
	l.log.Info("all sessions revoked",
		zap.String("account_id", accountID.String()),
		zap.Int64("token_version", v),
		zap.Int64("refresh_revoked", n),
	)
	return nil
}

// ConsumeEmailVerification marks the account verified. The token works once.
func (l *Lifecycle) ConsumeEmailVerification(ctx context.Context, raw string) (*model.Account, error) {
	_, rec, err := l.check(ctx, raw, model.TokenEmailVerification)
	if err != nil {
		return nil, err
	}
	a, err := l.activeAccount(ctx, l.store, rec.AccountID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	err = l.store.WithTx(ctx, func(tx repository.Store) error {
		if err := l.consume(ctx, tx, rec); err != nil {
			return err
		}
		return tx.Accounts().SetVerifiedIfUnset(ctx, a.ID, now)
	})
	if err != nil {
		return nil, err
	}
	if a.VerifiedAt == nil {
		a.VerifiedAt = &now
	}
	return a, nil
}

// ConsumeResetPassword replaces the account password and ends every session. The token
// works once; other outstanding reset tokens die with it.
func (l *Lifecycle) ConsumeResetPassword(ctx context.Context, raw, newPassword string) (*model.Account, error) {
	_, rec, err := l.check(ctx, raw, model.TokenResetPassword)
	if err != nil {
		return nil, err
	}
	a, err := l.activeAccount(ctx, l.store, rec.AccountID)
	if err != nil {
		return nil, err
	}
	hash, err := l.hasher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	err = l.store.WithTx(ctx, func(tx repository.Store) error {
		if err := l.consume(ctx, tx, rec); err != nil {
			return err
		}
		if err := tx.Accounts().Update(ctx, a.ID, model.AccountUpdate{PasswordHash: &hash}); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if _, err := tx.Tokens().BlacklistAll(ctx, a.ID, model.TokenResetPassword); err != nil {
			return fmt.Errorf("blacklist reset tokens: %w", err)
		}
		return l.revokeAll(ctx, tx, a.ID)
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("password reset applied", zap.String("account_id", a.ID.String()))
	a.PasswordHash = hash
	a.TokenVersion++
	return a, nil
}

// VerifyAccess is the stateless access token check: signature, type and expiry only.
func (l *Lifecycle) VerifyAccess(raw string) (*token.Claims, error) {
	claims, err := l.codec.Verify(raw, model.TokenAccess)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, token.ErrExpired):
		return nil, errs.ErrTokenExpired
	default:
		return nil, errs.ErrInvalidToken
	}
}

// Authenticate resolves a bearer access token to its account. Tokens minted before the
// account's last global revocation are rejected as revoked.
func (l *Lifecycle) Authenticate(ctx context.Context, bearer string) (*model.Account, *token.Claims, error) {
	claims, err := l.VerifyAccess(bearer)
	if err != nil {
		return nil, nil, err
	}
	id, err := claims.AccountID()
	if err != nil {
		return nil, nil, errs.ErrInvalidToken
	}
	a, err := l.activeAccount(ctx, l.store, id)
	if err != nil {
		return nil, nil, err
	}
	if claims.TokenVersion != a.TokenVersion {
		return nil, nil, errs.ErrTokenRevoked
	}
	return a, claims, nil
}
