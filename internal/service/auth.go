package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/goph-auth/internal/crypto"
	"github.com/and161185/goph-auth/internal/errs"
	"github.com/and161185/goph-auth/internal/limiter"
	"github.com/and161185/goph-auth/internal/mailer"
	"github.com/and161185/goph-auth/internal/model"
	"github.com/and161185/goph-auth/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// AuthConfig holds the account policy knobs of the flows.
type AuthConfig struct {
	// RequireVerified rejects logins of accounts that never confirmed their email.
	RequireVerified bool
	Passwords       PasswordPolicy
	Links           mailer.Links
}

// SignupInput is the signup request.
type SignupInput struct {
	Email    string
	Password string
	Name     string
}

// SignupResult carries the new account and its verification credential for out-of-band delivery.
type SignupResult struct {
	Account           *model.Account
	VerificationToken string
	VerificationURL   string
}

// LoginResult carries the issued pair and the account it belongs to.
type LoginResult struct {
	Tokens  model.Tokens
	Account *model.Account
}

// AuthFlows orchestrates signup, login, logout, refresh, email verification and password
// reset on top of the token lifecycle.
type AuthFlows struct {
	store  repository.Store
	lc     *Lifecycle
	hasher PasswordHasher
	lim    limiter.Limiter
	mail   mailer.Mailer
	cfg    AuthConfig
	log    *zap.Logger
	now    func() time.Time

	// dummyHash is verified against when the email is unknown so that a miss costs
	// as much as a wrong password.
	dummyHash string
}

// NewAuthFlows wires the flows. lim and mail may be nil.
func NewAuthFlows(store repository.Store, lc *Lifecycle, hasher PasswordHasher, lim limiter.Limiter, mail mailer.Mailer, cfg AuthConfig, log *zap.Logger) (*AuthFlows, error) {
	if lim == nil {
		lim = limiter.Nop{}
	}
	if mail == nil {
		mail = mailer.NewLogMailer(log)
	}
	if cfg.Passwords.MinLength == 0 {
		cfg.Passwords = DefaultPasswordPolicy
	}
	seed, err := crypto.RandBytes(18)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	dummy, err := hasher.Hash(hex.EncodeToString(seed))
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &AuthFlows{
		store:     store,
		lc:        lc,
		hasher:    hasher,
		lim:       lim,
		mail:      mail,
		cfg:       cfg,
		log:       log.Named("auth"),
		now:       lc.now,
		dummyHash: dummy,
	}, nil
}

// Signup registers an unverified account and issues its email verification token.
func (f *AuthFlows) Signup(ctx context.Context, in SignupInput) (SignupResult, error) {
	email := NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	v := errs.NewValidation()
	checkEmail(v, "email", email)
	f.cfg.Passwords.Check(v, "password", in.Password)
	checkName(v, "name", name)
	if err := v.OrNil(); err != nil {
		return SignupResult{}, err
	}

	hash, err := f.hasher.Hash(in.Password)
	if err != nil {
		return SignupResult{}, internal(fmt.Errorf("hash password: %w", err))
	}
	id, err := uuid.NewV4()
	if err != nil {
		return SignupResult{}, internal(err)
	}
	now := f.now()
	a := &model.Account{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		DisplayName:  name,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var raw string
	err = f.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Accounts().Create(ctx, a); err != nil {
			return err
		}
		var err error
		raw, err = f.lc.issueAction(ctx, tx, a, model.TokenEmailVerification)
		return err
	})
	if err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return SignupResult{}, errs.ErrAlreadyExists
		}
		return SignupResult{}, internal(err)
	}

	link := f.cfg.Links.VerifyEmail(raw)
	f.deliver(ctx, mailer.Message{Kind: mailer.KindVerifyEmail, To: a.Email, Link: link})
	f.log.Info("account created", zap.String("account_id", a.ID.String()))
	return SignupResult{Account: a, VerificationToken: raw, VerificationURL: link}, nil
}

// Login checks the credential and issues a token pair. Unknown email, wrong password and a
// disabled account all fail with the same ErrUnauthorized.
func (f *AuthFlows) Login(ctx context.Context, email, password, ip string) (LoginResult, error) {
	email = NormalizeEmail(email)
	ipHash := limiter.HashIP(ip)

	allowed, _, err := f.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return LoginResult{}, internal(fmt.Errorf("limiter: %w", err))
	}
	if !allowed {
		return LoginResult{}, errs.ErrRateLimited
	}

	a, err := f.store.Accounts().GetByEmail(ctx, email)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		f.hasher.Verify(password, f.dummyHash)
		return LoginResult{}, f.loginFailed(ctx, email, ipHash, "unknown email")
	case err != nil:
		return LoginResult{}, internal(fmt.Errorf("load account: %w", err))
	}
	if !f.hasher.Verify(password, a.PasswordHash) {
		return LoginResult{}, f.loginFailed(ctx, email, ipHash, "wrong password")
	}
	if !a.IsActive {
		return LoginResult{}, f.loginFailed(ctx, email, ipHash, "inactive account")
	}
	if f.cfg.RequireVerified && !a.Verified() {
		return LoginResult{}, errs.ErrAccountUnverified
	}

	if err := f.lim.Success(ctx, email, ipHash); err != nil {
		f.log.Warn("limiter reset failed", zap.Error(err))
	}
	tokens, err := f.lc.IssueRefreshPair(ctx, a)
	if err != nil {
		return LoginResult{}, internal(err)
	}
	now := f.now()
	if err := f.store.Accounts().Update(ctx, a.ID, model.AccountUpdate{LastLogin: &now}); err != nil {
		f.log.Warn("record last login failed", zap.String("account_id", a.ID.String()), zap.Error(err))
	} else {
		a.LastLogin = &now
	}
	return LoginResult{Tokens: tokens, Account: a}, nil
}

func (f *AuthFlows) loginFailed(ctx context.Context, email string, ipHash []byte, reason string) error {
	f.log.Info("login rejected", zap.String("reason", reason))
	blocked, _, err := f.lim.Failure(ctx, email, ipHash)
	if err != nil {
		f.log.Warn("limiter failure record failed", zap.Error(err))
	}
	if blocked {
		return errs.ErrRateLimited
	}
	return errs.ErrUnauthorized
}

// Logout revokes the presented refresh token. It succeeds for unknown or stale tokens.
func (f *AuthFlows) Logout(ctx context.Context, refreshToken string) error {
	return internal(f.lc.Revoke(ctx, refreshToken))
}

// Refresh rotates a refresh token into a new pair.
func (f *AuthFlows) Refresh(ctx context.Context, refreshToken string) (model.Tokens, error) {
	tokens, _, err := f.lc.Rotate(ctx, refreshToken)
	if err != nil {
		return model.Tokens{}, internal(err)
	}
	return tokens, nil
}

// VerifyEmail consumes an email verification token.
func (f *AuthFlows) VerifyEmail(ctx context.Context, raw string) (*model.Account, error) {
	a, err := f.lc.ConsumeEmailVerification(ctx, raw)
	if err != nil {
		return nil, internal(err)
	}
	f.log.Info("email verified", zap.String("account_id", a.ID.String()))
	return a, nil
}

// ResendVerification issues a fresh verification token for an unverified account. The
// result never reveals whether the address is registered; the returned token is empty
// when nothing was sent.
func (f *AuthFlows) ResendVerification(ctx context.Context, email string) (string, error) {
	a, err := f.lookupQuiet(ctx, email)
	if err != nil || a == nil || a.Verified() {
		return "", err
	}
	raw, err := f.lc.IssueActionToken(ctx, a, model.TokenEmailVerification)
	if err != nil {
		return "", internal(err)
	}
	f.deliver(ctx, mailer.Message{Kind: mailer.KindVerifyEmail, To: a.Email, Link: f.cfg.Links.VerifyEmail(raw)})
	return raw, nil
}

// RequestPasswordReset issues a reset token when the address belongs to an active
// account. The outcome is indistinguishable to the caller either way.
func (f *AuthFlows) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	a, err := f.lookupQuiet(ctx, email)
	if err != nil || a == nil {
		return "", err
	}
	raw, err := f.lc.IssueActionToken(ctx, a, model.TokenResetPassword)
	if err != nil {
		return "", internal(err)
	}
	f.deliver(ctx, mailer.Message{Kind: mailer.KindResetPassword, To: a.Email, Link: f.cfg.Links.ResetPassword(raw)})
	f.log.Info("password reset requested", zap.String("account_id", a.ID.String()))
	return raw, nil
}

// lookupQuiet returns nil for unknown or inactive accounts.
func (f *AuthFlows) lookupQuiet(ctx context.Context, email string) (*model.Account, error) {
	a, err := f.store.Accounts().GetByEmail(ctx, NormalizeEmail(email))
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, internal(fmt.Errorf("load account: %w", err))
	case !a.IsActive:
		return nil, nil
	}
	return a, nil
}

// ResetPassword consumes a reset token and sets a new password. Every session of the
// account is revoked.
func (f *AuthFlows) ResetPassword(ctx context.Context, raw, newPassword string) error {
	v := errs.NewValidation()
	if strings.TrimSpace(raw) == "" {
		v.Add("token", "is required")
	}
	f.cfg.Passwords.Check(v, "newPassword", newPassword)
	if err := v.OrNil(); err != nil {
		return err
	}
	_, err := f.lc.ConsumeResetPassword(ctx, raw, newPassword)
	return internal(err)
}

// Me resolves a bearer access token to its account.
func (f *AuthFlows) Me(ctx context.Context, bearer string) (*model.Account, error) {
	a, _, err := f.lc.Authenticate(ctx, bearer)
	if err != nil {
		return nil, internal(err)
	}
	return a, nil
}

// LogoutAll ends every session of the bearer's account.
func (f *AuthFlows) LogoutAll(ctx context.Context, bearer string) error {
	a, _, err := f.lc.Authenticate(ctx, bearer)
	if err != nil {
		return internal(err)
	}
	return internal(f.lc.RevokeAllForAccount(ctx, a.ID))
}

func (f *AuthFlows) deliver(ctx context.Context, msg mailer.Message) {
	if err := f.mail.Send(ctx, msg); err != nil {
		f.log.Error("mail delivery failed", zap.String("kind", string(msg.Kind)), zap.Error(err))
	}
}

// internal passes client-facing failures through and marks everything else ErrInternal.
func internal(err error) error {
	switch {
	case err == nil,
		errs.IsTokenError(err),
		errors.Is(err, errs.ErrInternal),
		errors.Is(err, errs.ErrValidation),
		errors.Is(err, errs.ErrUnauthorized),
		errors.Is(err, errs.ErrRateLimited),
		errors.Is(err, errs.ErrAlreadyExists),
		errors.Is(err, errs.ErrAccountUnverified):
		return err
	}
	return fmt.Errorf("%w: %w", errs.ErrInternal, err)
}
