package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/and161185/goph-auth/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var allTypes = []model.TokenType{
	model.TokenAccess, model.TokenRefresh, model.TokenEmailVerification, model.TokenResetPassword,
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCodec(t *testing.T, clk *clock) *Codec {
	t.Helper()
	c, err := NewCodec(Config{
		Keys: map[model.TokenType][]byte{
			model.TokenAccess:            []byte("access-key"),
			model.TokenRefresh:           []byte("refresh-key"),
			model.TokenEmailVerification: []byte("action-key"),
			model.TokenResetPassword:     []byte("action-key"),
		},
		Issuer: "goph-auth",
		Now:    clk.now,
	})
	require.NoError(t, err)
	return c
}

func TestCodec_IssueVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Now()}
	c := newTestCodec(t, clk)
	id := uuid.Must(uuid.NewV4())

	for _, typ := range allTypes {
		tok, issued, err := c.Issue(id, "a@x.com", typ, 3)
		require.NoError(t, err)
		require.Equal(t, 3, strings.Count(tok, ".")+1)

		got, err := c.Verify(tok, typ)
		require.NoError(t, err, typ)
		gotID, err := got.AccountID()
		require.NoError(t, err)
		require.Equal(t, id, gotID)
		require.Equal(t, "a@x.com", got.Email)
		require.Equal(t, typ, got.Type)
		require.Equal(t, int64(3), got.TokenVersion)
		require.Equal(t, issued.ID, got.ID)
	}
}

func TestCodec_VerifyUntilExpiry(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Now()}
	c := newTestCodec(t, clk)
	id := uuid.Must(uuid.NewV4())
	start := clk.t

	for _, typ := range allTypes {
		tok, _, err := c.Issue(id, "a@x.com", typ, 0)
		require.NoError(t, err)

		clk.t = start.Add(c.TTL(typ) - time.Second)
		_, err = c.Verify(tok, typ)
		require.NoError(t, err, "just before expiry: %s", typ)

		clk.t = start.Add(c.TTL(typ) + time.Second)
		claims, err := c.Verify(tok, typ)
		require.ErrorIs(t, err, ErrExpired, typ)
		require.NotNil(t, claims, "expired verification keeps claims")
		clk.t = start
	}
}

func TestCodec_IssueIsUnique(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t, &clock{t: time.Now()})
	id := uuid.Must(uuid.NewV4())
	a, _, err := c.Issue(id, "a@x.com", model.TokenRefresh, 0)
	require.NoError(t, err)
	b, _, err := c.Issue(id, "a@x.com", model.TokenRefresh, 0)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestCodec_TypeConfusion(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t, &clock{t: time.Now()})
	id := uuid.Must(uuid.NewV4())

	access, _, _ := c.Issue(id, "a@x.com", model.TokenAccess, 0)
	_, err := c.Verify(access, model.TokenRefresh)
	require.ErrorIs(t, err, ErrInvalidSignature, "different key per type")

	// Same key, different claimed type.
	reset, _, _ := c.Issue(id, "a@x.com", model.TokenResetPassword, 0)
	_, err = c.Verify(reset, model.TokenEmailVerification)
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestCodec_Rejects(t *testing.T) {
	t.Parallel()

	clk := &clock{t: time.Now()}
	c := newTestCodec(t, clk)
	id := uuid.Must(uuid.NewV4())
	tok, _, _ := c.Issue(id, "a@x.com", model.TokenAccess, 0)

	_, err := c.Verify("not-a-jwt", model.TokenAccess)
	require.ErrorIs(t, err, ErrMalformed)

	tampered := tok[:len(tok)-2] + "xx"
	_, err = c.Verify(tampered, model.TokenAccess)
	require.ErrorIs(t, err, ErrInvalidSignature)

	// Foreign key.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Type: model.TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			Issuer:    "goph-auth",
			IssuedAt:  jwt.NewNumericDate(clk.t),
			ExpiresAt: jwt.NewNumericDate(clk.t.Add(time.Hour)),
		},
	}).SignedString([]byte("attacker"))
	require.NoError(t, err)
	_, err = c.Verify(forged, model.TokenAccess)
	require.ErrorIs(t, err, ErrInvalidSignature)

	// Wrong algorithm with the right key.
	hs384, err := jwt.NewWithClaims(jwt.SigningMethodHS384, &Claims{
		Type: model.TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			Issuer:    "goph-auth",
			IssuedAt:  jwt.NewNumericDate(clk.t),
			ExpiresAt: jwt.NewNumericDate(clk.t.Add(time.Hour)),
		},
	}).SignedString([]byte("access-key"))
	require.NoError(t, err)
	_, err = c.Verify(hs384, model.TokenAccess)
	require.ErrorIs(t, err, ErrInvalidSignature)

	// Missing expiry.
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Type: model.TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.String(),
			Issuer:   "goph-auth",
			IssuedAt: jwt.NewNumericDate(clk.t),
		},
	}).SignedString([]byte("access-key"))
	require.NoError(t, err)
	_, err = c.Verify(noExp, model.TokenAccess)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrExpired))
}

func TestNewCodec_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewCodec(Config{Keys: map[model.TokenType][]byte{model.TokenAccess: []byte("k")}})
	require.Error(t, err, "missing keys")

	keys := map[model.TokenType][]byte{}
	for _, typ := range allTypes {
		keys[typ] = []byte("k")
	}
	_, err = NewCodec(Config{Keys: keys, TTLs: map[model.TokenType]time.Duration{model.TokenAccess: -time.Minute}})
	require.Error(t, err, "negative ttl")

	_, err = NewCodec(Config{Keys: keys, Leeway: time.Hour})
	require.Error(t, err, "leeway too large")

	c, err := NewCodec(Config{Keys: keys})
	require.NoError(t, err)
	require.Equal(t, DefaultTTLs[model.TokenRefresh], c.TTL(model.TokenRefresh))
}
