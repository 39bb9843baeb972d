package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/and161185/goph-auth/internal/crypto"
	"github.com/and161185/goph-auth/internal/errs"
	"github.com/and161185/goph-auth/internal/limiter"
	"github.com/and161185/goph-auth/internal/mailer"
	"github.com/and161185/goph-auth/internal/model"
	"github.com/and161185/goph-auth/internal/repository/memory"
	"github.com/and161185/goph-auth/internal/service"
	"github.com/and161185/goph-auth/internal/token"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

type api struct {
	t     *testing.T
	h     http.Handler
	store *memory.Store
}

func newAPI(t *testing.T) *api {
	t.Helper()
	log := zaptest.NewLogger(t)
	codec, err := token.NewCodec(token.Config{
		Keys: map[model.TokenType][]byte{
			model.TokenAccess:            []byte("access-key-0123456789"),
			model.TokenRefresh:           []byte("refresh-key-0123456789"),
			model.TokenEmailVerification: []byte("action-key-0123456789"),
			model.TokenResetPassword:     []byte("action-key-0123456789"),
		},
	})
	require.NoError(t, err)
	store := memory.New()
	hasher := crypto.NewHasher(bcrypt.MinCost)
	lc := service.NewLifecycle(store, codec, hasher, log)
	flows, err := service.NewAuthFlows(store, lc, hasher, limiter.NewMemory(limiter.DefaultPolicy), mailer.NewLogMailer(log),
		service.AuthConfig{RequireVerified: true, Links: mailer.Links{BaseURL: "http://test"}}, log)
	require.NoError(t, err)

	return &api{t: t, store: store, h: NewRouter(Options{
		Flows:          flows,
		Log:            log,
		ExposeTokens:   true,
		AllowedOrigins: []string{"http://localhost:4200"},
		Ping:           store.Ping,
	})}
}

func (a *api) do(method, path string, body any, bearer string) (int, map[string]any) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (a *api) signupVerified(email string) {
	a.t.Helper()
	code, body := a.do(http.MethodPost, "/api/auth/signup", map[string]string{"email": email, "password": "Passw0rd!", "name": "Ann"}, "")
	require.Equal(a.t, http.StatusCreated, code, body)
	code, body = a.do(http.MethodPost, "/api/auth/verify-email", map[string]string{"token": body["verificationToken"].(string)}, "")
	require.Equal(a.t, http.StatusOK, code, body)
}

func (a *api) login(email, password string) map[string]any {
	a.t.Helper()
	code, body := a.do(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password}, "")
	require.Equal(a.t, http.StatusOK, code, body)
	return body
}

func TestAPI_SignupVerifyLogin(t *testing.T) {
	a := newAPI(t)

	code, body := a.do(http.MethodPost, "/api/auth/signup", map[string]string{"email": "a@x.com", "password": "Passw0rd!", "name": "Ann"}, "")
	require.Equal(t, http.StatusCreated, code, body)
	user := body["user"].(map[string]any)
	require.Equal(t, "a@x.com", user["email"])
	require.Equal(t, false, user["verified"])
	require.NotContains(t, user, "password")
	require.NotContains(t, user, "passwordHash")
	verification := body["verificationToken"].(string)
	require.Contains(t, body["verificationUrl"], verification)

	code, body = a.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "a@x.com", "password": "Passw0rd!"}, "")
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, codeUnverified, body["error"])

	code, body = a.do(http.MethodGet, "/api/auth/verify-email/"+verification, nil, "")
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, true, body["user"].(map[string]any)["verified"])

	code, _ = a.do(http.MethodGet, "/api/auth/verify-email/"+verification, nil, "")
	require.Equal(t, http.StatusBadRequest, code, "second use of a verification link")

	body = a.login("a@x.com", "Passw0rd!")
	require.NotEmpty(t, body["accessToken"])
	require.NotEmpty(t, body["refreshToken"])
	require.Equal(t, "Bearer", body["tokenType"])
	require.EqualValues(t, 900, body["expiresIn"])
	require.NotEmpty(t, body["expiresAt"])
	require.Equal(t, "a@x.com", body["user"].(map[string]any)["email"])
}

func TestAPI_SignupErrors(t *testing.T) {
	a := newAPI(t)
	a.signupVerified("a@x.com")

	code, body := a.do(http.MethodPost, "/api/auth/signup", map[string]string{"email": "A@x.com", "password": "Passw0rd!", "name": "Ann"}, "")
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, codeConflict, body["error"])

	code, body = a.do(http.MethodPost, "/api/auth/signup", map[string]string{"email": "bad", "password": "password", "name": "A"}, "")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, codeValidation, body["error"])
	fields := body["fields"].(map[string]any)
	require.Contains(t, fields, "email")
	require.Contains(t, fields, "password")
	require.Contains(t, fields, "name")

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_LoginFailuresLookIdentical(t *testing.T) {
	a := newAPI(t)
	a.signupVerified("a@x.com")
	a.signupVerified("off@x.com")
	off, err := a.store.Accounts().GetByEmail(context.Background(), "off@x.com")
	require.NoError(t, err)
	inactive := false
	require.NoError(t, a.store.Accounts().Update(context.Background(), off.ID, model.AccountUpdate{IsActive: &inactive}))

	var bodies []map[string]any
	for _, c := range [][2]string{
		{"a@x.com", "Wrong-Passw0rd"},
		{"ghost@x.com", "Passw0rd!"},
		{"off@x.com", "Passw0rd!"},
	} {
		code, body := a.do(http.MethodPost, "/api/auth/login", map[string]string{"email": c[0], "password": c[1]}, "")
		require.Equal(t, http.StatusUnauthorized, code, c[0])
		bodies = append(bodies, body)
	}
	require.Equal(t, bodies[0], bodies[1])
	require.Equal(t, bodies[0], bodies[2])
	require.Equal(t, codeInvalidCredentials, bodies[0]["error"])
}

func TestAPI_RefreshRotation(t *testing.T) {
	a := newAPI(t)
	a.signupVerified("a@x.com")
	r1 := a.login("a@x.com", "Passw0rd!")["refreshToken"].(string)

	code, body := a.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": r1}, "")
	require.Equal(t, http.StatusOK, code, body)
	r2 := body["refreshToken"].(string)
	require.NotEqual(t, r1, r2)
	require.NotEmpty(t, body["accessToken"])
	require.NotContains(t, body, "user")

	code, body = a.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": r1}, "")
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, codeInvalidToken, body["error"])

	code, _ = a.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": r2}, "")
	require.Equal(t, http.StatusOK, code)

	code, _ = a.do(http.MethodPost, "/api/auth/refresh", map[string]string{}, "")
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestAPI_LogoutAlwaysOK(t *testing.T) {
	a := newAPI(t)
	a.signupVerified("a@x.com")
	r := a.login("a@x.com", "Passw0rd!")["refreshToken"].(string)

	for _, body := range []any{
		map[string]string{"refreshToken": r},
		map[string]string{"refreshToken": r},
		map[string]string{"refreshToken": "garbage"},
		nil,
	} {
		code, _ := a.do(http.MethodPost, "/api/auth/logout", body, "")
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := a.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": r}, "")
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestAPI_PasswordReset(t *testing.T) {
	a := newAPI(t)
	a.signupVerified("a@x.com")
	session := a.login("a@x.com", "Passw0rd!")

	code, unknown := a.do(http.MethodPost, "/api/auth/request-password-reset", map[string]string{"email": "ghost@x.com"}, "")
	require.Equal(t, http.StatusOK, code)
	code, known := a.do(http.MethodPost, "/api/auth/request-password-reset", map[string]string{"email": "a@x.com"}, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, unknown["message"], known["message"])
	resetToken := known["token"].(string)

	code, _ = a.do(http.MethodPost, "/api/auth/reset-password", map[string]string{"token": "bogus", "newPassword": "N3w-Passw0rd"}, "")
	require.Equal(t, http.StatusBadRequest, code)

	code, body := a.do(http.MethodPost, "/api/auth/reset-password", map[string]string{"token": resetToken, "newPassword": "N3w-Passw0rd"}, "")
	require.Equal(t, http.StatusOK, code, body)

	code, _ = a.do(http.MethodPost, "/api/auth/reset-password", map[string]string{"token": resetToken, "newPassword": "N3w-Passw0rd"}, "")
	require.Equal(t, http.StatusBadRequest, code, "reset links are single use")

	code, _ = a.do(http.MethodGet, "/api/auth/me", nil, session["accessToken"].(string))
	require.Equal(t, http.StatusUnauthorized, code, "sessions end on reset")
	a.login("a@x.com", "N3w-Passw0rd")
}

func TestAPI_ResendVerification(t *testing.T) {
	a := newAPI(t)
	code, body := a.do(http.MethodPost, "/api/auth/signup", map[string]string{"email": "a@x.com", "password": "Passw0rd!", "name": "Ann"}, "")
	require.Equal(t, http.StatusCreated, code)
	old := body["verificationToken"].(string)

	code, body = a.do(http.MethodPost, "/api/auth/resend-verification", map[string]string{"email": "a@x.com"}, "")
	require.Equal(t, http.StatusOK, code)
	fresh := body["token"].(string)

	code, _ = a.do(http.MethodPost, "/api/auth/verify-email", map[string]string{"token": old}, "")
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = a.do(http.MethodPost, "/api/auth/verify-email", map[string]string{"token": fresh}, "")
	require.Equal(t, http.StatusOK, code)

	code, _ = a.do(http.MethodPost, "/api/auth/resend-verification", map[string]string{"email": "ghost@x.com"}, "")
	require.Equal(t, http.StatusOK, code)
}

func TestAPI_MeAndLogoutAll(t *testing.T) {
	a := newAPI(t)
	a.signupVerified("a@x.com")
	s := a.login("a@x.com", "Passw0rd!")
	access := s["accessToken"].(string)

	code, body := a.do(http.MethodGet, "/api/auth/me", nil, access)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "a@x.com", body["user"].(map[string]any)["email"])

	code, _ = a.do(http.MethodGet, "/api/auth/me", nil, "")
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = a.do(http.MethodPost, "/api/auth/logout-all", nil, access)
	require.Equal(t, http.StatusOK, code)

	code, _ = a.do(http.MethodGet, "/api/auth/me", nil, access)
	require.Equal(t, http.StatusUnauthorized, code)
	code, _ = a.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": s["refreshToken"].(string)}, "")
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestAPI_HealthAndCORS(t *testing.T) {
	a := newAPI(t)
	code, _ := a.do(http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, code)
	code, _ = a.do(http.MethodGet, "/readyz", nil, "")
	require.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	require.Equal(t, "http://localhost:4200", rec.Header().Get("Access-Control-Allow-Origin"))
}

// stubFlows returns canned errors; embedded nil interface panics on anything not overridden.
type stubFlows struct {
	Flows
	err error
}

func (s stubFlows) Login(context.Context, string, string, string) (service.LoginResult, error) {
	return service.LoginResult{}, s.err
}

func (s stubFlows) Me(context.Context, string) (*model.Account, error) {
	panic("boom")
}

func (s stubFlows) Logout(context.Context, string) error { return s.err }

func TestAPI_LogoutStoreFailureStillOK(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	h := NewRouter(Options{Flows: stubFlows{err: errors.New("connection reset")}, Log: zap.New(core)})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", bytes.NewBufferString(`{"refreshToken":"r"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "logged out")
	require.Equal(t, 1, logs.FilterMessage("logout revoke failed").Len())
}

func TestAPI_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
		want string
	}{
		{errs.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited},
		{errs.ErrAccountUnverified, http.StatusForbidden, codeUnverified},
		{errs.ErrUnauthorized, http.StatusUnauthorized, codeInvalidCredentials},
		{errors.New("db exploded"), http.StatusInternalServerError, codeInternal},
	}
	for _, c := range cases {
		h := NewRouter(Options{Flows: stubFlows{err: c.err}, Log: zap.NewNop()})
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"email":"a@x.com","password":"p"}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, c.code, rec.Code, c.err)

		var body errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, c.want, body.Error)
		require.NotContains(t, body.Message, "db exploded")
	}
}

func TestAPI_PanicBecomes500(t *testing.T) {
	h := NewRouter(Options{Flows: stubFlows{}, Log: zap.NewNop()})
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAPI_ReadyzReportsStoreFailure(t *testing.T) {
	h := NewRouter(Options{Flows: stubFlows{}, Ping: func(context.Context) error { return errors.New("down") }})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBearerTokenAndOrigins(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Empty(t, bearerToken(req))
	req.Header.Set("Authorization", "bearer abc ")
	require.Equal(t, "abc", bearerToken(req))
	req.Header.Set("Authorization", "Basic abc")
	require.Empty(t, bearerToken(req))

	require.Equal(t, []string{"http://a", "https://b"}, ParseOrigins(" http://a/ ,, https://b"))
}
