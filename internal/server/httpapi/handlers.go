package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/and161185/goph-auth/internal/errs"
	"github.com/and161185/goph-auth/internal/model"
	"github.com/and161185/goph-auth/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Flows is the authentication surface the handlers drive.
type Flows interface {
	Signup(ctx context.Context, in service.SignupInput) (service.SignupResult, error)
	Login(ctx context.Context, email, password, ip string) (service.LoginResult, error)
	Logout(ctx context.Context, refreshToken string) error
	Refresh(ctx context.Context, refreshToken string) (model.Tokens, error)
	VerifyEmail(ctx context.Context, raw string) (*model.Account, error)
	ResendVerification(ctx context.Context, email string) (string, error)
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, raw, newPassword string) error
	Me(ctx context.Context, bearer string) (*model.Account, error)
	LogoutAll(ctx context.Context, bearer string) error
}

var _ Flows = (*service.AuthFlows)(nil)

// Handler serves the auth endpoints.
type Handler struct {
	flows Flows
	log   *zap.Logger
	// exposeTokens echoes verification and reset tokens in responses. Development only.
	exposeTokens bool
}

// NewHandler builds a Handler.
func NewHandler(flows Flows, log *zap.Logger, exposeTokens bool) *Handler {
	return &Handler{flows: flows, log: log, exposeTokens: exposeTokens}
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var in signupRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	res, err := h.flows.Signup(r.Context(), service.SignupInput{Email: in.Email, Password: in.Password, Name: in.Name})
	if err != nil {
		h.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	out := signupResponse{User: toUserDTO(res.Account), VerificationSent: true}
	if h.exposeTokens {
		out.VerificationToken = res.VerificationToken
		out.VerificationURL = res.VerificationURL
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err, http.StatusUnauthorized)
		return
	}
	res, err := h.flows.Login(r.Context(), in.Email, in.Password, clientIP(r))
	if err != nil {
		h.writeError(w, r, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, toTokensResponse(res.Tokens, res.Account))
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err, http.StatusUnauthorized)
		return
	}
	if strings.TrimSpace(in.RefreshToken) == "" {
		h.writeError(w, r, errs.ErrInvalidToken, http.StatusUnauthorized)
		return
	}
	tokens, err := h.flows.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		h.writeError(w, r, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, toTokensResponse(tokens, nil))
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	// A missing or broken body still logs out: there is nothing left to revoke.
	if err := decodeJSON(w, r, &in); err != nil || in.RefreshToken == "" {
		writeJSON(w, http.StatusOK, messageBody{Message: "logged out"})
		return
	}
	// The client discards its tokens either way; a store failure only leaves the
	// refresh token to expire on its own.
	if err := h.flows.Logout(r.Context(), in.RefreshToken); err != nil {
		h.log.Error("logout revoke failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "logged out"})
}

func (h *Handler) verifyEmailPath(w http.ResponseWriter, r *http.Request) {
	h.verifyEmail(w, r, chi.URLParam(r, "token"))
}

func (h *Handler) verifyEmailBody(w http.ResponseWriter, r *http.Request) {
	var in tokenRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	h.verifyEmail(w, r, in.Token)
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request, raw string) {
	if strings.TrimSpace(raw) == "" {
		v := errs.NewValidation()
		v.Add("token", "is required")
		h.writeError(w, r, v, http.StatusBadRequest)
		return
	}
	a, err := h.flows.VerifyEmail(r.Context(), raw)
	if err != nil {
		h.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Message: "email verified", User: toUserDTO(a)})
}

func (h *Handler) resendVerification(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	raw, err := h.flows.ResendVerification(r.Context(), in.Email)
	if err != nil {
		h.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	out := actionResponse{Message: "if the account exists and is unverified, a verification link has been sent"}
	if h.exposeTokens {
		out.Token = raw
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	raw, err := h.flows.RequestPasswordReset(r.Context(), in.Email)
	if err != nil {
		h.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	out := actionResponse{Message: "if the account exists, a password reset link has been sent"}
	if h.exposeTokens {
		out.Token = raw
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in resetPasswordRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	if err := h.flows.ResetPassword(r.Context(), in.Token, in.NewPassword); err != nil {
		h.writeError(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "password updated"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	a, err := h.flows.Me(r.Context(), bearerToken(r))
	if err != nil {
		h.writeError(w, r, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: toUserDTO(a)})
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	if err := h.flows.LogoutAll(r.Context(), bearerToken(r)); err != nil {
		h.writeError(w, r, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "all sessions revoked"})
}

func bearerToken(r *http.Request) string {
	const prefix = "bearer "
	v := r.Header.Get("Authorization")
	if len(v) < len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
