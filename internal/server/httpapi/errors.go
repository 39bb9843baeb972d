package httpapi

import (
	"errors"
	"net/http"

	"github.com/and161185/goph-auth/internal/errs"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Stable error codes returned to clients.
const (
	codeValidation         = "validation_failed"
	codeInvalidCredentials = "invalid_credentials"
	codeInvalidToken       = "invalid_token"
	codeUnverified         = "email_not_verified"
	codeConflict           = "email_taken"
	codeRateLimited        = "too_many_attempts"
	codeInternal           = "internal"
)

// writeError maps service errors onto HTTP. tokenStatus is the status used for token
// failures, which differs between session endpoints (401) and one-shot links (400).
// Token failures share one message so callers cannot tell why a token was refused.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, tokenStatus int) {
	var ve *errs.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: codeValidation, Message: "request validation failed", Fields: ve.Fields})
	case errors.Is(err, errs.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: codeInvalidCredentials, Message: "invalid email or password"})
	case errors.Is(err, errs.ErrAccountUnverified):
		writeJSON(w, http.StatusForbidden, errorBody{Error: codeUnverified, Message: "email address is not verified"})
	case errs.IsTokenError(err):
		writeJSON(w, tokenStatus, errorBody{Error: codeInvalidToken, Message: "token is invalid or expired"})
	case errors.Is(err, errs.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody{Error: codeConflict, Message: "email is already registered"})
	case errors.Is(err, errs.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: codeRateLimited, Message: "too many attempts, try again later"})
	default:
		h.log.Error("request failed",
			zap.String("route", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: codeInternal, Message: "internal error"})
	}
	if errs.IsTokenError(err) {
		h.log.Debug("token rejected", zap.String("route", r.URL.Path), zap.Error(err))
	}
}
