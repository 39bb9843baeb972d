package httpapi

import (
	"time"

	"github.com/and161185/goph-auth/internal/model"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type userDTO struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName"`
	IsActive    bool       `json:"isActive"`
	Verified    bool       `json:"verified"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func toUserDTO(a *model.Account) userDTO {
	return userDTO{
		ID:          a.ID.String(),
		Email:       a.Email,
		DisplayName: a.DisplayName,
		IsActive:    a.IsActive,
		Verified:    a.Verified(),
		VerifiedAt:  a.VerifiedAt,
		LastLogin:   a.LastLogin,
		CreatedAt:   a.CreatedAt,
	}
}

type tokensResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	TokenType        string    `json:"tokenType"`
	ExpiresIn        int64     `json:"expiresIn"` // seconds
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	User             *userDTO  `json:"user,omitempty"`
}

func toTokensResponse(t model.Tokens, a *model.Account) tokensResponse {
	out := tokensResponse{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(t.ExpiresIn / time.Second),
		ExpiresAt:        t.ExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
	}
	if a != nil {
		u := toUserDTO(a)
		out.User = &u
	}
	return out
}

type signupResponse struct {
	User              userDTO `json:"user"`
	VerificationSent  bool    `json:"verificationSent"`
	VerificationToken string  `json:"verificationToken,omitempty"`
	VerificationURL   string  `json:"verificationUrl,omitempty"`
}

type userResponse struct {
	Message string  `json:"message,omitempty"`
	User    userDTO `json:"user"`
}

type actionResponse struct {
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
}
