package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// apiError is a non-2xx answer of the auth API.
type apiError struct {
	Status  int               `json:"-"`
	Code    string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields"`
}

func (e *apiError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s: %s", e.Status, e.Code, e.Message)
	for k, v := range e.Fields {
		fmt.Fprintf(&b, "\n  %s %s", k, v)
	}
	return b.String()
}

type user struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName"`
	Verified    bool       `json:"verified"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
}

type tokens struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	User             *user     `json:"user,omitempty"`
}

type signupReply struct {
	User              user   `json:"user"`
	VerificationSent  bool   `json:"verificationSent"`
	VerificationToken string `json:"verificationToken,omitempty"`
}

type messageReply struct {
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
	User    *user  `json:"user,omitempty"`
}

// client talks JSON to the /api/auth endpoints.
type client struct {
	base string
	hc   *http.Client
}

func newClient(base string, tlsConf *tls.Config, timeout time.Duration) *client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsConf
	return &client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Transport: tr, Timeout: timeout},
	}
}

func (c *client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+"/api/auth"+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		ae := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(ae); err != nil {
			ae.Message = http.StatusText(resp.StatusCode)
		}
		return ae
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) signup(ctx context.Context, email, password, name string) (signupReply, error) {
	var r signupReply
	err := c.do(ctx, http.MethodPost, "/signup", "", map[string]string{"email": email, "password": password, "name": name}, &r)
	return r, err
}

func (c *client) login(ctx context.Context, email, password string) (tokens, error) {
	var r tokens
	err := c.do(ctx, http.MethodPost, "/login", "", map[string]string{"email": email, "password": password}, &r)
	return r, err
}

func (c *client) refresh(ctx context.Context, refreshToken string) (tokens, error) {
	var r tokens
	err := c.do(ctx, http.MethodPost, "/refresh", "", map[string]string{"refreshToken": refreshToken}, &r)
	return r, err
}

func (c *client) logout(ctx context.Context, refreshToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", "", map[string]string{"refreshToken": refreshToken}, nil)
}

func (c *client) logoutAll(ctx context.Context, access string) error {
	return c.do(ctx, http.MethodPost, "/logout-all", access, nil, nil)
}

func (c *client) me(ctx context.Context, access string) (user, error) {
	var r struct {
		User user `json:"user"`
	}
	err := c.do(ctx, http.MethodGet, "/me", access, nil, &r)
	return r.User, err
}

func (c *client) verifyEmail(ctx context.Context, token string) (messageReply, error) {
	var r messageReply
	err := c.do(ctx, http.MethodPost, "/verify-email", "", map[string]string{"token": token}, &r)
	return r, err
}

func (c *client) resendVerification(ctx context.Context, email string) (messageReply, error) {
	var r messageReply
	err := c.do(ctx, http.MethodPost, "/resend-verification", "", map[string]string{"email": email}, &r)
	return r, err
}

func (c *client) requestPasswordReset(ctx context.Context, email string) (messageReply, error) {
	var r messageReply
	err := c.do(ctx, http.MethodPost, "/request-password-reset", "", map[string]string{"email": email}, &r)
	return r, err
}

func (c *client) resetPassword(ctx context.Context, token, newPassword string) (messageReply, error) {
	var r messageReply
	err := c.do(ctx, http.MethodPost, "/reset-password", "", map[string]string{"token": token, "newPassword": newPassword}, &r)
	return r, err
}

// loadTLS builds the client TLS config. A nil result uses system defaults.
func loadTLS(caPath string, insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // dev only
	}
	if caPath == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return &tls.Config{RootCAs: pool}, nil
}
