// Package config loads server settings from flags, the environment and an optional .env file.
// Precedence is flag > environment > .env > built-in default.
package config

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// Config holds every setting of gk-auth.
type Config struct {
	HTTPAddr string
	GRPCAddr string
	// DSN selects PostgreSQL. Empty runs on the in-memory store.
	DSN string

	AccessKey  string
	RefreshKey string
	// ActionKey signs verification and reset tokens. Empty derives one from RefreshKey.
	ActionKey string
	Issuer    string

	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	VerificationTTL time.Duration
	ResetTTL        time.Duration

	BcryptCost       int
	RequireVerified  bool
	ExposeTokens     bool
	BaseURL          string
	MaxRefreshTokens int

	LimitWindow   time.Duration
	LimitMaxFails int
	LimitBlock    time.Duration

	LogLevel        string
	CORSOrigins     string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	ProbeInterval   time.Duration
	Reflection      bool
}

// Load reads .env from the working directory when present, then parses args over the
// process environment.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse(args, os.LookupEnv)
}

// Parse builds a Config from args, taking flag defaults from lookup.
func Parse(args []string, lookup func(string) (string, bool)) (*Config, error) {
	e := envReader{lookup: lookup}
	c := &Config{}

	fs := flag.NewFlagSet("gk-auth", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&c.HTTPAddr, "http-addr", e.str("AUTH_HTTP_ADDR", ":8080"), "HTTP API listen address")
	fs.StringVar(&c.GRPCAddr, "grpc-addr", e.str("AUTH_GRPC_ADDR", ":8081"), "gRPC health listen address, empty disables")
	fs.StringVar(&c.DSN, "dsn", e.str("DATABASE_URL", ""), "PostgreSQL DSN, empty uses the in-memory store")

	fs.StringVar(&c.AccessKey, "jwt-access-key", e.str("JWT_ACCESS_KEY", ""), "HS256 key for access tokens (required)")
	fs.StringVar(&c.RefreshKey, "jwt-refresh-key", e.str("JWT_REFRESH_KEY", ""), "HS256 key for refresh tokens (required)")
	fs.StringVar(&c.ActionKey, "jwt-action-key", e.str("JWT_ACTION_KEY", ""), "HS256 key for verification and reset tokens")
	fs.StringVar(&c.Issuer, "jwt-issuer", e.str("JWT_ISSUER", "gk-auth"), "iss claim")

	fs.DurationVar(&c.AccessTTL, "access-ttl", e.dur("ACCESS_TTL", 15*time.Minute), "access token TTL")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", e.dur("REFRESH_TTL", 7*24*time.Hour), "refresh token TTL")
	fs.DurationVar(&c.VerificationTTL, "verification-ttl", e.dur("VERIFICATION_TTL", 7*24*time.Hour), "email verification token TTL")
	fs.DurationVar(&c.ResetTTL, "reset-ttl", e.dur("RESET_TTL", 15*time.Minute), "password reset token TTL")

	fs.IntVar(&c.BcryptCost, "bcrypt-cost", e.integer("BCRYPT_COST", 12), "bcrypt work factor")
	fs.BoolVar(&c.RequireVerified, "require-verified", e.boolean("REQUIRE_VERIFIED", true), "reject logins of unverified accounts")
	fs.BoolVar(&c.ExposeTokens, "expose-tokens", e.boolean("EXPOSE_TOKENS", false), "return verification and reset tokens in responses (dev only)")
	fs.StringVar(&c.BaseURL, "base-url", e.str("PUBLIC_BASE_URL", "http://localhost:8080"), "public base URL for emailed links")
	fs.IntVar(&c.MaxRefreshTokens, "max-refresh-tokens", e.integer("MAX_REFRESH_TOKENS", 5), "outstanding refresh tokens kept per account")

	fs.DurationVar(&c.LimitWindow, "limit-window", e.dur("LOGIN_LIMIT_WINDOW", 15*time.Minute), "failed login counting window")
	fs.IntVar(&c.LimitMaxFails, "limit-max-fails", e.integer("LOGIN_LIMIT_MAX_FAILS", 5), "failed logins before a block")
	fs.DurationVar(&c.LimitBlock, "limit-block", e.dur("LOGIN_LIMIT_BLOCK", 15*time.Minute), "block duration")

	fs.StringVar(&c.LogLevel, "log-level", e.str("LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.StringVar(&c.CORSOrigins, "cors-origins", e.str("CORS_ORIGINS", ""), "comma separated allowed origins")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", e.dur("REQUEST_TIMEOUT", 10*time.Second), "per request timeout")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", e.dur("SHUTDOWN_TIMEOUT", 5*time.Second), "graceful shutdown limit")
	fs.DurationVar(&c.ProbeInterval, "probe-interval", e.dur("PROBE_INTERVAL", 10*time.Second), "store health probe interval")
	fs.BoolVar(&c.Reflection, "dev", e.boolean("GRPC_REFLECTION", false), "enable gRPC reflection (dev only)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := errors.Join(append(e.errs, c.Validate())...); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks required keys and ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.AccessKey == "" {
		errs = append(errs, errors.New("jwt access key is required"))
	}
	if c.RefreshKey == "" {
		errs = append(errs, errors.New("jwt refresh key is required"))
	}
	if c.AccessKey != "" && c.AccessKey == c.RefreshKey {
		errs = append(errs, errors.New("jwt access and refresh keys must differ"))
	}
	if c.ActionKey != "" && (c.ActionKey == c.AccessKey || c.ActionKey == c.RefreshKey) {
		errs = append(errs, errors.New("jwt action key must differ from access and refresh keys"))
	}
	for name, d := range map[string]time.Duration{
		"access-ttl":       c.AccessTTL,
		"refresh-ttl":      c.RefreshTTL,
		"verification-ttl": c.VerificationTTL,
		"reset-ttl":        c.ResetTTL,
		"shutdown-timeout": c.ShutdownTimeout,
		"probe-interval":   c.ProbeInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.MaxRefreshTokens < 1 {
		errs = append(errs, errors.New("max-refresh-tokens must be at least 1"))
	}
	if c.LimitMaxFails < 1 || c.LimitWindow <= 0 || c.LimitBlock <= 0 {
		errs = append(errs, errors.New("login limiter settings must be positive"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http-addr is required"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log-level: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level. Call after Validate.
func (c *Config) Level() zapcore.Level {
	l, _ := zapcore.ParseLevel(c.LogLevel)
	return l
}

// ActionSigningKey returns ActionKey, or an HMAC of RefreshKey when it is unset.
func (c *Config) ActionSigningKey() []byte {
	if c.ActionKey != "" {
		return []byte(c.ActionKey)
	}
	mac := hmac.New(sha256.New, []byte(c.RefreshKey))
	mac.Write([]byte("gk-auth/action"))
	return mac.Sum(nil)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *envReader) dur(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (e *envReader) integer(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *envReader) boolean(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}
