// Command gk-authctl is a command line client for the gk-auth HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ---- session store ----

type session struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

var errNoSession = errors.New("no session (login required)")

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "gk-auth")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "gk-auth")
}

func sessionPath() string { return filepath.Join(cfgDir(), "session.json") }

func saveSession(t tokens) error {
	s := session{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		ExpiresAt:        t.ExpiresAt,
		RefreshExpiresAt: t.RefreshExpiresAt,
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = tokenExpiry(t.AccessToken, time.Now().Add(15*time.Minute))
	}
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sessionPath(), b, 0o600)
}

func loadSession() (session, error) {
	b, err := os.ReadFile(sessionPath())
	if errors.Is(err, os.ErrNotExist) {
		return session{}, errNoSession
	}
	if err != nil {
		return session{}, err
	}
	var s session
	if err := json.Unmarshal(b, &s); err != nil {
		return session{}, err
	}
	if s.RefreshToken == "" {
		return session{}, errNoSession
	}
	return s, nil
}

func clearSession() error {
	err := os.Remove(sessionPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// tokenExpiry reads exp without verifying the signature; the server stays the authority.
func tokenExpiry(raw string, fallback time.Time) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil || claims.ExpiresAt == nil {
		return fallback
	}
	return claims.ExpiresAt.Time
}

// accessToken returns a usable access token, rotating the session when it has expired.
func accessToken(ctx context.Context, c *client, now time.Time) (string, error) {
	s, err := loadSession()
	if err != nil {
		return "", err
	}
	if now.Before(s.ExpiresAt.Add(-5 * time.Second)) {
		return s.AccessToken, nil
	}
	t, err := c.refresh(ctx, s.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh session: %w", err)
	}
	if err := saveSession(t); err != nil {
		return "", err
	}
	return t.AccessToken, nil
}

// ---- utils ----

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage(w io.Writer) {
	fmt.Fprint(w, `gk-authctl
Usage:
  gk-authctl [-addr URL] [-cacert file | -insecure] <cmd> [args]

Commands:
  version
  signup     -email <addr> -password <pw> -name <name>
  login      -email <addr> -password <pw>        (saves session)
  refresh                                         (rotates saved session)
  logout                                          (revokes saved refresh token)
  logout-all                                      (ends every session of the account)
  me
  verify     -token <token>
  resend     -email <addr>
  forgot     -email <addr>
  reset      -token <token> -password <new pw>
`)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

var errUsage = errors.New("usage")

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := run(ctx, os.Args[1:], os.Stdout)
	switch {
	case errors.Is(err, errUsage):
		usage(os.Stderr)
		os.Exit(2)
	case err != nil:
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run dispatches one subcommand.
func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("gk-authctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addr := fs.String("addr", envOr("GK_AUTH_ADDR", "http://localhost:8080"), "server base URL")
	caPath := fs.String("cacert", "", "CA cert (PEM)")
	insecure := fs.Bool("insecure", false, "skip cert verify (dev)")
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
		return errUsage
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	tlsConf, err := loadTLS(*caPath, *insecure)
	if err != nil {
		return err
	}
	c := newClient(*addr, tlsConf, 15*time.Second)

	switch cmd {
	case "version":
		fmt.Fprintf(out, "gk-authctl %s (%s)\n", version, buildDate)
		return nil

	case "signup":
		f := sub(cmd, "email", "password", "name")
		if err := f.parse(rest); err != nil {
			return err
		}
		r, err := c.signup(ctx, f.v["email"], f.v["password"], f.v["name"])
		if err != nil {
			return err
		}
		printJSON(out, r)
		return nil

	case "login":
		f := sub(cmd, "email", "password")
		if err := f.parse(rest); err != nil {
			return err
		}
		t, err := c.login(ctx, f.v["email"], f.v["password"])
		if err != nil {
			return err
		}
		if err := saveSession(t); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
		return nil

	case "refresh":
		s, err := loadSession()
		if err != nil {
			return err
		}
		t, err := c.refresh(ctx, s.RefreshToken)
		if err != nil {
			return err
		}
		if err := saveSession(t); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
		return nil

	case "logout":
		s, err := loadSession()
		if errors.Is(err, errNoSession) {
			fmt.Fprintln(out, "ok")
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.logout(ctx, s.RefreshToken); err != nil {
			return err
		}
		if err := clearSession(); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
		return nil

	case "logout-all":
		tok, err := accessToken(ctx, c, time.Now())
		if err != nil {
			return err
		}
		if err := c.logoutAll(ctx, tok); err != nil {
			return err
		}
		if err := clearSession(); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
		return nil

	case "me":
		tok, err := accessToken(ctx, c, time.Now())
		if err != nil {
			return err
		}
		u, err := c.me(ctx, tok)
		if err != nil {
			return err
		}
		printJSON(out, u)
		return nil

	case "verify":
		f := sub(cmd, "token")
		if err := f.parse(rest); err != nil {
			return err
		}
		r, err := c.verifyEmail(ctx, f.v["token"])
		if err != nil {
			return err
		}
		printJSON(out, r)
		return nil

	case "resend", "forgot":
		f := sub(cmd, "email")
		if err := f.parse(rest); err != nil {
			return err
		}
		call := c.resendVerification
		if cmd == "forgot" {
			call = c.requestPasswordReset
		}
		r, err := call(ctx, f.v["email"])
		if err != nil {
			return err
		}
		printJSON(out, r)
		return nil

	case "reset":
		f := sub(cmd, "token", "password")
		if err := f.parse(rest); err != nil {
			return err
		}
		r, err := c.resetPassword(ctx, f.v["token"], f.v["password"])
		if err != nil {
			return err
		}
		// every session ends on reset
		if err := clearSession(); err != nil {
			return err
		}
		printJSON(out, r)
		return nil
	}
	return errUsage
}

// subFlags is a subcommand whose string flags are all required.
type subFlags struct {
	fs *flag.FlagSet
	v  map[string]string
	p  map[string]*string
}

func sub(name string, required ...string) *subFlags {
	f := &subFlags{fs: flag.NewFlagSet(name, flag.ContinueOnError), v: map[string]string{}, p: map[string]*string{}}
	f.fs.SetOutput(io.Discard)
	for _, r := range required {
		f.p[r] = f.fs.String(r, "", r)
	}
	return f
}

func (f *subFlags) parse(args []string) error {
	if err := f.fs.Parse(args); err != nil {
		return fmt.Errorf("%s: %w", f.fs.Name(), err)
	}
	for name, p := range f.p {
		if *p == "" {
			return fmt.Errorf("%s: need -%s", f.fs.Name(), name)
		}
		f.v[name] = *p
	}
	return nil
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
