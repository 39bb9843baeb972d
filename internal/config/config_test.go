package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

var keys = map[string]string{"JWT_ACCESS_KEY": "access-secret", "JWT_REFRESH_KEY": "refresh-secret"}

func TestParse_Defaults(t *testing.T) {
	c, err := Parse(nil, env(keys))
	require.NoError(t, err)

	require.Equal(t, ":8080", c.HTTPAddr)
	require.Equal(t, ":8081", c.GRPCAddr)
	require.Empty(t, c.DSN)
	require.Equal(t, 15*time.Minute, c.AccessTTL)
	require.Equal(t, 7*24*time.Hour, c.RefreshTTL)
	require.Equal(t, 7*24*time.Hour, c.VerificationTTL)
	require.Equal(t, 15*time.Minute, c.ResetTTL)
	require.Equal(t, 12, c.BcryptCost)
	require.True(t, c.RequireVerified)
	require.False(t, c.ExposeTokens)
	require.Equal(t, 5, c.MaxRefreshTokens)
	require.Equal(t, zapcore.InfoLevel, c.Level())
}

func TestParse_FlagsOverrideEnv(t *testing.T) {
	m := map[string]string{
		"JWT_ACCESS_KEY":  "a",
		"JWT_REFRESH_KEY": "r",
		"ACCESS_TTL":      "5m",
		"EXPOSE_TOKENS":   "true",
		"LOG_LEVEL":       "debug",
		"CORS_ORIGINS":    "http://a.test, http://b.test ,",
	}
	c, err := Parse([]string{"-access-ttl=1m", "-http-addr=:9000"}, env(m))
	require.NoError(t, err)

	require.Equal(t, time.Minute, c.AccessTTL)
	require.Equal(t, ":9000", c.HTTPAddr)
	require.True(t, c.ExposeTokens)
	require.Equal(t, zapcore.DebugLevel, c.Level())
	require.Equal(t, "http://a.test, http://b.test ,", c.CORSOrigins)
}

func TestParse_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{name: "missing keys", env: map[string]string{}, want: "jwt access key is required"},
		{name: "same keys", env: map[string]string{"JWT_ACCESS_KEY": "k", "JWT_REFRESH_KEY": "k"}, want: "must differ"},
		{name: "bad env duration", env: merge(keys, "REFRESH_TTL", "forever"), want: "REFRESH_TTL"},
		{name: "bad env bool", env: merge(keys, "REQUIRE_VERIFIED", "maybe"), want: "REQUIRE_VERIFIED"},
		{name: "non-positive ttl", env: keys, args: []string{"-reset-ttl=0s"}, want: "reset-ttl must be positive"},
		{name: "bad level", env: keys, args: []string{"-log-level=loud"}, want: "log-level"},
		{name: "zero refresh cap", env: keys, args: []string{"-max-refresh-tokens=0"}, want: "max-refresh-tokens"},
		{name: "action key reuse", env: merge(keys, "JWT_ACTION_KEY", "access-secret"), want: "action key"},
		{name: "unknown flag", env: keys, args: []string{"-nope"}, want: "nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.args, env(tc.env))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestActionSigningKey(t *testing.T) {
	c, err := Parse(nil, env(keys))
	require.NoError(t, err)
	derived := c.ActionSigningKey()
	require.Len(t, derived, 32)
	require.NotEqual(t, []byte(c.RefreshKey), derived)

	c.ActionKey = "action-secret"
	require.Equal(t, []byte("action-secret"), c.ActionSigningKey())
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("JWT_ACCESS_KEY=from-file-a\nJWT_REFRESH_KEY=from-file-r\nBCRYPT_COST=10\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("JWT_ACCESS_KEY", "from-env")
	// godotenv never overrides variables already set
	t.Cleanup(func() {
		_ = os.Unsetenv("JWT_REFRESH_KEY")
		_ = os.Unsetenv("BCRYPT_COST")
	})

	c, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "from-env", c.AccessKey)
	require.Equal(t, "from-file-r", c.RefreshKey)
	require.Equal(t, 10, c.BcryptCost)
}

func TestLoad_NoDotEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_ACCESS_KEY", "a")
	t.Setenv("JWT_REFRESH_KEY", "r")

	_, err := Load(nil)
	require.NoError(t, err)
}

func merge(base map[string]string, k, v string) map[string]string {
	out := map[string]string{k: v}
	for bk, bv := range base {
		if _, ok := out[bk]; !ok {
			out[bk] = bv
		}
	}
	return out
}
