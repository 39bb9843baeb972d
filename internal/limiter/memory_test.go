package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_BlocksAfterMaxFailsAndExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(Policy{Window: time.Minute, MaxFails: 3, BlockFor: 5 * time.Minute})
	m.now = func() time.Time { return now }
	ctx := context.Background()
	ip := HashIP("10.0.0.1")

	for i := 0; i < 2; i++ {
		blocked, _, err := m.Failure(ctx, "a@x.com", ip)
		require.NoError(t, err)
		require.False(t, blocked)
	}
	blocked, d, err := m.Failure(ctx, "a@x.com", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, 5*time.Minute, d)

	ok, retry, err := m.Allow(ctx, "a@x.com", ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 5*time.Minute, retry)

	// other client is unaffected
	ok, _, _ = m.Allow(ctx, "a@x.com", HashIP("10.0.0.2"))
	require.True(t, ok)

	now = now.Add(6 * time.Minute)
	ok, _, _ = m.Allow(ctx, "a@x.com", ip)
	require.True(t, ok)
}

func TestMemory_WindowResetsCount(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(Policy{Window: time.Minute, MaxFails: 2, BlockFor: time.Minute})
	m.now = func() time.Time { return now }
	ctx := context.Background()

	blocked, _, _ := m.Failure(ctx, "a@x.com", nil)
	require.False(t, blocked)
	now = now.Add(2 * time.Minute)
	blocked, _, _ = m.Failure(ctx, "a@x.com", nil)
	require.False(t, blocked)
}

func TestMemory_SuccessClears(t *testing.T) {
	m := NewMemory(Policy{Window: time.Minute, MaxFails: 1, BlockFor: time.Hour})
	ctx := context.Background()

	blocked, _, _ := m.Failure(ctx, "a@x.com", nil)
	require.True(t, blocked)
	require.NoError(t, m.Success(ctx, "a@x.com", nil))
	ok, _, _ := m.Allow(ctx, "a@x.com", nil)
	require.True(t, ok)
}

func TestNop_NeverBlocks(t *testing.T) {
	var l Limiter = Nop{}
	blocked, _, err := l.Failure(context.Background(), "a", nil)
	require.NoError(t, err)
	require.False(t, blocked)
	ok, _, _ := l.Allow(context.Background(), "a", nil)
	require.True(t, ok)
}
