package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*SummaryCache, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	c := newWithProbeInterval(srv.Addr(), 10*time.Millisecond)
	t.Cleanup(func() { _ = c.Close() })

	return c, srv
}

func TestSummaryCache_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, "acct-1", "last_24h")
	require.False(t, ok, "expected miss on empty cache")

	c.Set(ctx, "acct-1", "last_24h", []byte(`{"totals":{}}`), time.Minute)

	raw, ok := c.Get(ctx, "acct-1", "last_24h")
	require.True(t, ok)
	require.JSONEq(t, `{"totals":{}}`, string(raw))

	// Windows are part of the key.
	_, ok = c.Get(ctx, "acct-1", "last_7d")
	require.False(t, ok)
}

func TestSummaryCache_TTLExpiry(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "acct-1", "last_24h", []byte(`{}`), 30*time.Second)

	srv.FastForward(29 * time.Second)
	_, ok := c.Get(ctx, "acct-1", "last_24h")
	require.True(t, ok)

	srv.FastForward(2 * time.Second)
	_, ok = c.Get(ctx, "acct-1", "last_24h")
	require.False(t, ok, "expired entry must be a plain miss")
}

func TestSummaryCache_DegradesToNoOpWhenUnreachable(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "acct-1", "last_24h", []byte(`{}`), time.Minute)
	_, ok := c.Get(ctx, "acct-1", "last_24h")
	require.True(t, ok)

	srv.Close()

	// First failing operation flips the state; neither ever errors.
	_, ok = c.Get(ctx, "acct-1", "last_24h")
	require.False(t, ok)
	require.Equal(t, StateUnavailable, c.State())

	// Subsequent operations short-circuit without touching the store.
	c.Set(ctx, "acct-1", "last_24h", []byte(`{}`), time.Minute)
	_, ok = c.Get(ctx, "acct-1", "last_24h")
	require.False(t, ok)
}

func TestSummaryCache_RecoversViaProbe(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	srv.Close()
	_, _ = c.Get(ctx, "acct-1", "last_24h")
	require.Equal(t, StateUnavailable, c.State())

	require.NoError(t, srv.Restart())

	require.Eventually(t, func() bool {
		return c.State() == StateAvailable
	}, 2*time.Second, 10*time.Millisecond, "probe should restore availability")

	c.Set(ctx, "acct-1", "last_24h", []byte(`{"ok":true}`), time.Minute)
	raw, ok := c.Get(ctx, "acct-1", "last_24h")
	require.True(t, ok)
	require.JSONEq(t, `{"ok":true}`, string(raw))
}
