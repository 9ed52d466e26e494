package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestClient_GetSet(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestClient_Prefix(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	for _, k := range []string{"p:1", "p:2", "p:3", "other"} {
		require.NoError(t, c.Set(ctx, k, []byte("x"), 0))
	}

	n, err := c.CountPrefix(ctx, "p:")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	removed, err := c.DeletePrefix(ctx, "p:")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, err = c.Get(ctx, "other")
	assert.NoError(t, err)
}

func TestClient_CheckRateLimit(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		exceeded, remaining, err := c.CheckRateLimit(ctx, "10.0.0.1", 3)
		require.NoError(t, err)
		assert.False(t, exceeded)
		assert.Equal(t, 2-i, remaining)
	}

	exceeded, remaining, err := c.CheckRateLimit(ctx, "10.0.0.1", 3)
	require.NoError(t, err)
	assert.True(t, exceeded)
	assert.Equal(t, 0, remaining)

	mr.FastForward(time.Minute + time.Second)
	exceeded, _, err = c.CheckRateLimit(ctx, "10.0.0.1", 3)
	require.NoError(t, err)
	assert.False(t, exceeded, "window resets")
}
