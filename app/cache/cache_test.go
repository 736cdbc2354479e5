package cache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	a := GenerateKey("clusters", "45.5,-122.6|12|events")
	b := GenerateKey("clusters", "45.5,-122.6|12|events")
	c := GenerateKey("clusters", "45.5,-122.6|13|events")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "clusters:"))
}

func TestMemoryExpiresWithClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewMemory(clock, 10)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	clock.Advance(time.Minute)

	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryEvictsWhenFull(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewMemory(clock, 2)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "new", []byte("3"), time.Hour))

	_, ok, _ := c.Get(ctx, "short")
	assert.False(t, ok, "entry closest to expiry is evicted")
	_, ok, _ = c.Get(ctx, "long")
	assert.True(t, ok)
	_, ok, _ = c.Get(ctx, "new")
	assert.True(t, ok)
}

func TestMemoryDeleteAndHealth(t *testing.T) {
	c := NewMemory(nil, 0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.Equal(t, 1, c.Health(ctx)["key_count"])

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()

	c, err := NewRedis(ctx, addr)
	require.NoError(t, err)
	defer c.Close()

	key := GenerateKey("test", t.Name())
	require.NoError(t, c.Set(ctx, key, []byte("value"), time.Minute))

	got, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("value"), got)

	require.NoError(t, c.Delete(ctx, key))
	_, ok, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "healthy", c.Health(ctx)["status"])
}
