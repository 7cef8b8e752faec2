//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cachet/pkg/testutil/containers"
)

func TestRedis_FixedWindow(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	limiter := NewRedis(rc.Client, 3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "hash-a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i+1)
	}

	ok, err := limiter.Allow(ctx, "hash-a")
	require.NoError(t, err)
	assert.False(t, ok, "fourth request in the window is limited")

	// Another source keeps its own counter.
	ok, err = limiter.Allow(ctx, "hash-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_WindowExpires(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	limiter := NewRedis(rc.Client, 1, time.Second)

	ok, err := limiter.Allow(ctx, "hash-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = limiter.Allow(ctx, "hash-a")
	require.NoError(t, err)
	require.False(t, ok)

	time.Sleep(1100 * time.Millisecond)

	ok, err = limiter.Allow(ctx, "hash-a")
	require.NoError(t, err)
	assert.True(t, ok, "counter resets after the window")
}
