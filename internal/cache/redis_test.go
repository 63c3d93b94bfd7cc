package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()

	t.Run("plain address", func(t *testing.T) {
		client := InitRedis(ctx, mr.Addr())
		require.NotNil(t, client)
		defer func() { _ = client.Close() }()
		assert.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	})

	t.Run("url", func(t *testing.T) {
		client := InitRedis(ctx, "redis://"+mr.Addr()+"/0")
		require.NotNil(t, client)
		_ = client.Close()
	})

	t.Run("invalid url", func(t *testing.T) {
		assert.Nil(t, InitRedis(ctx, "redis://:bad:port:/x"))
	})

	t.Run("empty address", func(t *testing.T) {
		assert.Nil(t, InitRedis(ctx, ""))
	})

	t.Run("unreachable", func(t *testing.T) {
		addr := mr.Addr()
		mr.Close()
		assert.Nil(t, InitRedis(ctx, addr))
	})
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "ws:session:alice", PresenceSessionKey("alice"))
	assert.Equal(t, "rl:send_chat:user:alice", RateLimitKey("send_chat", "user:alice"))
}
