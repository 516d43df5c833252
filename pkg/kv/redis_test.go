package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "oauth:state:", 10*time.Minute)
	ctx := context.Background()

	_, err := store.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "abc", "payload"))
	assert.True(t, mr.Exists("oauth:state:abc"))
	assert.Equal(t, 10*time.Minute, mr.TTL("oauth:state:abc"))

	value, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "payload", value)

	mr.FastForward(11 * time.Minute)
	_, err = store.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "abc", "again"))
	require.NoError(t, store.Del(ctx, "abc"))
	assert.False(t, mr.Exists("oauth:state:abc"))
}
