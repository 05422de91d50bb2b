package cache

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/mint-widget/internal/provider"
)

func exerciseStore(t *testing.T, s ProviderStore) {
	ctx := context.Background()
	require.NoError(t, s.Clear(ctx))

	id, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, s.Set(ctx, provider.CustomMetaMask))
	id, err = s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, provider.CustomMetaMask, id)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
	id, _ = s.Get(ctx)
	assert.Empty(t, id)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	exerciseStore(t, NewRedisStore(client, "widget-test", 0))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "mint:WEB3_CONNECT_CACHED_PROVIDER", Key("mint"))
}
