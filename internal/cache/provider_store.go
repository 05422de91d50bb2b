package cache

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"moff.io/mint-widget/internal/provider"
	"moff.io/mint-widget/pkg/errors"
)

// cachedProviderKey matches the key wallet modal libraries persist under.
const cachedProviderKey = "WEB3_CONNECT_CACHED_PROVIDER"

// ProviderStore persists the id of the provider that last connected successfully.
type ProviderStore interface {
	Get(ctx context.Context) (provider.ID, error)
	Set(ctx context.Context, id provider.ID) error
	Clear(ctx context.Context) error
}

// Key is the storage key for appID.
func Key(appID string) string {
	return appID + ":" + cachedProviderKey
}

type memoryStore struct {
	mu sync.Mutex
	id provider.ID
}

func NewMemoryStore() ProviderStore {
	return &memoryStore{}
}

func (s *memoryStore) Get(context.Context) (provider.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, nil
}

func (s *memoryStore) Set(_ context.Context, id provider.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return nil
}

func (s *memoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	return nil
}

type redisStore struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// NewRedisStore keeps the id under "<appID>:WEB3_CONNECT_CACHED_PROVIDER"; ttl 0 never expires.
func NewRedisStore(client redis.Cmdable, appID string, ttl time.Duration) ProviderStore {
	return &redisStore{client: client, key: Key(appID), ttl: ttl}
}

func (s *redisStore) Get(ctx context.Context) (provider.ID, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "get cached provider")
	}
	return provider.ID(v), nil
}

func (s *redisStore) Set(ctx context.Context, id provider.ID) error {
	if err := s.client.Set(ctx, s.key, string(id), s.ttl).Err(); err != nil {
		return errors.Wrap(err, "set cached provider")
	}
	return nil
}

func (s *redisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return errors.Wrap(err, "clear cached provider")
	}
	return nil
}
