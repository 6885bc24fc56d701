package cache

import (
	"context"
	"time"

	"github.com/kbukum/idresolver/redis"
)

// RedisStore keeps entries in redis as JSON so that several processes share
// one cache tier. In-flight deduplication stays process-local.
type RedisStore struct {
	typed *redis.TypedStore[Entry]
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore stores entries under the client's key prefix.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{typed: redis.NewTypedStore[Entry](client, client.KeyPrefix())}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	e, err := s.typed.Load(ctx, key)
	if err != nil || e == nil {
		return Entry{}, false, err
	}
	return *e, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	return s.typed.Save(ctx, key, &e, ttl)
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.typed.Delete(ctx, keys...)
}

func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) error {
	return s.typed.DeletePrefix(ctx, prefix)
}
