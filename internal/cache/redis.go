package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisVersionsKey = "shellcache:versions"
	redisEntryPrefix = "shellcache:entry:"
	redisKeysPrefix  = "shellcache:keys:"
)

// RedisStore shares one shell cache across agent instances. Key layout:
// a set of known versions, a per-version set of entry keys, and one JSON
// value per stored entry.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func entryKey(version, key string) string {
	return redisEntryPrefix + version + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, version, key string) (Entry, bool, error) {
	data, err := s.client.Get(ctx, entryKey(version, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("corrupt cache entry: %w", err)
	}
	return e, true, nil
}

func (s *RedisStore) Put(ctx context.Context, version, key string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, entryKey(version, key), data, 0)
	pipe.SAdd(ctx, redisKeysPrefix+version, key)
	pipe.SAdd(ctx, redisVersionsKey, version)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (s *RedisStore) Versions(ctx context.Context) ([]string, error) {
	versions, err := s.client.SMembers(ctx, redisVersionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis versions: %w", err)
	}
	return versions, nil
}

func (s *RedisStore) DeleteVersion(ctx context.Context, version string) error {
	keys, err := s.client.SMembers(ctx, redisKeysPrefix+version).Result()
	if err != nil {
		return fmt.Errorf("redis delete version: %w", err)
	}
	pipe := s.client.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, entryKey(version, key))
	}
	pipe.Del(ctx, redisKeysPrefix+version)
	pipe.SRem(ctx, redisVersionsKey, version)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete version: %w", err)
	}
	return nil
}
