package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// compareAndSetScript swaps the value only when it still equals the expected bytes,
// preserving the remaining TTL of the key.
var compareAndSetScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current ~= ARGV[1] then
	return 0
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// KVStore is the hot store for in-flight payups.
type KVStore struct {
	client *redis.Client
}

// NewKVStore creates a new KVStore.
func NewKVStore(client *redis.Client) *KVStore {
	return &KVStore{client: client}
}

// Get returns the stored value, or nil if the key is absent or expired.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Set stores value with the given TTL.
func (s *KVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes key.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// CompareAndSet replaces the value of key with next only if it currently equals expected.
// Returns false if the key changed or no longer exists.
func (s *KVStore) CompareAndSet(ctx context.Context, key string, expected, next []byte) (bool, error) {
	swapped, err := compareAndSetScript.Run(ctx, s.client, []string{key}, expected, next).Int()
	if err != nil {
		return false, err
	}
	return swapped == 1, nil
}
