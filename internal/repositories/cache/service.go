package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheService wraps Redis with JSON serialization and a default TTL.
// The wallet service uses it as a read-through cache for balances;
// every balance mutation invalidates the cached value.
type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCacheService(client *redis.Client, defaultTTL time.Duration) *CacheService {
	return &CacheService{
		client: client,
		ttl:    defaultTTL,
	}
}

func (s *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return s.SetWithTTL(ctx, key, value, s.ttl)
}

func (s *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// Get unmarshals the value at key into dest. The boolean reports
// whether the key was present.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to get cache value: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// Balance caching

func balanceKey(userID uint) string {
	return fmt.Sprintf("wallet:balance:%d", userID)
}

func (s *CacheService) GetBalance(ctx context.Context, userID uint) (int64, bool, error) {
	var balance int64
	found, err := s.Get(ctx, balanceKey(userID), &balance)
	return balance, found, err
}

func (s *CacheService) SetBalance(ctx context.Context, userID uint, balance int64) error {
	return s.SetWithTTL(ctx, balanceKey(userID), balance, 5*time.Minute)
}

func (s *CacheService) InvalidateBalance(ctx context.Context, userID uint) error {
	return s.Delete(ctx, balanceKey(userID))
}

func (s *CacheService) FlushAll(ctx context.Context) error {
	return s.client.FlushAll(ctx).Err()
}

func (s *CacheService) Close() error {
	return s.client.Close()
}
