package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore shares computed entries across replicas as JSON blobs. Keys
// carry a TTL one minute past the service TTL so stale entries age out even
// without a Flush.
type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a Store backed by the given Redis client.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) Store {
	if prefix == "" {
		prefix = "dispatchboard"
	}
	return &redisStore{client: client, prefix: prefix, ttl: ttl + time.Minute}
}

func (s *redisStore) dashboardKey(dashboardID int, mode string) string {
	return fmt.Sprintf("%s:dashboard:%d:%s", s.prefix, dashboardID, mode)
}

func (s *redisStore) chartKey(indicatorID int) string {
	return fmt.Sprintf("%s:chart:%d", s.prefix, indicatorID)
}

func (s *redisStore) GetDashboard(ctx context.Context, dashboardID int, mode string) (*DashboardEntry, error) {
	var entry DashboardEntry
	ok, err := s.get(ctx, s.dashboardKey(dashboardID, mode), &entry)
	if err != nil || !ok {
		return nil, err
	}
	return &entry, nil
}

func (s *redisStore) PutDashboard(ctx context.Context, dashboardID int, mode string, entry *DashboardEntry) error {
	return s.put(ctx, s.dashboardKey(dashboardID, mode), entry)
}

func (s *redisStore) GetChart(ctx context.Context, indicatorID int) (*ChartEntry, error) {
	var entry ChartEntry
	ok, err := s.get(ctx, s.chartKey(indicatorID), &entry)
	if err != nil || !ok {
		return nil, err
	}
	return &entry, nil
}

func (s *redisStore) PutChart(ctx context.Context, indicatorID int, entry *ChartEntry) error {
	return s.put(ctx, s.chartKey(indicatorID), entry)
}

func (s *redisStore) Flush(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete cache keys: %w", err)
	}
	return nil
}

func (s *redisStore) get(ctx context.Context, key string, out any) (bool, error) {
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *redisStore) put(ctx context.Context, key string, entry any) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
