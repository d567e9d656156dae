package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/mohamedkhairy/alert-dispatch/internal/config"
	"github.com/mohamedkhairy/alert-dispatch/internal/models"
	"github.com/mohamedkhairy/alert-dispatch/pkg/logger"
)

var snapshotCacheTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "snapshot_cache_total",
		Help: "Snapshot cache lookups by outcome",
	},
	[]string{"outcome"}, // "hit" or "miss"
)

// RedisCache implements SnapshotCache and InflightLocker on Redis. Snapshots
// are cached with a short TTL so rules watching the same symbol within one
// tick share a single provider call; in-flight markers use SETNX with a TTL
// so a crashed worker cannot wedge a rule permanently.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache client
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
	)

	return &RedisCache{client: rdb}, nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func snapshotKey(symbol string) string {
	return fmt.Sprintf("snapshot:%s", symbol)
}

func inflightKey(ruleID string) string {
	return fmt.Sprintf("rule:inflight:%s", ruleID)
}

// GetSnapshot returns a cached snapshot, if present
func (c *RedisCache) GetSnapshot(ctx context.Context, symbol string) (*models.Snapshot, bool, error) {
	data, err := c.client.Get(ctx, snapshotKey(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		snapshotCacheTotal.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read snapshot cache for %s: %w", symbol, err)
	}

	var snapshot models.Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached snapshot for %s: %w", symbol, err)
	}

	snapshotCacheTotal.WithLabelValues("hit").Inc()
	return &snapshot, true, nil
}

// SetSnapshot caches a snapshot with a TTL
func (c *RedisCache) SetSnapshot(ctx context.Context, snapshot *models.Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey(snapshot.Symbol), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache snapshot for %s: %w", snapshot.Symbol, err)
	}
	return nil
}

// TryAcquire attempts to mark a rule as in flight
func (c *RedisCache) TryAcquire(ctx context.Context, ruleID string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, inflightKey(ruleID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire in-flight marker for rule %s: %w", ruleID, err)
	}
	return ok, nil
}

// Release removes the in-flight marker
func (c *RedisCache) Release(ctx context.Context, ruleID string) error {
	if err := c.client.Del(ctx, inflightKey(ruleID)).Err(); err != nil {
		return fmt.Errorf("failed to release in-flight marker for rule %s: %w", ruleID, err)
	}
	return nil
}
