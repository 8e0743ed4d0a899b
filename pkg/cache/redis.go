package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures a RedisCache connection.
type RedisConfig struct {
	// Address is the Redis server address (host:port).
	Address string
	// Password is the optional Redis password.
	Password string
	// DB is the Redis database number.
	DB int
	// KeyPrefix namespaces every key this cache touches, so multiple
	// verifier deployments can share one Redis instance.
	KeyPrefix string
}

// RedisCache is a cache shared across verifier-server replicas,
// suitable for multi-instance deployments behind a load balancer where
// a Sigstore golden-measurement fetch done by one replica should be
// visible to the others.
type RedisCache struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
}

// NewRedisCache connects to Redis per cfg and verifies reachability.
func NewRedisCache(cfg RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis cache: address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Address, err)
	}

	logger.Sugar().Infow("redis cache connected", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)
	return &RedisCache{client: client, logger: logger, keyPrefix: cfg.KeyPrefix}, nil
}

func (r *RedisCache) prefixed(key string) string {
	return r.keyPrefix + key
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.prefixed(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read from redis cache: %w", err)
	}
	return value, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefixed(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("write to redis cache: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefixed(key)).Err(); err != nil {
		return fmt.Errorf("delete from redis cache: %w", err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

func (r *RedisCache) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
