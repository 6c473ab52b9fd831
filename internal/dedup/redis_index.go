package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/newsrank/backend/pkg/logger"
)

// RedisIndex is the production WindowIndex. SET NX GET with a TTL gives the
// atomic check-then-insert in a single round trip, and Redis expiry is the
// window eviction.
type RedisIndex struct {
	client *redis.Client
}

func NewRedisIndex(host string, port int, password string, db int) (*RedisIndex, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis duplicate index initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &RedisIndex{client: client}, nil
}

func (r *RedisIndex) Close() error {
	return r.client.Close()
}

func (r *RedisIndex) PutIfAbsent(ctx context.Context, key, docID string, ttl time.Duration) (string, bool, error) {
	existing, err := r.client.SetArgs(ctx, "dedup:"+key, docID, redis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
		Get:  true,
	}).Result()
	if err == redis.Nil {
		// No previous value: our insert won.
		return "", true, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to check duplicate index: %w", err)
	}

	logger.Debug("Duplicate index hit", zap.String("key", key), zap.String("existing", existing))
	return existing, false, nil
}

func (r *RedisIndex) Get(ctx context.Context, key string) (string, bool, error) {
	docID, err := r.client.Get(ctx, "dedup:"+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read duplicate index: %w", err)
	}
	return docID, true, nil
}
