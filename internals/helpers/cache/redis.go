package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const scanBatch = 200

// RedisCache stores each entry as a hash {v, ts} with a TTL.
type RedisCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisFromURL connects and pings the server.
func NewRedisFromURL(rawURL string, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	opt, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := goredis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if logger != nil {
		logger.Info("redis connected", zap.String("addr", opt.Addr))
	}
	return NewRedisCache(rdb, ttl), nil
}

func NewRedisCache(rdb *goredis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) (*Entry, error) {
	vals, err := r.rdb.HMGet(ctx, key, "v", "ts").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	v, ok := vals[0].(string)
	if !ok {
		return nil, nil
	}
	e := &Entry{Value: []byte(v)}
	if ts, ok := vals[1].(string); ok {
		if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
			e.StoredAt = time.UnixMilli(ms)
		}
	}
	return e, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ts time.Time) error {
	_, err := r.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, key, "v", value, "ts", ts.UnixMilli())
		if r.ttl > 0 {
			p.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	return err
}

func (r *RedisCache) InvalidatePrefix(ctx context.Context, academyID uuid.UUID, area FeatureArea) error {
	match := Prefix(area, academyID) + "*"
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (r *RedisCache) Close() error { return r.rdb.Close() }
