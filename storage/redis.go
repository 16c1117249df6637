package storage

import (
	"context"
	"fmt"

	"github.com/eddielth/vmstats-trans/logger"
	"github.com/eddielth/vmstats-trans/transformer"
	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultRedisKey is the list stats are pushed to.
const DefaultRedisKey = "vmstats"

// RedisStorage pushes msgpack encoded stats onto a Redis list.
type RedisStorage struct {
	rdb *redis.Client
	key string
	log *logger.Logger
}

// NewRedisStorage connects to the server at url (redis://host:port/db).
func NewRedisStorage(ctx context.Context, url, key string, log *logger.Logger) (*RedisStorage, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return newRedisStorage(ctx, redis.NewClient(opt), key, log)
}

func newRedisStorage(ctx context.Context, rdb *redis.Client, key string, log *logger.Logger) (*RedisStorage, error) {
	if key == "" {
		key = DefaultRedisKey
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Redis storage initialized, pushing to list %s", key)
	return &RedisStorage{rdb: rdb, key: key, log: log}, nil
}

// Name implements StorageBackend.
func (rs *RedisStorage) Name() string {
	return "redis"
}

// Store pushes res.Stats to the tail of the list.
func (rs *RedisStorage) Store(ctx context.Context, res transformer.Result) error {
	b, err := msgpack.Marshal(&res.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	if err := rs.rdb.RPush(ctx, rs.key, b).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", rs.key, err)
	}

	rs.log.Debug("Pushed stats of %s to redis list %s", res.Stats.Name, rs.key)
	return nil
}

// Close closes the client.
func (rs *RedisStorage) Close() error {
	return rs.rdb.Close()
}
