package kvstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/studyreel/studyreel-backend/internal/platform/envutil"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
)

// Store is the durable record backend for job state and derived artifacts.
// Keys are namespaced strings ("content:info:{id}" etc.); values are JSON
// documents owned entirely by the caller. Semantics are last-writer-wins.
type Store interface {
	// Get returns (nil, false, nil) for a missing key.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns up to limit keys matching the prefix.
	List(ctx context.Context, prefix string, limit int) ([]string, error)
}

type redisStore struct {
	log *logger.Logger
	rdb *goredis.Client
}

func New(log *logger.Logger) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DB:          envutil.Int("REDIS_DB", 0),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisStore{
		log: log.With("service", "RedisKVStore"),
		rdb: rdb,
	}, nil
}

// NewWithClient wires an existing client; the queue shares the connection.
func NewWithClient(log *logger.Logger, rdb *goredis.Client) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &redisStore{log: log.With("service", "RedisKVStore"), rdb: rdb}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.rdb == nil {
		return nil, false, fmt.Errorf("kv store not initialized")
	}
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return raw, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte) error {
	if s == nil || s.rdb == nil {
		return fmt.Errorf("kv store not initialized")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key required")
	}
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.rdb == nil {
		return fmt.Errorf("kv store not initialized")
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

func (s *redisStore) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	if s == nil || s.rdb == nil {
		return nil, fmt.Errorf("kv store not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, prefix+"*", int64(limit)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %q: %w", prefix, err)
		}
		keys = append(keys, batch...)
		if len(keys) >= limit {
			return keys[:limit], nil
		}
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
