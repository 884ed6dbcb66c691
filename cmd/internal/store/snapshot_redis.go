package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key holding the snapshot when none is configured.
const DefaultRedisKey = "lightlink:snapshot"

// RedisSnapshotter keeps the snapshot under a single Redis key.
// It does not own the client; Close is a no-op.
type RedisSnapshotter struct {
	rdb redis.UniversalClient
	key string
}

// NewRedisSnapshotter constructs a Redis-backed Snapshotter.
func NewRedisSnapshotter(rdb redis.UniversalClient, key string) (*RedisSnapshotter, error) {
	if rdb == nil {
		return nil, errors.New("store: nil redis client")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSnapshotter{rdb: rdb, key: key}, nil
}

// Ping checks connectivity.
func (s *RedisSnapshotter) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *RedisSnapshotter) Load(ctx context.Context) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func (s *RedisSnapshotter) Save(ctx context.Context, data []byte) error {
	return s.rdb.Set(ctx, s.key, data, 0).Err()
}

// Backup stores data under <key>:bak:<unix-ms>.
func (s *RedisSnapshotter) Backup(ctx context.Context, data []byte, at time.Time) (string, error) {
	dst := s.key + ":bak:" + strconv.FormatInt(at.UnixMilli(), 10)
	if err := s.rdb.Set(ctx, dst, data, 0).Err(); err != nil {
		return "", err
	}
	return dst, nil
}

func (s *RedisSnapshotter) Close() error { return nil }
