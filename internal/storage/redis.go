package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "relaybot/pkg/logx"
)

// redisStore keeps recipients in a sorted set scored by join time, so
// ZRANGE yields registration order.
type redisStore struct {
	rdb *redis.Client
	key string
	log logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("storage.redis_addr is required for redis driver")
	}
	key := strings.TrimSpace(cfg.RedisKey)
	if key == "" {
		key = DefaultRedisKey
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	log.Debug("redis store opened", logx.String("addr", addr), logx.String("key", key))
	return &redisStore{rdb: rdb, key: key, log: log}, nil
}

func (s *redisStore) LoadRecipients(ctx context.Context) ([]int64, error) {
	members, err := s.rdb.ZRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			s.log.Warn("skipping malformed recipient member", logx.String("member", m))
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *redisStore) AddRecipient(ctx context.Context, id int64, joinedAt time.Time) error {
	if joinedAt.IsZero() {
		joinedAt = time.Now()
	}
	return s.rdb.ZAddNX(ctx, s.key, redis.Z{
		Score:  float64(joinedAt.UnixMilli()),
		Member: strconv.FormatInt(id, 10),
	}).Err()
}

func (s *redisStore) Close() error {
	err := s.rdb.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
