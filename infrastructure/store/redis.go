package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

const backendRedis = "redis"

// DefaultRedisKey is used when RedisConfig.Key is empty.
const DefaultRedisKey = "ensemble:weights"

var _ ports.WeightStore = (*RedisStore)(nil)

// RedisConfig locates the snapshot in Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string

	// TTL expires the snapshot after the last Save. Zero keeps it forever.
	TTL time.Duration
}

// RedisStore keeps the snapshot as a JSON string under one key, which lets
// several processes share learned weights.
type RedisStore struct {
	rdb   *redis.Client
	key   string
	ttl   time.Duration
	owned bool
}

// NewRedisClient opens a client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisStore dials Redis with cfg. Close releases the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, ports.NewConfigError("store.addr", ports.ErrConfigNotFound)
	}
	s := NewRedisStoreWithClient(NewRedisClient(cfg.Addr, cfg.Password, cfg.DB), cfg.Key, cfg.TTL)
	s.owned = true
	return s, nil
}

// NewRedisStoreWithClient wraps an existing client. The caller keeps
// ownership of rdb.
func NewRedisStoreWithClient(rdb *redis.Client, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key, ttl: ttl}
}

// Key returns the Redis key holding the snapshot.
func (s *RedisStore) Key() string { return s.key }

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return ports.NewStoreError(backendRedis, "ping", err)
	}
	return nil
}

// Save implements ports.WeightStore.
func (s *RedisStore) Save(ctx context.Context, state domain.LearnerState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return ports.NewStoreError(backendRedis, "encode", err)
	}
	if err := s.rdb.Set(ctx, s.key, string(b), s.ttl).Err(); err != nil {
		return ports.NewStoreError(backendRedis, "set", err)
	}
	return nil
}

// Load implements ports.WeightStore.
func (s *RedisStore) Load(ctx context.Context) (domain.LearnerState, error) {
	js, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.LearnerState{}, ports.NewStoreError(backendRedis, "get", ports.ErrStateNotFound)
	}
	if err != nil {
		return domain.LearnerState{}, ports.NewStoreError(backendRedis, "get", err)
	}
	return decode(backendRedis, []byte(js))
}

// Close releases the client when the store opened it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}
