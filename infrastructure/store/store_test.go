package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

func sampleState() domain.LearnerState {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.LearnerState{
		Weights: map[string]float64{"fast": 1.4, "slow": 0.6},
		History: map[string][]domain.Observation{
			"fast": {{
				WorkerID:   "fast",
				Predicted:  domain.Number(41),
				Actual:     domain.Number(42),
				Confidence: 0.9,
				Accuracy:   0.9,
				Timestamp:  at,
			}},
		},
		Config:  map[string]any{"alpha": 0.1},
		SavedAt: at,
	}
}

func assertSameState(t *testing.T, want, got domain.LearnerState) {
	t.Helper()
	assert.Equal(t, want.Weights, got.Weights)
	require.Len(t, got.History["fast"], 1)
	obs := got.History["fast"][0]
	assert.True(t, obs.Predicted.Equal(domain.Number(41)))
	assert.True(t, obs.Actual.Equal(domain.Number(42)))
	assert.Equal(t, 0.9, obs.Accuracy)
	assert.True(t, want.SavedAt.Equal(got.SavedAt))
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "weights.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	t.Run("load before save", func(t *testing.T) {
		_, err := s.Load(ctx)
		assert.ErrorIs(t, err, ports.ErrStateNotFound)
		var se *ports.StoreError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "file", se.Backend)
	})

	t.Run("save and load", func(t *testing.T) {
		want := sampleState()
		require.NoError(t, s.Save(ctx, want))
		got, err := s.Load(ctx)
		require.NoError(t, err)
		assertSameState(t, want, got)
	})

	t.Run("save replaces and leaves no temp files", func(t *testing.T) {
		next := sampleState()
		next.Weights = map[string]float64{"fast": 2}
		next.History = nil
		require.NoError(t, s.Save(ctx, next))

		got, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]float64{"fast": 2}, got.Weights)

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("corrupted file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		_, err := s.Load(ctx)
		assert.ErrorIs(t, err, ports.ErrStateCorrupted)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, s.Save(cctx, sampleState()), context.Canceled)
	})
}

func TestNewFileStore_EmptyPath(t *testing.T) {
	_, err := NewFileStore("")
	var ce *ports.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "store.path", ce.ConfigKey)
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupRedis(t)
	s := NewRedisStoreWithClient(rdb, "", 0)
	assert.Equal(t, DefaultRedisKey, s.Key())
	require.NoError(t, s.Ping(ctx))

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ports.ErrStateNotFound)

	want := sampleState()
	require.NoError(t, s.Save(ctx, want))
	assert.True(t, mr.Exists(DefaultRedisKey))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assertSameState(t, want, got)

	require.NoError(t, mr.Set(DefaultRedisKey, "garbage"))
	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ports.ErrStateCorrupted)

	assert.NoError(t, s.Close())
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	mr, rdb := setupRedis(t)
	s := NewRedisStoreWithClient(rdb, "weights:test", time.Minute)

	require.NoError(t, s.Save(ctx, sampleState()))
	assert.Equal(t, time.Minute, mr.TTL("weights:test"))

	mr.FastForward(2 * time.Minute)
	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ports.ErrStateNotFound)
}

func TestRedisStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	s, err := NewRedisStore(RedisConfig{Addr: mr.Addr(), Key: "k"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	mr.Close()

	err = s.Save(ctx, sampleState())
	var se *ports.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "redis", se.Backend)
	assert.Equal(t, "set", se.Operation)
}

func TestNewRedisStore_EmptyAddr(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{})
	assert.ErrorIs(t, err, ports.ErrConfigNotFound)
}
