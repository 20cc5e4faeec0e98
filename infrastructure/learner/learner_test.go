package learner

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

func obs(id string, accuracy, confidence float64) domain.Observation {
	return domain.Observation{WorkerID: id, Accuracy: accuracy, Confidence: confidence}
}

func newLearner(t *testing.T, mutate func(*Config)) *BayesianLearner {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	l, err := NewBayesianLearner(cfg)
	require.NoError(t, err)
	return l
}

func TestNewBayesianLearner_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "alpha of one is allowed", mutate: func(c *Config) { c.Alpha = 1 }},
		{name: "zero alpha", mutate: func(c *Config) { c.Alpha = 0 }, wantErr: true},
		{name: "alpha above one", mutate: func(c *Config) { c.Alpha = 1.5 }, wantErr: true},
		{name: "negative alpha", mutate: func(c *Config) { c.Alpha = -0.1 }, wantErr: true},
		{name: "zero prior", mutate: func(c *Config) { c.PriorWeight = 0 }, wantErr: true},
		{name: "negative max history", mutate: func(c *Config) { c.MaxHistory = -1 }, wantErr: true},
		{name: "zero min weight", mutate: func(c *Config) { c.MinWeight = 0 }, wantErr: true},
		{name: "negative min weight", mutate: func(c *Config) { c.MinWeight = -0.1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewBayesianLearner(cfg)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestBayesianLearner_UpdateRule(t *testing.T) {
	l := newLearner(t, func(c *Config) {
		c.Alpha = 0.2
		c.ConfidenceScaling = false
	})

	assert.Equal(t, 1.0, l.Weight("w1"), "unknown workers start at the prior")
	assert.InDelta(t, 0.9, l.UpdateWeight(obs("w1", 0.5, 1)), 1e-12)
	assert.InDelta(t, 0.82, l.UpdateWeight(obs("w1", 0.5, 1)), 1e-12)
	assert.InDelta(t, 0.82, l.Weight("w1"), 1e-12)
}

func TestBayesianLearner_ConfidenceScaling(t *testing.T) {
	l := newLearner(t, nil)

	// alpha 0.1 scaled by confidence 0.5 gives an effective rate of 0.05.
	assert.InDelta(t, 0.95, l.UpdateWeight(obs("w1", 0, 0.5)), 1e-12)

	// Zero confidence leaves the weight untouched.
	assert.InDelta(t, 0.95, l.UpdateWeight(obs("w1", 0, 0)), 1e-12)
}

func TestBayesianLearner_WeightFloor(t *testing.T) {
	l := newLearner(t, func(c *Config) {
		c.Alpha = 0.5
		c.MinWeight = 0.05
	})

	for range 100 {
		w := l.UpdateWeight(obs("w1", 0, 1))
		require.GreaterOrEqual(t, w, 0.05)
	}
	assert.Equal(t, 0.05, l.Weight("w1"))
}

func TestBayesianLearner_ClampsObservations(t *testing.T) {
	l := newLearner(t, func(c *Config) { c.ConfidenceScaling = false })

	w := l.UpdateWeight(obs("w1", 7, math.NaN()))
	assert.InDelta(t, 1.0, w, 1e-12)

	stats, ok := l.Statistics("w1")
	require.True(t, ok)
	assert.Equal(t, 1.0, stats.MaxAccuracy)
	assert.Equal(t, 0.0, stats.MeanConfidence)
}

func TestBayesianLearner_BatchUpdate(t *testing.T) {
	l := newLearner(t, func(c *Config) {
		c.Alpha = 0.2
		c.ConfidenceScaling = false
	})

	got := l.BatchUpdate([]domain.Observation{
		obs("a", 0.5, 1),
		obs("b", 1.0, 1),
		obs("a", 0.5, 1),
	})
	assert.Len(t, got, 2)
	assert.InDelta(t, 0.82, got["a"], 1e-12)
	assert.InDelta(t, 1.0, got["b"], 1e-12)
}

func TestBayesianLearner_NormalizedWeights(t *testing.T) {
	l := newLearner(t, nil)
	require.NoError(t, l.Restore(domain.LearnerState{
		Weights: map[string]float64{"a": 1, "b": 3},
	}))

	t.Run("all known workers", func(t *testing.T) {
		got := l.NormalizedWeights(nil)
		assert.InDelta(t, 0.25, got["a"], 1e-12)
		assert.InDelta(t, 0.75, got["b"], 1e-12)
	})

	t.Run("subset with an unknown worker at the prior", func(t *testing.T) {
		got := l.NormalizedWeights([]string{"a", "c"})
		assert.InDelta(t, 0.5, got["a"], 1e-12)
		assert.InDelta(t, 0.5, got["c"], 1e-12)
	})

	t.Run("empty subset", func(t *testing.T) {
		assert.Empty(t, l.NormalizedWeights([]string{}))
	})

	t.Run("all zero weights split equally", func(t *testing.T) {
		z := newLearner(t, nil)
		require.NoError(t, z.Restore(domain.LearnerState{
			Weights: map[string]float64{"a": 0, "b": 0},
		}))
		got := z.NormalizedWeights([]string{"a", "b"})
		assert.InDelta(t, 0.5, got["a"], 1e-12)
		assert.InDelta(t, 0.5, got["b"], 1e-12)
	})
}

func TestBayesianLearner_AllWeightsIsACopy(t *testing.T) {
	l := newLearner(t, nil)
	l.UpdateWeight(obs("a", 1, 1))

	weights := l.AllWeights()
	weights["a"] = 42
	assert.NotEqual(t, 42.0, l.Weight("a"))
}

func TestBayesianLearner_Statistics(t *testing.T) {
	l := newLearner(t, nil)

	_, ok := l.Statistics("missing")
	assert.False(t, ok)

	l.UpdateWeight(obs("w1", 0.2, 0.5))
	for range 5 {
		l.UpdateWeight(obs("w1", 0.8, 1.0))
	}

	stats, ok := l.Statistics("w1")
	require.True(t, ok)
	assert.Equal(t, "w1", stats.WorkerID)
	assert.Equal(t, 6, stats.Observations)
	assert.InDelta(t, 0.7, stats.MeanAccuracy, 1e-12)
	assert.InDelta(t, 0.2, stats.MinAccuracy, 1e-12)
	assert.InDelta(t, 0.8, stats.MaxAccuracy, 1e-12)
	assert.InDelta(t, 5.5/6, stats.MeanConfidence, 1e-12)
	assert.InDelta(t, stats.MeanAccuracy, stats.RecentAccuracy, 1e-12)
	assert.Equal(t, domain.TrendImproving, stats.Trend)
	assert.Equal(t, l.Weight("w1"), stats.CurrentWeight)

	// Population standard deviation of {0.2, 0.8 x5}.
	assert.InDelta(t, math.Sqrt((0.25+5*0.01)/6), stats.StdAccuracy, 1e-12)
}

func TestBayesianLearner_StatisticsTrendAndRecentWindow(t *testing.T) {
	l := newLearner(t, nil)

	for range 5 {
		l.UpdateWeight(obs("short", 0.9, 1))
	}
	stats, _ := l.Statistics("short")
	assert.Equal(t, domain.TrendStable, stats.Trend, "five observations are not enough for a trend")

	for i := range 12 {
		acc := 1.0
		if i < 2 {
			acc = 0.0
		}
		l.UpdateWeight(obs("long", acc, 1))
	}
	stats, _ = l.Statistics("long")
	assert.InDelta(t, 1.0, stats.RecentAccuracy, 1e-12)
	assert.InDelta(t, 10.0/12, stats.MeanAccuracy, 1e-12)
	assert.Len(t, l.AllStatistics(), 2)
}

func TestBayesianLearner_MaxHistory(t *testing.T) {
	l := newLearner(t, func(c *Config) { c.MaxHistory = 3 })

	for i := range 10 {
		l.UpdateWeight(obs("w1", float64(i)/10, 1))
	}
	stats, ok := l.Statistics("w1")
	require.True(t, ok)
	assert.Equal(t, 3, stats.Observations)
	assert.InDelta(t, 0.7, stats.MinAccuracy, 1e-12)
}

func TestBayesianLearner_ResetWorker(t *testing.T) {
	l := newLearner(t, nil)
	l.UpdateWeight(obs("w1", 0, 1))
	require.Less(t, l.Weight("w1"), 1.0)

	l.ResetWorker("w1")
	assert.Equal(t, 1.0, l.Weight("w1"))
	_, ok := l.Statistics("w1")
	assert.False(t, ok)
	assert.NotContains(t, l.AllWeights(), "w1")
}

func TestBayesianLearner_SnapshotRestore(t *testing.T) {
	src := newLearner(t, nil)
	src.UpdateWeight(obs("a", 0.3, 0.9))
	src.UpdateWeight(obs("b", 0.7, 0.4))

	state := src.Snapshot()
	assert.Len(t, state.History["a"], 1)
	assert.Equal(t, 0.1, state.Config["alpha"])
	assert.False(t, state.SavedAt.IsZero())

	dst := newLearner(t, nil)
	require.NoError(t, dst.Restore(state))
	assert.Equal(t, src.AllWeights(), dst.AllWeights())

	srcStats, _ := src.Statistics("b")
	dstStats, _ := dst.Statistics("b")
	assert.Equal(t, srcStats, dstStats)
}

func TestBayesianLearner_RestoreRejectsCorruptState(t *testing.T) {
	l := newLearner(t, nil)
	l.UpdateWeight(obs("a", 0.5, 1))
	before := l.AllWeights()

	err := l.Restore(domain.LearnerState{Weights: map[string]float64{"a": math.Inf(1)}})
	require.ErrorIs(t, err, ports.ErrStateCorrupted)
	assert.Equal(t, before, l.AllWeights())
}

func TestBayesianLearner_ConcurrentUpdates(t *testing.T) {
	l := newLearner(t, nil)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for range 50 {
				l.UpdateWeight(obs(id, 0.5, 1))
				_ = l.AllWeights()
				_ = l.NormalizedWeights(nil)
			}
		}(fmt.Sprintf("w%d", i%4))
	}
	wg.Wait()

	stats := l.AllStatistics()
	require.Len(t, stats, 4)
	for _, s := range stats {
		assert.Equal(t, 100, s.Observations)
	}
}

func newAdaptive(t *testing.T, mutate func(*AdaptiveConfig)) *AdaptiveLearner {
	t.Helper()
	cfg := DefaultAdaptiveConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := NewAdaptiveLearner(cfg)
	require.NoError(t, err)
	return a
}

func TestNewAdaptiveLearner_Validation(t *testing.T) {
	cfg := DefaultAdaptiveConfig()
	cfg.MinAlpha, cfg.MaxAlpha = 0.4, 0.1
	_, err := NewAdaptiveLearner(cfg)
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	cfg = DefaultAdaptiveConfig()
	cfg.StabilityWindow = 0
	_, err = NewAdaptiveLearner(cfg)
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestAdaptiveLearner_AlphaFollowsStability(t *testing.T) {
	a := newAdaptive(t, func(c *AdaptiveConfig) {
		c.ConfidenceScaling = false
		c.StabilityWindow = 3
	})

	assert.Equal(t, 0.2, a.Alpha("w1"), "initial alpha before any update")

	// Too little history counts as maximally unstable.
	assert.InDelta(t, 0.5, a.UpdateWeight(obs("w1", 0, 1)), 1e-12)
	assert.InDelta(t, 0.5, a.Alpha("w1"), 1e-12)

	a.UpdateWeight(obs("w1", 0.8, 1))
	a.UpdateWeight(obs("w1", 0.8, 1))
	a.UpdateWeight(obs("w1", 0.8, 1))

	// The last three accuracies are identical, so the rate drops to the
	// minimum.
	a.UpdateWeight(obs("w1", 0.8, 1))
	assert.InDelta(t, 0.01, a.Alpha("w1"), 1e-12)
}

func TestAdaptiveLearner_VolatileWorkerAdaptsFaster(t *testing.T) {
	a := newAdaptive(t, func(c *AdaptiveConfig) { c.StabilityWindow = 4 })

	for _, acc := range []float64{0.9, 0.9, 0.9, 0.9} {
		a.UpdateWeight(obs("stable", acc, 1))
	}
	for _, acc := range []float64{0.1, 0.9, 0.1, 0.9} {
		a.UpdateWeight(obs("volatile", acc, 1))
	}
	a.UpdateWeight(obs("stable", 0.9, 1))
	a.UpdateWeight(obs("volatile", 0.9, 1))

	assert.Greater(t, a.Alpha("volatile"), a.Alpha("stable"))
	assert.LessOrEqual(t, a.Alpha("volatile"), 0.5)
	assert.GreaterOrEqual(t, a.Alpha("stable"), 0.01)
}

func TestAdaptiveLearner_BatchUpdateAdapts(t *testing.T) {
	a := newAdaptive(t, nil)
	a.BatchUpdate([]domain.Observation{obs("w1", 0.5, 1)})
	assert.InDelta(t, 0.5, a.Alpha("w1"), 1e-12)
}

func TestAdaptiveLearner_SnapshotRestoreAndReset(t *testing.T) {
	src := newAdaptive(t, nil)
	src.UpdateWeight(obs("w1", 0.5, 1))

	state := src.Snapshot()
	assert.InDelta(t, 0.5, state.Alphas["w1"], 1e-12)
	assert.Equal(t, 10, state.Config["stability_window"])

	dst := newAdaptive(t, nil)
	require.NoError(t, dst.Restore(state))
	assert.InDelta(t, 0.5, dst.Alpha("w1"), 1e-12)
	assert.Equal(t, src.Weight("w1"), dst.Weight("w1"))

	dst.ResetWorker("w1")
	assert.Equal(t, 0.2, dst.Alpha("w1"))
	assert.Equal(t, 1.0, dst.Weight("w1"))

	err := dst.Restore(domain.LearnerState{Alphas: map[string]float64{"w1": 2}})
	require.ErrorIs(t, err, ports.ErrStateCorrupted)
}
