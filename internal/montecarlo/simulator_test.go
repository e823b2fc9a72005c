package montecarlo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfold/crashsim/internal/workers"
)

func smallConfig(seed int64) *Config {
	c := DefaultConfig()
	c.NumSimulations = 50
	c.SimulationDays = 120
	c.Seed = seed
	return c
}

func TestGeneratePricePath(t *testing.T) {
	s := New(zap.NewNop(), DefaultConfig(), nil)

	rng := rand.New(rand.NewSource(7))
	params := PathParams{CrashProbability: 0.02, BaseVolatility: 0.03, Seed: 7}
	prices := s.GeneratePricePath(rng, params)

	require.Len(t, prices, 253, "initial price plus one per day")
	assert.Equal(t, 10000.0, prices[0])
	for i, p := range prices {
		require.GreaterOrEqual(t, p, 0.01, "price floored at 0.01 (day %d)", i)
		require.False(t, math.IsNaN(p))
	}
}

func TestGeneratePricePathDeterministic(t *testing.T) {
	s := New(zap.NewNop(), DefaultConfig(), nil)
	params := PathParams{CrashProbability: 0.02, BaseVolatility: 0.03}

	a := s.GeneratePricePath(rand.New(rand.NewSource(11)), params)
	b := s.GeneratePricePath(rand.New(rand.NewSource(11)), params)
	assert.Equal(t, a, b, "same seed, same path")

	c := s.GeneratePricePath(rand.New(rand.NewSource(12)), params)
	assert.NotEqual(t, a, c, "different seed, different path")
}

func TestEvaluatePathCrashDetectionCutsDrawdown(t *testing.T) {
	s := New(zap.NewNop(), DefaultConfig(), nil)

	// Hand-built path: calm, then a brutal five-day slide, then calm.
	prices := []float64{100}
	for i := 0; i < 30; i++ {
		prices = append(prices, prices[len(prices)-1]*1.001)
	}
	for i := 0; i < 10; i++ {
		prices = append(prices, prices[len(prices)-1]*0.94)
	}
	for i := 0; i < 30; i++ {
		prices = append(prices, prices[len(prices)-1]*1.001)
	}

	protected := s.EvaluatePath(prices, true)
	exposed := s.EvaluatePath(prices, false)

	assert.Less(t, protected.MaxDrawdown, exposed.MaxDrawdown,
		"the exit policy must truncate the crash")
	assert.Greater(t, exposed.MaxDrawdown, 0.40)
}

func TestEvaluatePathBenchmarkIsRawPath(t *testing.T) {
	s := New(zap.NewNop(), DefaultConfig(), nil)

	prices := []float64{100, 110, 121}
	m := s.EvaluatePath(prices, false)
	assert.InDelta(t, 0.21, m.TotalReturn, 1e-12)
	assert.Equal(t, 0.0, m.MaxDrawdown)
	assert.Equal(t, 1.0, m.WinRate)
}

func TestEvaluatePathEmpty(t *testing.T) {
	s := New(zap.NewNop(), DefaultConfig(), nil)
	assert.Equal(t, PathMetrics{}, s.EvaluatePath(nil, true))
	assert.Equal(t, PathMetrics{}, s.EvaluatePath([]float64{100}, true))
}

func TestRunDeterministicForSeed(t *testing.T) {
	a := New(zap.NewNop(), smallConfig(42), nil).Run()
	b := New(zap.NewNop(), smallConfig(42), nil).Run()
	c := New(zap.NewNop(), smallConfig(43), nil).Run()

	assert.Equal(t, a.AllReturns, b.AllReturns, "same seed reproduces every path")
	assert.Equal(t, a.SurvivalRate, b.SurvivalRate)
	assert.NotEqual(t, a.AllReturns, c.AllReturns)
}

func TestRunParallelMatchesSequential(t *testing.T) {
	sequential := New(zap.NewNop(), smallConfig(42), nil).Run()

	pool := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("mc-test"))
	pool.Start()
	defer pool.Stop()

	parallel := New(zap.NewNop(), smallConfig(42), pool).Run()

	assert.Equal(t, sequential.AllReturns, parallel.AllReturns,
		"per-path sub-seeds make scheduling irrelevant")
	assert.Equal(t, sequential.AllDrawdowns, parallel.AllDrawdowns)
}

func TestRunAggregates(t *testing.T) {
	results := New(zap.NewNop(), smallConfig(42), nil).Run()

	assert.Equal(t, 50, results.NumSimulations)
	assert.GreaterOrEqual(t, results.SurvivalRate, 0.0)
	assert.LessOrEqual(t, results.SurvivalRate, 100.0)
	assert.LessOrEqual(t, results.Return5thPct, results.MedianReturn)
	assert.LessOrEqual(t, results.MedianReturn, results.Return95thPct)
	assert.LessOrEqual(t, results.Drawdown5thPct, results.Drawdown95thPct)
	assert.Len(t, results.AllReturns, 50)
}

func TestCompareWithBenchmarkSharesPaths(t *testing.T) {
	s := New(zap.NewNop(), smallConfig(42), nil)
	strategy, benchmark := s.CompareWithBenchmark()

	assert.Equal(t, strategy.NumSimulations, benchmark.NumSimulations)
	assert.NotEqual(t, strategy.AllReturns, benchmark.AllReturns,
		"the policy must change outcomes on shared paths")

	// Both legs replay the same seed, so the comparison is reproducible.
	strategy2, benchmark2 := New(zap.NewNop(), smallConfig(42), nil).CompareWithBenchmark()
	assert.Equal(t, strategy.AllReturns, strategy2.AllReturns)
	assert.Equal(t, benchmark.AllDrawdowns, benchmark2.AllDrawdowns)
}
