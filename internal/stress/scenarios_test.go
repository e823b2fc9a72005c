package stress

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfold/crashsim/internal/backtester"
	"github.com/quantfold/crashsim/internal/features"
	"github.com/quantfold/crashsim/internal/regime"
	"github.com/quantfold/crashsim/internal/strategy"
)

func steadySeries(days int) ([]time.Time, []float64) {
	dates := make([]time.Time, days)
	prices := make([]float64, days)
	for i := 0; i < days; i++ {
		dates[i] = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
		prices[i] = 100 * math.Pow(1.001, float64(i))
	}
	return dates, prices
}

func TestFlashCrash(t *testing.T) {
	g := NewGenerator(zap.NewNop())
	dates, prices := steadySeries(100)

	s := g.FlashCrash(dates, prices, 0.20, 3, 10, 50)

	assert.Equal(t, prices[49], s.Prices[49], "untouched before the crash")

	// Full drop lands at the end of the crash window.
	bottom := prices[50] * 0.80
	assert.InDelta(t, bottom, s.Prices[52], 1e-9)

	// Partial recovery: halfway back to the pre-crash level.
	target := bottom + (prices[50]-bottom)*0.5
	assert.InDelta(t, target, s.Prices[62], 1e-9)

	// Tail keeps the original shape at the recovered level.
	ratio := s.Prices[62] / prices[62]
	assert.InDelta(t, prices[80]*ratio, s.Prices[80], 1e-9)

	assert.Equal(t, 50, s.StressStart)
	assert.Equal(t, 62, s.StressEnd)
	assert.Len(t, s.Prices, 100)
	assert.Equal(t, prices, s.OriginalPrices)
}

func TestVolatilitySpikeAmplifiesSwings(t *testing.T) {
	g := NewGenerator(zap.NewNop())
	dates, prices := steadySeries(100)
	// Overlay alternating moves so there is volatility to amplify.
	for i := range prices {
		if i%2 == 1 {
			prices[i] *= 1.01
		}
	}

	s := g.VolatilitySpike(dates, prices, 4.0, 20, 40)

	origReturns := features.Returns(prices[40:61])
	spikeReturns := features.Returns(s.Prices[40:61])

	origStd := stddev(origReturns[1:])
	spikeStd := stddev(spikeReturns[1:])
	assert.Greater(t, spikeStd, origStd*2, "spike window swings much harder")

	assert.Equal(t, prices[10], s.Prices[10], "untouched before the spike")
}

func stddev(values []float64) float64 {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	ss := 0.0
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

func TestWhipsaw(t *testing.T) {
	g := NewGenerator(zap.NewNop())
	dates, prices := steadySeries(120)

	s := g.Whipsaw(dates, prices, 0.08, 6, 5)

	base := prices[60]
	var above, below bool
	for i := 60; i < 90 && i < len(s.Prices); i++ {
		if s.Prices[i] > base*1.02 {
			above = true
		}
		if s.Prices[i] < base*0.98 {
			below = true
		}
	}
	assert.True(t, above, "whipsaw must swing up")
	assert.True(t, below, "whipsaw must swing down")
}

func TestRunnerDetectsFlashCrash(t *testing.T) {
	logger := zap.NewNop()
	g := NewGenerator(logger)

	dates, prices := steadySeries(200)
	scenario := g.FlashCrash(dates, prices, 0.25, 3, 10, 100)

	nasdaq := make([]float64, len(prices))
	for i := range nasdaq {
		nasdaq[i] = 0.0005
	}
	// The equity canary fires alongside the crash.
	nasdaq[100] = -0.04
	nasdaq[101] = -0.05

	runner := NewRunner(
		logger,
		features.NewEngineer(logger, nil),
		regime.NewDetector(logger, nil),
		strategy.New(logger, nil),
		backtester.New(logger, nil),
	)

	result := runner.Run(scenario, nasdaq)

	require.Equal(t, scenario.Name, result.ScenarioName)
	assert.True(t, result.DetectedStress, "strategy must reach cash during the crash")
	assert.Greater(t, result.TimeInCashPct, 0.0)
	assert.Less(t, result.StressPeriodMaxDD, 25.0,
		"exiting must truncate the full 25% crash")
}
