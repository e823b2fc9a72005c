package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfold/crashsim/internal/regime"
	"github.com/quantfold/crashsim/pkg/types"
)

func oversoldSeries(days int, price float64) []types.FeatureRow {
	rows := make([]types.FeatureRow, days)
	for i := range rows {
		rows[i] = neutralRow(i, price)
		rows[i].RSI = 20
	}
	return rows
}

func TestRunPortfolioAllocationScaling(t *testing.T) {
	s := New(zap.NewNop(), nil)

	// Volatility equals the target, so sizing is exactly 1.0 and the
	// weights come out as the raw allocations.
	features := map[string][]types.FeatureRow{
		"SPY": oversoldSeries(5, 450),
		"QQQ": oversoldSeries(5, 380),
	}
	allocations := map[string]float64{"SPY": 0.6, "QQQ": 0.4}

	weights := s.RunPortfolio(features, normalLabels(5), allocations)
	require.Len(t, weights, 5)

	for _, wp := range weights {
		assert.Equal(t, 0.6, wp.Weights["SPY"])
		assert.Equal(t, 0.4, wp.Weights["QQQ"])
	}
}

func TestRunPortfolioCrashZeroesWeights(t *testing.T) {
	s := New(zap.NewNop(), nil)

	features := map[string][]types.FeatureRow{
		"SPY": oversoldSeries(4, 450),
		"QQQ": oversoldSeries(4, 380),
	}
	allocations := map[string]float64{"SPY": 0.6, "QQQ": 0.4}
	labels := []regime.Regime{
		regime.RegimeNormal,
		regime.RegimeCrash,
		regime.RegimeRecovery,
		regime.RegimeNormal,
	}

	weights := s.RunPortfolio(features, labels, allocations)
	require.Len(t, weights, 4)

	assert.Equal(t, 0.6, weights[0].Weights["SPY"])

	assert.Equal(t, 0.0, weights[1].Weights["SPY"])
	assert.Equal(t, 0.0, weights[1].Weights["QQQ"])
	assert.Equal(t, 0.0, weights[2].Weights["SPY"])

	// Fresh entries after the regime clears.
	assert.Equal(t, 0.6, weights[3].Weights["SPY"])
	assert.Equal(t, 0.4, weights[3].Weights["QQQ"])
}

func TestRunPortfolioPerAssetVolatilityScaling(t *testing.T) {
	s := New(zap.NewNop(), nil)

	calm := oversoldSeries(3, 100)
	choppy := oversoldSeries(3, 100)
	for i := range choppy {
		choppy[i].Volatility10d = 0.04 // double the target: half size
	}

	features := map[string][]types.FeatureRow{"A": calm, "B": choppy}
	allocations := map[string]float64{"A": 0.5, "B": 0.5}

	weights := s.RunPortfolio(features, normalLabels(3), allocations)
	require.Len(t, weights, 3)

	assert.Equal(t, 0.5, weights[0].Weights["A"])
	assert.InDelta(t, 0.25, weights[0].Weights["B"], 1e-9)
}

func TestRunPortfolioUnevenSeries(t *testing.T) {
	s := New(zap.NewNop(), nil)

	features := map[string][]types.FeatureRow{
		"A": oversoldSeries(5, 100),
		"B": oversoldSeries(3, 100),
	}
	allocations := map[string]float64{"A": 0.5, "B": 0.5}

	// Truncated to the shortest aligned series.
	weights := s.RunPortfolio(features, normalLabels(5), allocations)
	assert.Len(t, weights, 3)
}

func TestRunPortfolioEmpty(t *testing.T) {
	s := New(zap.NewNop(), nil)
	assert.Nil(t, s.RunPortfolio(nil, nil, nil))
}
