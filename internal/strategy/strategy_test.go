package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfold/crashsim/internal/regime"
	"github.com/quantfold/crashsim/pkg/types"
)

func neutralRow(day int, price float64) types.FeatureRow {
	r := types.NewFeatureRow(time.Date(2024, 6, 1+day, 0, 0, 0, 0, time.UTC))
	r.Price = price
	r.RSI = 50
	r.Volatility10d = 0.02
	return r
}

func normalLabels(n int) []regime.Regime {
	labels := make([]regime.Regime, n)
	for i := range labels {
		labels[i] = regime.RegimeNormal
	}
	return labels
}

func TestPositionSize(t *testing.T) {
	s := New(zap.NewNop(), nil)

	assert.Equal(t, 1.0, s.PositionSize(0.02), "vol at target gives full size")
	assert.Equal(t, 0.5, s.PositionSize(0.04))
	assert.Equal(t, 1.0, s.PositionSize(0.005), "low vol is capped at max")
	assert.Equal(t, 1.0, s.PositionSize(math.NaN()))
	assert.Equal(t, 1.0, s.PositionSize(0))
}

func TestStopLossTriggered(t *testing.T) {
	s := New(zap.NewNop(), nil)

	assert.False(t, s.StopLossTriggered(100, 96), "4% loss holds")
	assert.True(t, s.StopLossTriggered(100, 95), "5% loss exits")
	assert.True(t, s.StopLossTriggered(100, 90))
	assert.False(t, s.StopLossTriggered(0, 90), "no entry reference")
	assert.False(t, s.StopLossTriggered(100, 110), "gains never stop out")
}

func TestOversoldEntry(t *testing.T) {
	s := New(zap.NewNop(), nil)

	rows := make([]types.FeatureRow, 10)
	for i := range rows {
		rows[i] = neutralRow(i, 100)
	}
	rows[1].RSI = 20

	points := s.Run(rows, normalLabels(len(rows)))
	require.Len(t, points, 10)

	assert.Equal(t, types.PositionCash, points[0].Position)
	assert.Equal(t, 0, points[0].Signal)

	assert.Equal(t, 1, points[1].Signal)
	assert.Equal(t, types.PositionLong, points[1].Position)
	assert.Equal(t, 100.0, points[1].EntryPrice)
	assert.Equal(t, 1.0, points[1].PositionSize)

	// Neutral RSI afterwards holds the open position.
	assert.Equal(t, types.PositionLong, points[5].Position)
	assert.Equal(t, 100.0, points[5].EntryPrice, "entry price never updated while held")
}

func TestStopLossClosesPosition(t *testing.T) {
	s := New(zap.NewNop(), nil)

	rows := []types.FeatureRow{
		neutralRow(0, 100),
		neutralRow(1, 98),
		neutralRow(2, 94),
		neutralRow(3, 94),
	}
	rows[0].RSI = 20 // entry at 100

	points := s.Run(rows, normalLabels(len(rows)))

	assert.Equal(t, types.PositionLong, points[0].Position)
	assert.Equal(t, types.PositionLong, points[1].Position, "2% loss holds")
	assert.Equal(t, types.PositionCash, points[2].Position, "6% loss from entry stops out")
	assert.Equal(t, 0.0, points[2].EntryPrice)
	assert.Equal(t, types.PositionCash, points[3].Position, "stays flat without a fresh signal")
}

func TestOverboughtExit(t *testing.T) {
	s := New(zap.NewNop(), nil)

	rows := []types.FeatureRow{neutralRow(0, 100), neutralRow(1, 105)}
	rows[0].RSI = 20
	rows[1].RSI = 75

	points := s.Run(rows, normalLabels(len(rows)))
	assert.Equal(t, types.PositionLong, points[0].Position)
	assert.Equal(t, types.PositionCash, points[1].Position)
}

func TestMACrossoverEntry(t *testing.T) {
	s := New(zap.NewNop(), nil)

	row := neutralRow(0, 100)
	row.MAFast = 102
	row.MASlow = 100

	points := s.Run([]types.FeatureRow{row}, normalLabels(1))
	assert.Equal(t, types.PositionLong, points[0].Position)
}

func TestRegimeOverridesEverything(t *testing.T) {
	s := New(zap.NewNop(), nil)

	rows := make([]types.FeatureRow, 4)
	for i := range rows {
		rows[i] = neutralRow(i, 100)
		rows[i].RSI = 20 // perpetual buy signal
	}
	labels := []regime.Regime{
		regime.RegimeNormal,
		regime.RegimeCrash,
		regime.RegimeRecovery,
		regime.RegimeNormal,
	}

	points := s.Run(rows, labels)

	assert.Equal(t, types.PositionLong, points[0].Position)
	assert.Equal(t, types.PositionCash, points[1].Position)
	assert.Equal(t, 0.0, points[1].PositionSize)
	assert.Equal(t, types.PositionCash, points[2].Position)
	assert.Equal(t, types.PositionLong, points[3].Position)
	assert.Equal(t, 100.0, points[3].EntryPrice, "fresh entry price after the regime clears")
}

func TestRunAllNaNRowsStaysFlat(t *testing.T) {
	s := New(zap.NewNop(), nil)

	rows := make([]types.FeatureRow, 5)
	for i := range rows {
		rows[i] = types.NewFeatureRow(time.Date(2024, 6, 1+i, 0, 0, 0, 0, time.UTC))
	}

	points := s.Run(rows, normalLabels(len(rows)))
	for _, p := range points {
		assert.Equal(t, types.PositionCash, p.Position)
		assert.Equal(t, 0.0, p.PositionSize)
	}
}
