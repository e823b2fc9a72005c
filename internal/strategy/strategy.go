// Package strategy implements the hybrid regime-switching trading strategy.
//
// Normal regime: trend following on RSI and MA crossover with inverse
// volatility sizing. Crash or recovery regime: forced liquidation to cash.
// Stop-loss protection against the recorded entry price.
package strategy

import (
	"math"

	"go.uber.org/zap"

	"github.com/quantfold/crashsim/internal/regime"
	"github.com/quantfold/crashsim/pkg/types"
)

// Config holds strategy parameters.
type Config struct {
	RSIOversold      float64 // RSI below this is a buy signal
	RSIOverbought    float64 // RSI above this is a sell signal
	StopLossPct      float64 // loss from entry that forces an exit
	MaxPositionSize  float64 // cap on position fraction
	VolatilityTarget float64 // target daily volatility for sizing
}

// DefaultConfig returns the standard parameters.
func DefaultConfig() *Config {
	return &Config{
		RSIOversold:      30,
		RSIOverbought:    70,
		StopLossPct:      0.05,
		MaxPositionSize:  1.0,
		VolatilityTarget: 0.02,
	}
}

// Strategy converts regime labels and technical signals into target
// positions (single asset) or target weights (portfolio).
type Strategy struct {
	logger *zap.Logger
	config *Config
}

// New creates a strategy.
func New(logger *zap.Logger, config *Config) *Strategy {
	if config == nil {
		config = DefaultConfig()
	}
	return &Strategy{logger: logger, config: config}
}

// PositionSize sizes a long position inversely to realized volatility,
// capped at the maximum. Missing or non-positive volatility falls back to
// the maximum size.
func (s *Strategy) PositionSize(volatility float64) float64 {
	if math.IsNaN(volatility) || volatility <= 0 {
		return s.config.MaxPositionSize
	}
	return math.Min(s.config.VolatilityTarget/volatility, s.config.MaxPositionSize)
}

// StopLossTriggered reports whether the loss from entry has reached the
// stop. Entry price 0 means no open position reference.
func (s *Strategy) StopLossTriggered(entryPrice, currentPrice float64) bool {
	if entryPrice <= 0 {
		return false
	}
	return (entryPrice-currentPrice)/entryPrice >= s.config.StopLossPct
}

// trendSignal evaluates the normal-regime entry/exit rules. The third
// return state ("no signal") means hold whatever is on.
type trendSignal int

const (
	trendHold trendSignal = iota
	trendLong
	trendCash
)

func (s *Strategy) trendSignal(row types.FeatureRow) trendSignal {
	// Buy: oversold RSI or a bullish MA crossover. NaN comparisons are
	// false, so missing indicators never force a trade.
	if row.RSI < s.config.RSIOversold || (row.MAFast > row.MASlow && row.MASlow > 0) {
		return trendLong
	}
	if row.RSI > s.config.RSIOverbought {
		return trendCash
	}
	return trendHold
}

// Evaluate computes the target position and size for one day.
// Regime overrides everything; the stop-loss overrides the trend signal.
func (s *Strategy) Evaluate(
	row types.FeatureRow,
	label regime.Regime,
	current types.Position,
	entryPrice float64,
) (types.Position, float64) {
	// Crash or recovery: fully to cash, no exceptions.
	if label == regime.RegimeCrash || label == regime.RegimeRecovery {
		return types.PositionCash, 0
	}

	if current == types.PositionLong && s.StopLossTriggered(entryPrice, row.Price) {
		return types.PositionCash, 0
	}

	switch s.trendSignal(row) {
	case trendLong:
		return types.PositionLong, s.PositionSize(row.Volatility10d)
	case trendCash:
		return types.PositionCash, 0
	default:
		if current == types.PositionLong {
			return types.PositionLong, s.PositionSize(row.Volatility10d)
		}
		return types.PositionCash, 0
	}
}

// Run executes the strategy over a feature sequence with pre-computed
// regime labels (aligned 1:1). The entry price is recorded on the
// cash-to-long transition and is the sole stop-loss reference until the
// position is closed; it is never updated while held.
func (s *Strategy) Run(rows []types.FeatureRow, labels []regime.Regime) []types.SignalPoint {
	out := make([]types.SignalPoint, 0, len(rows))

	current := types.PositionCash
	entryPrice := 0.0

	for i, row := range rows {
		label := regime.RegimeNormal
		if i < len(labels) {
			label = labels[i]
		}

		next, size := s.Evaluate(row, label, current, entryPrice)

		if next == types.PositionLong && current == types.PositionCash {
			entryPrice = row.Price
		} else if next == types.PositionCash {
			entryPrice = 0
		}

		signal := 0
		if next == types.PositionLong {
			signal = 1
		}

		out = append(out, types.SignalPoint{
			Date:         row.Date,
			Signal:       signal,
			Position:     next,
			PositionSize: size,
			EntryPrice:   entryPrice,
		})

		current = next
	}

	if s.logger != nil {
		trades := 0
		prev := 0
		for _, p := range out {
			if p.Signal != prev {
				trades++
			}
			prev = p.Signal
		}
		s.logger.Debug("strategy run complete",
			zap.Int("days", len(out)),
			zap.Int("transitions", trades),
		)
	}

	return out
}
