package intensity

import (
	"math"

	"go.uber.org/zap"

	"github.com/quantfold/crashsim/pkg/types"
)

// StrategyPoint is one day of intensity-aware strategy output.
type StrategyPoint struct {
	Date          string  `json:"date"`
	CIS           float64 `json:"cis"`
	MaxPosition   float64 `json:"maxPosition"`
	PositionSize  float64 `json:"positionSize"`
	Signal        int     `json:"signal"`
	InRecovery    bool    `json:"inRecovery"`
	RecoveryStep  int     `json:"recoveryStep"`
	DaysInCash    int     `json:"daysInCash"`
	RecoveryScore float64 `json:"recoveryScore"`
}

// Strategy combines the scorer and the recovery engine into a day-by-day
// policy: proportional sizing in normal conditions, forced cash above the
// exit threshold, and gated graduated re-entry afterwards.
type Strategy struct {
	logger   *zap.Logger
	config   *Config
	scorer   *Scorer
	recovery *RecoveryEngine

	rsiOversold   float64
	rsiOverbought float64
}

// exitIntensity is the CIS above which the strategy goes fully to cash and
// arms the recovery engine.
const exitIntensity = 70.0

// NewStrategy creates an intensity-aware strategy. Returns the scorer's
// configuration error when the weights are invalid.
func NewStrategy(logger *zap.Logger, config *Config) (*Strategy, error) {
	if config == nil {
		config = DefaultConfig()
	}
	scorer, err := NewScorer(logger, config)
	if err != nil {
		return nil, err
	}
	return &Strategy{
		logger:        logger,
		config:        config,
		scorer:        scorer,
		recovery:      NewRecoveryEngine(config),
		rsiOversold:   30,
		rsiOverbought: 70,
	}, nil
}

// Run walks the feature sequence once, carrying recovery state forward, and
// returns one strategy point per row. Strict causality: day t depends only
// on rows up to and including t.
func (s *Strategy) Run(rows []types.FeatureRow) []StrategyPoint {
	out := make([]StrategyPoint, 0, len(rows))

	position := 0.0
	var state RecoveryState

	for _, row := range rows {
		cis := s.scorer.Score(row)
		maxPosition := s.scorer.ProportionalPosition(cis, 1.0)

		var target float64
		var score float64

		switch {
		case cis > exitIntensity:
			// Severe intensity: fully out, restart the recovery clock.
			target = 0
			state.DaysInCash++
			state.InRecoveryMode = true
			state.RecoveryStep = 0

		case state.InRecoveryMode:
			score = s.recovery.RecoveryScore(
				row.Price, row.MAFast,
				row.Volatility10d, row.Volatility30d,
				row.RSI, cis,
			)
			if s.recovery.ShouldStartRecovery(score, state.DaysInCash) {
				state.RecoveryStep++
				target = s.recovery.ScalingPosition(state.RecoveryStep)
				if state.RecoveryStep >= s.config.ScalingSteps {
					state.Reset()
				}
			} else {
				target = 0
				state.DaysInCash++
			}

		default:
			// Normal trading: trend signal sized proportionally.
			rsi := row.RSI
			switch {
			case rsi < s.rsiOversold || (row.MAFast > row.MASlow && row.MASlow > 0):
				target = maxPosition
			case rsi > s.rsiOverbought:
				target = maxPosition * 0.5 // reduce, don't exit
			default:
				target = position // hold
			}
			state.DaysInCash = 0
		}

		position = math.Min(target, maxPosition)

		signal := 0
		if position > 0 {
			signal = 1
		}

		out = append(out, StrategyPoint{
			Date:          row.Date.Format("2006-01-02"),
			CIS:           cis,
			MaxPosition:   maxPosition,
			PositionSize:  position,
			Signal:        signal,
			InRecovery:    state.InRecoveryMode,
			RecoveryStep:  state.RecoveryStep,
			DaysInCash:    state.DaysInCash,
			RecoveryScore: score,
		})
	}

	if s.logger != nil {
		s.logger.Debug("intensity strategy complete", zap.Int("days", len(out)))
	}

	return out
}
