// Package intensity implements continuous crash-risk scoring.
//
// Instead of a binary crash flag, the scorer produces a Crash Intensity
// Score (CIS) in [0,100] from five weighted sub-signals, and a proportional
// position size that ramps down smoothly as intensity rises. The continuous
// control surface avoids the oscillatory whipsaw trading a hard threshold
// produces.
package intensity

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/quantfold/crashsim/pkg/types"
)

// Config holds scorer weights, normalization anchors and recovery
// parameters. The five weights must sum to 1.0 within tolerance.
type Config struct {
	// Component weights.
	DuvolWeight      float64
	NcskewWeight     float64
	VolatilityWeight float64
	CanaryWeight     float64
	MomentumWeight   float64

	// Normalization anchors (value mapping to intensity 100).
	DuvolHigh          float64 // DUVOL at or above this scores 100
	NcskewHigh         float64 // NCSKEW at or above this scores 100
	VolSpikeMultiplier float64 // vol at this multiple of average scores 100

	// Recovery parameters (consumed by the RecoveryEngine).
	RecoveryThreshold float64 // readiness score needed to re-enter
	MinRecoveryDays   int     // minimum days in cash before re-entry
	ScalingSteps      int     // graduated re-entry steps
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() *Config {
	return &Config{
		DuvolWeight:        0.25,
		NcskewWeight:       0.20,
		VolatilityWeight:   0.25,
		CanaryWeight:       0.15,
		MomentumWeight:     0.15,
		DuvolHigh:          1.0,
		NcskewHigh:         2.0,
		VolSpikeMultiplier: 3.0,
		RecoveryThreshold:  0.60,
		MinRecoveryDays:    3,
		ScalingSteps:       4,
	}
}

const weightTolerance = 0.01

// Scorer computes the Crash Intensity Score. It is stateless: the score is
// a pure function of a single feature row.
type Scorer struct {
	logger *zap.Logger
	config *Config
}

// NewScorer creates a scorer, failing fast if the weights do not sum to 1.0.
// Weights are never silently renormalized.
func NewScorer(logger *zap.Logger, config *Config) (*Scorer, error) {
	if config == nil {
		config = DefaultConfig()
	}

	total := config.DuvolWeight + config.NcskewWeight + config.VolatilityWeight +
		config.CanaryWeight + config.MomentumWeight
	if math.Abs(total-1.0) > weightTolerance {
		return nil, fmt.Errorf("intensity weights must sum to 1.0, got %.4f", total)
	}

	return &Scorer{logger: logger, config: config}, nil
}

// normalizeTo100 maps value linearly from [low,high] to [0,100], clamped.
// A degenerate anchor pair maps everything to the midpoint.
func normalizeTo100(value, low, high float64) float64 {
	if high == low {
		return 50.0
	}
	n := (value - low) / (high - low) * 100
	return math.Min(math.Max(n, 0), 100)
}

// DuvolIntensity scores the down-to-up volatility ratio. DUVOL at or above
// the high anchor (default 1.0) is maximum danger.
func (s *Scorer) DuvolIntensity(duvol float64) float64 {
	if math.IsNaN(duvol) {
		return 0
	}
	return normalizeTo100(duvol, 0, s.config.DuvolHigh)
}

// NcskewIntensity scores the negative coefficient of skewness.
func (s *Scorer) NcskewIntensity(ncskew float64) float64 {
	if math.IsNaN(ncskew) {
		return 0
	}
	return normalizeTo100(ncskew, 0, s.config.NcskewHigh)
}

// VolatilityIntensity scores a short-term volatility spike relative to the
// long-term average. A ratio of 1 scores 0; the spike multiplier (default
// 3x) scores 100. Missing or non-positive average volatility scores 0.
func (s *Scorer) VolatilityIntensity(currentVol, avgVol float64) float64 {
	if math.IsNaN(currentVol) || math.IsNaN(avgVol) || avgVol <= 0 {
		return 0
	}
	return normalizeTo100(currentVol/avgVol, 1.0, s.config.VolSpikeMultiplier)
}

// MomentumIntensity scores sharp negative momentum. Non-negative cumulative
// returns score 0; a -20% five-day return scores 100.
func (s *Scorer) MomentumIntensity(returns5d float64) float64 {
	if math.IsNaN(returns5d) || returns5d >= 0 {
		return 0
	}
	return normalizeTo100(math.Abs(returns5d), 0, 0.20)
}

// CanaryIntensity scores the cross-asset early-warning signal. A -5% NASDAQ
// day scores 100; non-negative days score 0.
func (s *Scorer) CanaryIntensity(nasdaqReturn float64) float64 {
	if math.IsNaN(nasdaqReturn) || nasdaqReturn >= 0 {
		return 0
	}
	return normalizeTo100(math.Abs(nasdaqReturn), 0, 0.05)
}

// Score computes the composite CIS for one day:
//
//	CIS = w1*duvol + w2*ncskew + w3*volSpike + w4*momentum + w5*canary
//
// capped at 100. Missing fields contribute 0.
func (s *Scorer) Score(row types.FeatureRow) float64 {
	vol30 := row.Volatility30d
	if math.IsNaN(vol30) {
		vol30 = row.Volatility10d
	}

	// Five-day momentum is approximated as the daily return scaled by 5;
	// this mirrors the documented reference behavior (see DESIGN.md).
	returns5d := 0.0
	if !math.IsNaN(row.Returns) {
		returns5d = row.Returns * 5
	}

	cis := s.config.DuvolWeight*s.DuvolIntensity(row.Duvol) +
		s.config.NcskewWeight*s.NcskewIntensity(row.Ncskew) +
		s.config.VolatilityWeight*s.VolatilityIntensity(row.Volatility10d, vol30) +
		s.config.MomentumWeight*s.MomentumIntensity(returns5d) +
		s.config.CanaryWeight*s.CanaryIntensity(row.NasdaqReturns)

	return math.Min(cis, 100)
}

// ProportionalPosition converts a CIS into a position size. The base
// position is held in full below intensity 20, cut to zero above 80, and
// ramped linearly between the two.
func (s *Scorer) ProportionalPosition(cis, basePosition float64) float64 {
	switch {
	case cis < 20:
		return basePosition
	case cis > 80:
		return 0
	default:
		reduction := (cis - 20) / 60
		return basePosition * (1 - reduction)
	}
}

// ScoreSeries maps Score over a feature sequence. Purely row-wise: no state
// is carried, so the series can be recomputed from any starting point.
func (s *Scorer) ScoreSeries(rows []types.FeatureRow) []float64 {
	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = s.Score(row)
	}

	if s.logger != nil && len(scores) > 0 {
		max := scores[0]
		for _, v := range scores[1:] {
			if v > max {
				max = v
			}
		}
		s.logger.Debug("intensity series computed",
			zap.Int("days", len(scores)),
			zap.Float64("maxCIS", max),
		)
	}

	return scores
}
