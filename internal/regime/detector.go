// Package regime provides market regime detection for the crash-aware
// strategy. The regime is an explicit three-state machine (normal, crash,
// recovery) carried forward day by day, not recomputed from history.
package regime

import (
	"math"

	"go.uber.org/zap"

	"github.com/quantfold/crashsim/pkg/types"
)

// Regime represents the market condition state.
type Regime string

const (
	RegimeNormal   Regime = "normal"
	RegimeCrash    Regime = "crash"
	RegimeRecovery Regime = "recovery"
)

// Config configures the regime detector thresholds.
type Config struct {
	DuvolThreshold           float64 // DUVOL level that triggers crash
	NasdaqDropThreshold      float64 // NASDAQ daily return that triggers crash
	VolatilityRatioThreshold float64 // vol_10d/vol_30d below this = recovered
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() *Config {
	return &Config{
		DuvolThreshold:           0.5,
		NasdaqDropThreshold:      -0.03,
		VolatilityRatioThreshold: 1.0,
	}
}

// Detector classifies each day into a market regime.
//
// Transitions:
//   - normal -> crash when any crash condition fires
//   - crash -> recovery unconditionally (crash is a one-day state, acting
//     as a mandatory cooldown)
//   - recovery -> crash if still crashing, -> normal once volatility has
//     mean-reverted, otherwise stays in recovery
type Detector struct {
	logger *zap.Logger
	config *Config
}

// NewDetector creates a regime detector.
func NewDetector(logger *zap.Logger, config *Config) *Detector {
	if config == nil {
		config = DefaultConfig()
	}
	return &Detector{logger: logger, config: config}
}

// IsCrash reports whether the current observation triggers the crash regime.
// A missing DUVOL is treated as 0 (biases toward normal).
func (d *Detector) IsCrash(duvol, nasdaqReturn, canarySignal float64) bool {
	if math.IsNaN(duvol) {
		duvol = 0
	}
	return duvol > d.config.DuvolThreshold ||
		nasdaqReturn < d.config.NasdaqDropThreshold ||
		canarySignal == 1
}

// RecoveryComplete reports whether short-term volatility has dropped back
// below the long-term average, i.e. it is safe to re-enter. Missing or zero
// volatilities count as not yet recovered.
func (d *Detector) RecoveryComplete(vol10d, vol30d float64) bool {
	if math.IsNaN(vol10d) || math.IsNaN(vol30d) || vol30d == 0 {
		return false
	}
	return vol10d/vol30d < d.config.VolatilityRatioThreshold
}

// Step advances the state machine by one observation.
func (d *Detector) Step(current Regime, row types.FeatureRow) Regime {
	isCrash := d.IsCrash(row.Duvol, row.NasdaqReturns, row.CanarySignal)

	switch current {
	case RegimeNormal:
		if isCrash {
			return RegimeCrash
		}
		return RegimeNormal

	case RegimeCrash:
		// Crash lasts exactly one day, then the recovery watch begins.
		return RegimeRecovery

	case RegimeRecovery:
		if isCrash {
			return RegimeCrash
		}
		if d.RecoveryComplete(row.Volatility10d, row.Volatility30d) {
			return RegimeNormal
		}
		return RegimeRecovery
	}

	return RegimeNormal
}

// DetectSeries runs a strict left-to-right scan over the feature sequence,
// starting from normal, and returns one label per row.
func (d *Detector) DetectSeries(rows []types.FeatureRow) []Regime {
	labels := make([]Regime, len(rows))
	current := RegimeNormal

	crashDays := 0
	for i, row := range rows {
		current = d.Step(current, row)
		labels[i] = current
		if current == RegimeCrash {
			crashDays++
		}
	}

	if d.logger != nil {
		d.logger.Debug("regime scan complete",
			zap.Int("days", len(rows)),
			zap.Int("crashDays", crashDays),
		)
	}

	return labels
}
