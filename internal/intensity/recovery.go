package intensity

import "math"

// RecoveryState tracks progress through a risk-driven exit and the
// graduated re-entry that follows. It is mutated sequentially as the
// simulation advances and reset on full re-entry or a fresh exit.
type RecoveryState struct {
	DaysInCash     int  `json:"daysInCash"`
	InRecoveryMode bool `json:"inRecoveryMode"`
	RecoveryStep   int  `json:"recoveryStep"`
}

// Reset clears the state after a full re-entry.
func (s *RecoveryState) Reset() {
	s.DaysInCash = 0
	s.InRecoveryMode = false
	s.RecoveryStep = 0
}

// RecoveryEngine scores readiness to re-enter after a crash exit and drives
// the graduated scale-back-in. Fast recovery matters as much as crash
// avoidance for overall crash survivability.
type RecoveryEngine struct {
	config *Config
}

// NewRecoveryEngine creates a recovery engine.
func NewRecoveryEngine(config *Config) *RecoveryEngine {
	if config == nil {
		config = DefaultConfig()
	}
	return &RecoveryEngine{config: config}
}

// Readiness component weights: price momentum, volatility calming,
// intensity, RSI zone.
var readinessWeights = [4]float64{0.30, 0.25, 0.25, 0.20}

// RecoveryScore computes the re-entry readiness score in [0,1]. Higher is
// safer.
func (e *RecoveryEngine) RecoveryScore(price, priceMA10, vol10d, vol30d, rsi, cis float64) float64 {
	var components [4]float64

	// 1. Price back above its short-term MA: ratio 0.9 maps to 0, 1.1 to 1.
	if price > 0 && priceMA10 > 0 {
		strength := math.Min(price/priceMA10, 1.1)
		score := (strength - 0.9) / 0.2
		components[0] = math.Max(0, math.Min(score, 1))
	}

	// 2. Volatility calming: short-term vol dropping below the long-term
	// average, scaled up so a modest drop already reads as progress.
	if vol10d > 0 && vol30d > 0 {
		calm := math.Max(0, 1-vol10d/vol30d)
		components[1] = math.Min(calm*2, 1)
	}

	// 3. Crash intensity receding.
	components[2] = math.Max(0, (50-cis)/50)

	// 4. RSI out of the oversold zone. A missing RSI reads as neutral.
	if math.IsNaN(rsi) {
		rsi = 50
	}
	switch {
	case rsi > 30 && rsi < 70:
		components[3] = 1.0
	case rsi <= 30:
		components[3] = rsi / 30
	default:
		components[3] = 0.8 // overbought, stay cautious
	}

	score := 0.0
	for i, c := range components {
		score += c * readinessWeights[i]
	}
	return score
}

// ShouldStartRecovery reports whether conditions allow scaling back in:
// the minimum cooling-off period has passed and readiness clears the
// threshold.
func (e *RecoveryEngine) ShouldStartRecovery(recoveryScore float64, daysInCash int) bool {
	if daysInCash < e.config.MinRecoveryDays {
		return false
	}
	return recoveryScore >= e.config.RecoveryThreshold
}

// ScalingPosition returns the position size at a given re-entry step: a
// strictly monotonic linear ramp from 0 at step 0 to 1 at the final step.
func (e *RecoveryEngine) ScalingPosition(currentStep int) float64 {
	if currentStep <= 0 {
		return 0
	}
	if currentStep >= e.config.ScalingSteps {
		return 1
	}
	return float64(currentStep) / float64(e.config.ScalingSteps)
}
