// Package stress generates adversarial price scenarios and replays the
// full detection-strategy-backtest pipeline on them.
package stress

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/quantfold/crashsim/internal/backtester"
	"github.com/quantfold/crashsim/internal/features"
	"github.com/quantfold/crashsim/internal/regime"
	"github.com/quantfold/crashsim/internal/strategy"
)

// Scenario is a stressed variant of an input price series.
type Scenario struct {
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	Prices         []float64   `json:"prices"`
	OriginalPrices []float64   `json:"originalPrices"`
	Dates          []time.Time `json:"dates"`
	StressStart    int         `json:"stressStart"` // index into Prices
	StressEnd      int         `json:"stressEnd"`
}

// Generator builds stress scenarios from a clean price history.
type Generator struct {
	logger *zap.Logger
}

// NewGenerator creates a scenario generator.
func NewGenerator(logger *zap.Logger) *Generator {
	return &Generator{logger: logger}
}

// FlashCrash injects a linear drop over durationDays starting mid-series
// (or at startIdx when >= 0), followed by a partial 50% retrace over
// recoveryDays. The remainder of the series continues from the recovered
// level, preserving the original shape.
func (g *Generator) FlashCrash(
	dates []time.Time,
	prices []float64,
	dropPct float64,
	durationDays, recoveryDays, startIdx int,
) Scenario {
	modified := append([]float64(nil), prices...)

	if startIdx < 0 || startIdx >= len(prices) {
		startIdx = len(prices) / 2
	}
	crashEnd := min(startIdx+durationDays-1, len(prices)-1)
	recoveryEnd := min(crashEnd+recoveryDays, len(prices)-1)

	preCrash := prices[startIdx]

	for i := startIdx; i <= crashEnd; i++ {
		progress := float64(i-startIdx+1) / float64(durationDays)
		modified[i] = preCrash * (1 - dropPct*progress)
	}

	bottom := preCrash * (1 - dropPct)
	target := bottom + (preCrash-bottom)*0.5
	for i := crashEnd + 1; i <= recoveryEnd; i++ {
		progress := float64(i-crashEnd) / float64(recoveryDays)
		modified[i] = bottom + (target-bottom)*progress
	}

	if recoveryEnd+1 < len(prices) && prices[recoveryEnd] > 0 {
		ratio := modified[recoveryEnd] / prices[recoveryEnd]
		for i := recoveryEnd + 1; i < len(prices); i++ {
			modified[i] = prices[i] * ratio
		}
	}

	return Scenario{
		Name:           fmt.Sprintf("Flash Crash (%.0f%%)", dropPct*100),
		Description:    fmt.Sprintf("%.0f%% drop over %d days", dropPct*100, durationDays),
		Prices:         modified,
		OriginalPrices: prices,
		Dates:          dates,
		StressStart:    startIdx,
		StressEnd:      recoveryEnd,
	}
}

// VolatilitySpike amplifies return deviations around their local mean by
// the multiplier for durationDays, without changing the trend. The tail
// of the series is rescaled to continue from the spiked level.
func (g *Generator) VolatilitySpike(
	dates []time.Time,
	prices []float64,
	multiplier float64,
	durationDays, startIdx int,
) Scenario {
	modified := append([]float64(nil), prices...)

	if startIdx <= 0 || startIdx >= len(prices) {
		startIdx = len(prices) / 2
	}
	spikeEnd := min(startIdx+durationDays, len(prices)-1)

	returns := features.Returns(prices)

	mean := 0.0
	count := 0
	for i := startIdx; i <= spikeEnd; i++ {
		if !math.IsNaN(returns[i]) {
			mean += returns[i]
			count++
		}
	}
	if count > 0 {
		mean /= float64(count)
	}

	for i := startIdx; i <= spikeEnd; i++ {
		if math.IsNaN(returns[i]) {
			continue
		}
		amplified := mean + (returns[i]-mean)*multiplier
		modified[i] = modified[i-1] * (1 + amplified)
	}

	if spikeEnd+1 < len(prices) && prices[spikeEnd] > 0 {
		ratio := modified[spikeEnd] / prices[spikeEnd]
		for i := spikeEnd + 1; i < len(prices); i++ {
			modified[i] = prices[i] * ratio
		}
	}

	return Scenario{
		Name:           fmt.Sprintf("Volatility Spike (%.1fx)", multiplier),
		Description:    fmt.Sprintf("%.1fx volatility for %d days", multiplier, durationDays),
		Prices:         modified,
		OriginalPrices: prices,
		Dates:          dates,
		StressStart:    startIdx,
		StressEnd:      spikeEnd,
	}
}

// Whipsaw overlays rapid sinusoidal reversals around the mid-series price
// level, testing resilience to false signals.
func (g *Generator) Whipsaw(
	dates []time.Time,
	prices []float64,
	swingPct float64,
	numSwings, swingPeriod int,
) Scenario {
	modified := append([]float64(nil), prices...)

	mid := len(prices) / 2
	base := prices[mid]

	for swing := 0; swing < numSwings; swing++ {
		start := mid + swing*swingPeriod
		end := min(start+swingPeriod, len(prices))

		direction := 1.0
		if swing%2 == 1 {
			direction = -1
		}

		for i := start; i < end; i++ {
			progress := float64(i-start) / float64(swingPeriod)
			offset := direction * swingPct * math.Sin(progress*math.Pi)
			modified[i] = base * (1 + offset)
		}
	}

	return Scenario{
		Name:           fmt.Sprintf("Whipsaw (%d swings)", numSwings),
		Description:    fmt.Sprintf("%d reversals of %.0f%%", numSwings, swingPct*100),
		Prices:         modified,
		OriginalPrices: prices,
		Dates:          dates,
		StressStart:    mid,
		StressEnd:      min(mid+numSwings*swingPeriod, len(prices)-1),
	}
}

// StressResult captures how the pipeline handled one scenario.
type StressResult struct {
	ScenarioName       string  `json:"scenarioName"`
	StressPeriodReturn float64 `json:"stressPeriodReturn"` // percent
	StressPeriodMaxDD  float64 `json:"stressPeriodMaxDD"`  // percent
	TimeInCashPct      float64 `json:"timeInCashPct"`
	TradesDuringStress int     `json:"tradesDuringStress"`
	DetectedStress     bool    `json:"detectedStress"`
}

// Runner replays scenarios through detection, strategy, and backtest.
type Runner struct {
	logger     *zap.Logger
	engineer   *features.Engineer
	detector   *regime.Detector
	strategy   *strategy.Strategy
	backtester *backtester.Backtester
}

// NewRunner wires the full pipeline for stress replay.
func NewRunner(
	logger *zap.Logger,
	engineer *features.Engineer,
	detector *regime.Detector,
	strat *strategy.Strategy,
	bt *backtester.Backtester,
) *Runner {
	return &Runner{
		logger:     logger,
		engineer:   engineer,
		detector:   detector,
		strategy:   strat,
		backtester: bt,
	}
}

// Run rebuilds features from the stressed prices, reruns detection and
// the strategy, backtests the result, and measures behavior inside the
// stress window.
func (r *Runner) Run(scenario Scenario, nasdaqReturns []float64) StressResult {
	rows := r.engineer.Generate(scenario.Dates, scenario.Prices, nasdaqReturns)
	labels := r.detector.DetectSeries(rows)
	signals := r.strategy.Run(rows, labels)
	ledger := r.backtester.Run(rows, signals)

	result := StressResult{ScenarioName: scenario.Name}

	start, end := scenario.StressStart, scenario.StressEnd
	if start >= len(ledger) || start > end {
		return result
	}
	if end >= len(ledger) {
		end = len(ledger) - 1
	}
	window := ledger[start : end+1]

	equity := backtester.EquityCurve(window)
	if len(equity) > 0 && equity[0] > 0 {
		result.StressPeriodReturn = (equity[len(equity)-1]/equity[0] - 1) * 100
	}
	result.StressPeriodMaxDD = backtester.Drawdown(equity).MaxDrawdown * 100

	cashDays := 0
	for _, p := range window {
		if p.Signal == 0 {
			cashDays++
		}
		if p.TradeType != "" {
			result.TradesDuringStress++
		}
	}
	result.TimeInCashPct = float64(cashDays) / float64(len(window)) * 100
	result.DetectedStress = cashDays > 0

	if r.logger != nil {
		r.logger.Info("stress scenario complete",
			zap.String("scenario", scenario.Name),
			zap.Float64("stressReturn", result.StressPeriodReturn),
			zap.Bool("detected", result.DetectedStress),
		)
	}

	return result
}
