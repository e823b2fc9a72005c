// Package features computes crash-detection indicators and technicals
// from aligned price series.
//
// The three crash precursors are DUVOL (down-to-up volatility ratio),
// NCSKEW (negative coefficient of skewness), and the cross-asset canary
// (an equity sell-off leading a crypto liquidation). Warmup periods and
// unusable windows are NaN; every downstream consumer treats NaN as
// missing.
package features

import (
	"math"
	"time"

	"github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"github.com/quantfold/crashsim/pkg/types"
)

// Config holds indicator windows and thresholds.
type Config struct {
	Window          int     `json:"window"` // DUVOL/NCSKEW rolling window
	RSIWindow       int     `json:"rsiWindow"`
	FastMAWindow    int     `json:"fastMAWindow"`
	SlowMAWindow    int     `json:"slowMAWindow"`
	CanaryThreshold float64 `json:"canaryThreshold"`
	CanaryLookback  int     `json:"canaryLookback"`
}

// DefaultConfig returns the standard indicator parameters.
func DefaultConfig() *Config {
	return &Config{
		Window:          20,
		RSIWindow:       14,
		FastMAWindow:    10,
		SlowMAWindow:    30,
		CanaryThreshold: -0.03,
		CanaryLookback:  1,
	}
}

// Engineer computes feature rows from raw prices.
type Engineer struct {
	logger *zap.Logger
	config *Config
}

// NewEngineer creates a feature engineer.
func NewEngineer(logger *zap.Logger, config *Config) *Engineer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engineer{logger: logger, config: config}
}

// Returns computes simple daily returns. The first element is NaN.
func Returns(prices []float64) []float64 {
	out := make([]float64, len(prices))
	for i := range out {
		out[i] = math.NaN()
		if i > 0 && prices[i-1] > 0 && !math.IsNaN(prices[i]) {
			out[i] = prices[i]/prices[i-1] - 1
		}
	}
	return out
}

// sampleStd is the n-1 standard deviation, NaN below two observations.
func sampleStd(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return math.NaN()
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)
	ss := 0.0
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

func windowHasNaN(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// Duvol computes the rolling down-to-up volatility ratio,
// log(std(down returns) / std(up returns)). Windows with fewer than two
// up or two down days, or a zero up-side deviation, are NaN.
func (e *Engineer) Duvol(returns []float64) []float64 {
	w := e.config.Window
	out := make([]float64, len(returns))
	for i := range out {
		out[i] = math.NaN()
		if i < w-1 {
			continue
		}
		window := returns[i-w+1 : i+1]
		if windowHasNaN(window) {
			continue
		}

		var up, down []float64
		for _, r := range window {
			if r > 0 {
				up = append(up, r)
			} else if r < 0 {
				down = append(down, r)
			}
		}
		if len(up) < 2 || len(down) < 2 {
			continue
		}

		upStd := sampleStd(up)
		downStd := sampleStd(down)
		if upStd == 0 {
			continue
		}
		out[i] = math.Log(downStd / upStd)
	}
	return out
}

// Ncskew computes the rolling negative coefficient of skewness:
//
//	-[n(n-1)^1.5 * sum((r-mean)^3)] / [(n-1)(n-2) * std^3]
//
// Higher values mean a heavier left tail.
func (e *Engineer) Ncskew(returns []float64) []float64 {
	w := e.config.Window
	out := make([]float64, len(returns))
	for i := range out {
		out[i] = math.NaN()
		if i < w-1 {
			continue
		}
		window := returns[i-w+1 : i+1]
		if windowHasNaN(window) {
			continue
		}

		n := float64(len(window))
		mean := 0.0
		for _, r := range window {
			mean += r
		}
		mean /= n

		m3 := 0.0
		for _, r := range window {
			d := r - mean
			m3 += d * d * d
		}

		std := sampleStd(window)
		if std == 0 || math.IsNaN(std) {
			continue
		}

		out[i] = -(n * math.Pow(n-1, 1.5) * m3) / ((n - 1) * (n - 2) * math.Pow(std, 3))
	}
	return out
}

// CanarySignal flags days where the equity index dropped through the
// threshold within the lookback window. Missing data reads as no signal.
func (e *Engineer) CanarySignal(nasdaqReturns []float64) []float64 {
	w := e.config.CanaryLookback
	if w < 1 {
		w = 1
	}
	out := make([]float64, len(nasdaqReturns))
	for i := range out {
		if i < w-1 {
			continue
		}
		low := math.Inf(1)
		usable := true
		for _, r := range nasdaqReturns[i-w+1 : i+1] {
			if math.IsNaN(r) {
				usable = false
				break
			}
			if r < low {
				low = r
			}
		}
		if usable && low < e.config.CanaryThreshold {
			out[i] = 1
		}
	}
	return out
}

// Volatility computes the rolling sample standard deviation of returns.
func Volatility(returns []float64, window int) []float64 {
	out := make([]float64, len(returns))
	for i := range out {
		out[i] = math.NaN()
		if i < window-1 {
			continue
		}
		w := returns[i-window+1 : i+1]
		if windowHasNaN(w) {
			continue
		}
		out[i] = sampleStd(w)
	}
	return out
}

// naNWarmup replaces the indicator library's zero-filled warmup with NaN
// so missing values stay distinguishable from real zeros.
func naNWarmup(values []float64, warmup int) []float64 {
	for i := 0; i < warmup && i < len(values); i++ {
		values[i] = math.NaN()
	}
	return values
}

// Generate builds one feature row per day from aligned crypto prices and
// equity-index returns. Rows keep their NaN warmups; consumers decide how
// to treat missing values.
func (e *Engineer) Generate(
	dates []time.Time,
	prices []float64,
	nasdaqReturns []float64,
) []types.FeatureRow {
	n := len(dates)
	if len(prices) < n {
		n = len(prices)
	}
	if len(nasdaqReturns) < n {
		n = len(nasdaqReturns)
	}
	if n == 0 {
		return nil
	}

	returns := Returns(prices[:n])
	duvol := e.Duvol(returns)
	ncskew := e.Ncskew(returns)
	canary := e.CanarySignal(nasdaqReturns[:n])
	vol10 := Volatility(returns, 10)
	vol30 := Volatility(returns, 30)

	rsi := naNWarmup(talib.Rsi(prices[:n], e.config.RSIWindow), e.config.RSIWindow)
	maFast := naNWarmup(talib.Sma(prices[:n], e.config.FastMAWindow), e.config.FastMAWindow-1)
	maSlow := naNWarmup(talib.Sma(prices[:n], e.config.SlowMAWindow), e.config.SlowMAWindow-1)

	rows := make([]types.FeatureRow, n)
	for i := 0; i < n; i++ {
		row := types.NewFeatureRow(dates[i])
		row.Price = prices[i]
		row.Returns = returns[i]
		row.Duvol = duvol[i]
		row.Ncskew = ncskew[i]
		row.Volatility10d = vol10[i]
		row.Volatility30d = vol30[i]
		row.NasdaqReturns = nasdaqReturns[i]
		row.RSI = rsi[i]
		row.MAFast = maFast[i]
		row.MASlow = maSlow[i]
		row.CanarySignal = canary[i]
		rows[i] = row
	}

	if e.logger != nil {
		e.logger.Debug("features generated", zap.Int("rows", len(rows)))
	}

	return rows
}
