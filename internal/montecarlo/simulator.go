// Package montecarlo stress-tests the crash-exit policy across thousands
// of synthetic market scenarios with varying volatility regimes and crash
// frequencies.
package montecarlo

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/quantfold/crashsim/internal/backtester"
	"github.com/quantfold/crashsim/internal/metrics"
	"github.com/quantfold/crashsim/internal/workers"
)

// Config holds simulation parameters.
type Config struct {
	NumSimulations int     `json:"numSimulations"`
	SimulationDays int     `json:"simulationDays"`
	Seed           int64   `json:"seed"`
	InitialPrice   float64 `json:"initialPrice"`
	BaseReturn     float64 `json:"baseReturn"` // daily drift on non-crash days

	CrashSeverityMin float64 `json:"crashSeverityMin"`
	CrashSeverityMax float64 `json:"crashSeverityMax"`

	CrashProbMin float64 `json:"crashProbMin"`
	CrashProbMax float64 `json:"crashProbMax"`
	BaseVolMin   float64 `json:"baseVolMin"`
	BaseVolMax   float64 `json:"baseVolMax"`

	DrawdownThreshold float64 `json:"drawdownThreshold"` // survival cutoff
}

// DefaultConfig returns the standard scenario space: one year per path,
// a thousand paths, crash severities between -15% and -5%.
func DefaultConfig() *Config {
	return &Config{
		NumSimulations:    1000,
		SimulationDays:    252,
		Seed:              42,
		InitialPrice:      10000,
		BaseReturn:        0.0005,
		CrashSeverityMin:  -0.15,
		CrashSeverityMax:  -0.05,
		CrashProbMin:      0.005,
		CrashProbMax:      0.05,
		BaseVolMin:        0.02,
		BaseVolMax:        0.06,
		DrawdownThreshold: 0.50,
	}
}

// PathParams are the per-scenario draws that shape one price path.
type PathParams struct {
	CrashProbability float64
	BaseVolatility   float64
	Seed             int64
}

// PathMetrics summarizes strategy performance on one path.
type PathMetrics struct {
	TotalReturn float64 `json:"totalReturn"`
	MaxDrawdown float64 `json:"maxDrawdown"`
	Sharpe      float64 `json:"sharpe"`
	Volatility  float64 `json:"volatility"`
	WinRate     float64 `json:"winRate"`
}

// Results aggregates the distribution across all simulated scenarios.
// Percentile fields are percentages, matching the survival rate.
type Results struct {
	NumSimulations  int     `json:"numSimulations"`
	SurvivalRate    float64 `json:"survivalRate"` // % of paths with drawdown under the threshold
	MedianReturn    float64 `json:"medianReturn"`
	MeanReturn      float64 `json:"meanReturn"`
	Return5thPct    float64 `json:"return5thPct"`
	Return95thPct   float64 `json:"return95thPct"`
	MedianDrawdown  float64 `json:"medianDrawdown"`
	Drawdown5thPct  float64 `json:"drawdown5thPct"`
	Drawdown95thPct float64 `json:"drawdown95thPct"`
	MedianSharpe    float64 `json:"medianSharpe"`

	AllReturns   []float64 `json:"-"`
	AllDrawdowns []float64 `json:"-"`
	AllSharpes   []float64 `json:"-"`
}

// Simulator runs Monte Carlo stress scenarios on a worker pool.
type Simulator struct {
	logger *zap.Logger
	config *Config
	pool   *workers.Pool
}

// New creates a simulator. The pool is optional; without one, paths run
// sequentially.
func New(logger *zap.Logger, config *Config, pool *workers.Pool) *Simulator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Simulator{logger: logger, config: config, pool: pool}
}

// drawParams samples the scenario space. All randomness flows from the
// master seed: each path gets its own sub-seed so results are identical
// whether paths run sequentially or in parallel.
func (s *Simulator) drawParams() []PathParams {
	master := rand.New(rand.NewSource(s.config.Seed))
	params := make([]PathParams, s.config.NumSimulations)
	for i := range params {
		params[i] = PathParams{
			CrashProbability: s.config.CrashProbMin +
				master.Float64()*(s.config.CrashProbMax-s.config.CrashProbMin),
			BaseVolatility: s.config.BaseVolMin +
				master.Float64()*(s.config.BaseVolMax-s.config.BaseVolMin),
			Seed: master.Int63(),
		}
	}
	return params
}

// GeneratePricePath simulates one path with volatility clustering and
// random crash events. Volatility decays toward its base level; a crash
// day draws its return from the severity range and doubles volatility.
// Prices are floored at 0.01.
func (s *Simulator) GeneratePricePath(rng *rand.Rand, params PathParams) []float64 {
	prices := make([]float64, 0, s.config.SimulationDays+1)
	prices = append(prices, s.config.InitialPrice)

	vol := params.BaseVolatility

	for day := 0; day < s.config.SimulationDays; day++ {
		vol = 0.9*vol + 0.1*params.BaseVolatility +
			0.05*math.Abs(rng.NormFloat64()*params.BaseVolatility)

		var ret float64
		if rng.Float64() < params.CrashProbability {
			ret = s.config.CrashSeverityMin +
				rng.Float64()*(s.config.CrashSeverityMax-s.config.CrashSeverityMin)
			vol *= 2
		} else {
			ret = s.config.BaseReturn + rng.NormFloat64()*vol
		}

		prices = append(prices, math.Max(prices[len(prices)-1]*(1+ret), 0.01))
	}

	return prices
}

// EvaluatePath applies the crash-exit policy to a price path and measures
// the outcome. With crashDetection off it measures the raw path, which is
// the buy-and-hold benchmark.
//
// The policy exits when the rolling 5-day return falls below -10%, acting
// with a one-day delay, and scales exposure down by inverse volatility
// when the 10-day realized vol runs above the path average. Days without
// enough history stay fully invested.
func (s *Simulator) EvaluatePath(prices []float64, crashDetection bool) PathMetrics {
	returns := backtester.Returns(prices)
	if len(returns) == 0 {
		return PathMetrics{}
	}

	strategyReturns := returns
	if crashDetection {
		strategyReturns = s.policyReturns(returns)
	}

	equity := make([]float64, len(strategyReturns)+1)
	equity[0] = 1
	for i, r := range strategyReturns {
		equity[i+1] = equity[i] * (1 + r)
	}

	dd := backtester.Drawdown(equity)

	return PathMetrics{
		TotalReturn: equity[len(equity)-1] - 1,
		MaxDrawdown: dd.MaxDrawdown,
		Sharpe:      metrics.Sharpe(strategyReturns, 0),
		Volatility:  metrics.AnnualizedVolatility(strategyReturns),
		WinRate:     metrics.WinRate(strategyReturns),
	}
}

func (s *Simulator) policyReturns(returns []float64) []float64 {
	n := len(returns)

	// Rolling 10-day sample std of returns, and its path-wide mean.
	rollingVol := make([]float64, n)
	for i := range rollingVol {
		rollingVol[i] = math.NaN()
		if i >= 9 {
			rollingVol[i] = stat.StdDev(returns[i-9:i+1], nil)
		}
	}
	avgVol := 0.0
	valid := 0
	for _, v := range rollingVol {
		if !math.IsNaN(v) {
			avgVol += v
			valid++
		}
	}
	if valid > 0 {
		avgVol /= float64(valid)
	}

	// Prefix sums make every 5-day window O(1).
	prefix := make([]float64, n+1)
	for i, r := range returns {
		prefix[i+1] = prefix[i] + r
	}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		// Exit signal from yesterday's full 5-day window, acting one day
		// late; warmup stays invested.
		inMarket := 1.0
		if i >= 5 {
			prevWindow := prefix[i] - prefix[i-5]
			if prevWindow <= -0.10 {
				inMarket = 0
			}
		}

		volAdj := 1.0
		if i >= 9 && avgVol > 0 && rollingVol[i] > 0 {
			volAdj = math.Min(1.0, avgVol/rollingVol[i])
		}

		out[i] = returns[i] * inMarket * volAdj
	}

	return out
}

// Run executes the full simulation and aggregates the distribution of
// outcomes. Paths are evaluated on the worker pool when one is attached.
func (s *Simulator) Run() Results {
	params := s.drawParams()
	pathMetrics := s.evaluateAll(params, true)

	returns := make([]float64, len(pathMetrics))
	drawdowns := make([]float64, len(pathMetrics))
	sharpes := make([]float64, len(pathMetrics))
	for i, m := range pathMetrics {
		returns[i] = m.TotalReturn
		drawdowns[i] = m.MaxDrawdown
		sharpes[i] = m.Sharpe
	}

	results := s.aggregate(returns, drawdowns)
	results.MedianSharpe = percentile(sharpes, 0.50)
	results.AllSharpes = sharpes

	if s.logger != nil {
		s.logger.Info("monte carlo run complete",
			zap.Int("simulations", results.NumSimulations),
			zap.Float64("survivalRate", results.SurvivalRate),
			zap.Float64("medianReturn", results.MedianReturn),
		)
	}

	return results
}

// CompareWithBenchmark evaluates the policy and buy-and-hold on the same
// set of paths, so the comparison isolates the policy's effect.
func (s *Simulator) CompareWithBenchmark() (strategy, benchmark Results) {
	params := s.drawParams()

	strategyMetrics := s.evaluateAll(params, true)
	benchmarkMetrics := s.evaluateAll(params, false)

	extract := func(ms []PathMetrics) ([]float64, []float64) {
		rets := make([]float64, len(ms))
		dds := make([]float64, len(ms))
		for i, m := range ms {
			rets[i] = m.TotalReturn
			dds[i] = m.MaxDrawdown
		}
		return rets, dds
	}

	sRets, sDDs := extract(strategyMetrics)
	bRets, bDDs := extract(benchmarkMetrics)

	strategy = s.aggregate(sRets, sDDs)
	benchmark = s.aggregate(bRets, bDDs)

	if s.logger != nil {
		s.logger.Info("monte carlo benchmark comparison complete",
			zap.Float64("strategySurvival", strategy.SurvivalRate),
			zap.Float64("benchmarkSurvival", benchmark.SurvivalRate),
		)
	}

	return strategy, benchmark
}

// evaluateAll fans path evaluation out to the pool, falling back to
// inline execution when the pool is absent or saturated. Each path
// builds its own RNG from its sub-seed, so ordering does not matter.
func (s *Simulator) evaluateAll(params []PathParams, crashDetection bool) []PathMetrics {
	out := make([]PathMetrics, len(params))

	evaluate := func(i int) {
		rng := rand.New(rand.NewSource(params[i].Seed))
		prices := s.GeneratePricePath(rng, params[i])
		out[i] = s.EvaluatePath(prices, crashDetection)
	}

	if s.pool == nil || !s.pool.IsRunning() {
		for i := range params {
			evaluate(i)
		}
		return out
	}

	var wg sync.WaitGroup
	for i := range params {
		i := i
		wg.Add(1)
		err := s.pool.SubmitFunc(func() error {
			defer wg.Done()
			evaluate(i)
			return nil
		})
		if err != nil {
			evaluate(i)
			wg.Done()
		}
	}
	wg.Wait()

	return out
}

func (s *Simulator) aggregate(returns, drawdowns []float64) Results {
	survived := 0
	for _, dd := range drawdowns {
		if dd < s.config.DrawdownThreshold {
			survived++
		}
	}
	survivalRate := 0.0
	if len(drawdowns) > 0 {
		survivalRate = float64(survived) / float64(len(drawdowns)) * 100
	}

	return Results{
		NumSimulations:  len(returns),
		SurvivalRate:    survivalRate,
		MedianReturn:    percentile(returns, 0.50) * 100,
		MeanReturn:      stat.Mean(returns, nil) * 100,
		Return5thPct:    percentile(returns, 0.05) * 100,
		Return95thPct:   percentile(returns, 0.95) * 100,
		MedianDrawdown:  percentile(drawdowns, 0.50) * 100,
		Drawdown5thPct:  percentile(drawdowns, 0.05) * 100,
		Drawdown95thPct: percentile(drawdowns, 0.95) * 100,
		AllReturns:      returns,
		AllDrawdowns:    drawdowns,
	}
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}
