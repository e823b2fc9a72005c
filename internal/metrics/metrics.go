// Package metrics computes performance and risk statistics over daily
// return and equity series.
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// tradingDays is the annualization base.
const tradingDays = 252.0

// Report bundles the statistics for one equity curve.
type Report struct {
	TotalReturn      float64 `json:"totalReturn"`
	AnnualizedReturn float64 `json:"annualizedReturn"`
	Volatility       float64 `json:"volatility"` // annualized
	Sharpe           float64 `json:"sharpe"`
	Sortino          float64 `json:"sortino"`
	Calmar           float64 `json:"calmar"`
	CrashSafetyIndex float64 `json:"crashSafetyIndex"`
	MaxDrawdown      float64 `json:"maxDrawdown"`
	VaR95            float64 `json:"var95"`
	CVaR95           float64 `json:"cvar95"`
	WinRate          float64 `json:"winRate"`
	Days             int     `json:"days"`
}

// dailyRiskFree converts an annual risk-free rate to its daily equivalent
// by geometric de-compounding.
func dailyRiskFree(annual float64) float64 {
	return math.Pow(1+annual, 1/tradingDays) - 1
}

// Sharpe is the annualized excess return over return volatility. Zero
// volatility yields zero.
func Sharpe(returns []float64, riskFree float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	rf := dailyRiskFree(riskFree)
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - rf
	}
	mean := stat.Mean(excess, nil)
	sd := stat.StdDev(excess, nil)
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return mean / sd * math.Sqrt(tradingDays)
}

// Sortino is the annualized excess return over downside deviation. With no
// losing days the ratio is zero rather than infinite.
func Sortino(returns []float64, riskFree float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	rf := dailyRiskFree(riskFree)
	mean := 0.0
	downside := 0.0
	for _, r := range returns {
		e := r - rf
		mean += e
		if e < 0 {
			downside += e * e
		}
	}
	mean /= float64(len(returns))
	dd := math.Sqrt(downside / float64(len(returns)))
	if dd == 0 {
		return 0
	}
	return mean / dd * math.Sqrt(tradingDays)
}

// Calmar is annualized return over maximum drawdown.
func Calmar(annualizedReturn, maxDrawdown float64) float64 {
	if maxDrawdown == 0 {
		return 0
	}
	return annualizedReturn / maxDrawdown
}

// CrashSafetyIndex is excess total return per unit of maximum drawdown.
// A run with zero drawdown is unboundedly safe and reports +Inf.
func CrashSafetyIndex(totalReturn, riskFree, maxDrawdown float64) float64 {
	if maxDrawdown == 0 {
		return math.Inf(1)
	}
	return (totalReturn - riskFree) / maxDrawdown
}

// VaR returns the historical value-at-risk at the given confidence, as a
// positive loss fraction (VaR(0.95) is the 5th percentile loss).
func VaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	q := stat.Quantile(1-confidence, stat.Empirical, sorted, nil)
	if q >= 0 {
		return 0
	}
	return -q
}

// CVaR returns the expected shortfall beyond the VaR threshold, as a
// positive loss fraction.
func CVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	threshold := -VaR(returns, confidence)
	sum := 0.0
	count := 0
	for _, r := range returns {
		if r <= threshold {
			sum += r
			count++
		}
	}
	if count == 0 || sum >= 0 {
		return 0
	}
	return -sum / float64(count)
}

// AnnualizedVolatility scales the daily standard deviation to a yearly
// figure.
func AnnualizedVolatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := stat.StdDev(returns, nil)
	if math.IsNaN(sd) {
		return 0
	}
	return sd * math.Sqrt(tradingDays)
}

// WinRate is the fraction of strictly positive daily returns.
func WinRate(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns))
}

// Compute builds the full report from an equity curve, its daily returns,
// and the drawdown already measured on the curve.
func Compute(equity, returns []float64, maxDrawdown, riskFree float64) Report {
	report := Report{
		MaxDrawdown: maxDrawdown,
		Days:        len(equity),
	}
	if len(equity) < 2 || equity[0] <= 0 {
		return report
	}

	report.TotalReturn = equity[len(equity)-1]/equity[0] - 1
	years := float64(len(equity)) / tradingDays
	if years > 0 && 1+report.TotalReturn > 0 {
		report.AnnualizedReturn = math.Pow(1+report.TotalReturn, 1/years) - 1
	}

	report.Volatility = AnnualizedVolatility(returns)
	report.Sharpe = Sharpe(returns, riskFree)
	report.Sortino = Sortino(returns, riskFree)
	report.Calmar = Calmar(report.AnnualizedReturn, maxDrawdown)
	report.CrashSafetyIndex = CrashSafetyIndex(report.TotalReturn, riskFree, maxDrawdown)
	report.VaR95 = VaR(returns, 0.95)
	report.CVaR95 = CVaR(returns, 0.95)
	report.WinRate = WinRate(returns)

	return report
}
