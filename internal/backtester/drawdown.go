package backtester

// DrawdownReport summarizes peak-to-trough behavior of an equity curve.
type DrawdownReport struct {
	Series      []float64 `json:"series"`      // drawdown fraction per day, >= 0
	MaxDrawdown float64   `json:"maxDrawdown"` // worst drawdown as a positive fraction
	TroughIndex int       `json:"troughIndex"`
	Recovered   bool      `json:"recovered"` // equity regained the pre-trough peak
}

// Drawdown computes the running drawdown of an equity curve. Drawdowns are
// reported as positive fractions (0.25 means 25% below the running peak).
func Drawdown(equity []float64) DrawdownReport {
	report := DrawdownReport{Series: make([]float64, len(equity))}
	if len(equity) == 0 {
		return report
	}

	peak := equity[0]
	peakAtTrough := equity[0]

	for i, v := range equity {
		if v > peak {
			peak = v
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - v) / peak
		}
		report.Series[i] = dd
		if dd > report.MaxDrawdown {
			report.MaxDrawdown = dd
			report.TroughIndex = i
			peakAtTrough = peak
		}
	}

	for i := report.TroughIndex + 1; i < len(equity); i++ {
		if equity[i] >= peakAtTrough {
			report.Recovered = true
			break
		}
	}

	return report
}
