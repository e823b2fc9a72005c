package backtester

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfold/crashsim/pkg/types"
)

func day(i int) time.Time {
	return time.Date(2024, 1, 2+i, 0, 0, 0, 0, time.UTC)
}

func priceSeries(prices []float64) []types.FeatureRow {
	rows := make([]types.FeatureRow, len(prices))
	for i, p := range prices {
		rows[i] = types.NewFeatureRow(day(i))
		rows[i].Price = p
	}
	return rows
}

func signalSeries(signals []int, size float64) []types.SignalPoint {
	out := make([]types.SignalPoint, len(signals))
	for i, s := range signals {
		out[i] = types.SignalPoint{Date: day(i), Signal: s, PositionSize: size}
		if s == 1 {
			out[i].Position = types.PositionLong
		} else {
			out[i].Position = types.PositionCash
		}
	}
	return out
}

func TestRunAccountingIdentity(t *testing.T) {
	b := New(zap.NewNop(), nil)

	rows := priceSeries([]float64{100, 102, 99, 104, 101, 97, 105})
	signals := signalSeries([]int{1, 1, 0, 1, 1, 0, 1}, 0.8)

	ledger := b.Run(rows, signals)
	if len(ledger) != len(rows) {
		t.Fatalf("ledger length = %d, want %d", len(ledger), len(rows))
	}

	for i, p := range ledger {
		want := p.Cash.Add(p.HoldingsValue)
		if !p.PortfolioValue.Equal(want) {
			t.Errorf("day %d: portfolio value %s != cash %s + holdings %s",
				i, p.PortfolioValue, p.Cash, p.HoldingsValue)
		}
		if p.Cash.IsNegative() {
			t.Errorf("day %d: negative cash %s", i, p.Cash)
		}
	}
}

func TestRunNoSignalsConstantEquity(t *testing.T) {
	b := New(zap.NewNop(), nil)

	rows := priceSeries([]float64{100, 100, 100, 100, 100})
	signals := signalSeries([]int{0, 0, 0, 0, 0}, 0)

	ledger := b.Run(rows, signals)
	want := decimal.NewFromInt(100000)
	for i, p := range ledger {
		if !p.PortfolioValue.Equal(want) {
			t.Errorf("day %d: portfolio value = %s, want %s", i, p.PortfolioValue, want)
		}
		if p.TradeType != "" {
			t.Errorf("day %d: unexpected trade %q", i, p.TradeType)
		}
	}
}

func TestRunCostsReduceValue(t *testing.T) {
	b := New(zap.NewNop(), nil)

	// Flat price: a round trip should lose exactly the trading costs.
	rows := priceSeries([]float64{100, 100, 100})
	signals := signalSeries([]int{1, 0, 0}, 1.0)

	ledger := b.Run(rows, signals)

	if ledger[0].TradeType != types.TradeBuy {
		t.Fatalf("day 0 trade = %q, want BUY", ledger[0].TradeType)
	}
	if ledger[1].TradeType != types.TradeSell {
		t.Fatalf("day 1 trade = %q, want SELL", ledger[1].TradeType)
	}

	final, _ := ledger[2].PortfolioValue.Float64()
	if final >= 100000 {
		t.Errorf("final value %f should be below initial capital after costs", final)
	}
	if final < 99000 {
		t.Errorf("final value %f lost more than plausible round-trip costs", final)
	}
}

func TestRunPositionSizeScalesExposure(t *testing.T) {
	b := New(zap.NewNop(), &Config{
		InitialCapital: decimal.NewFromInt(100000),
		SlippagePct:    decimal.Zero,
		CommissionPct:  decimal.Zero,
	})

	rows := priceSeries([]float64{100, 110})
	half := b.Run(rows, signalSeries([]int{1, 1}, 0.5))
	full := b.Run(rows, signalSeries([]int{1, 1}, 1.0))

	halfFinal, _ := half[1].PortfolioValue.Float64()
	fullFinal, _ := full[1].PortfolioValue.Float64()

	if math.Abs(halfFinal-105000) > 1e-6 {
		t.Errorf("half-size final = %f, want 105000", halfFinal)
	}
	if math.Abs(fullFinal-110000) > 1e-6 {
		t.Errorf("full-size final = %f, want 110000", fullFinal)
	}
}

func TestRunUnchangedSignalNoTrades(t *testing.T) {
	b := New(zap.NewNop(), nil)

	// Held position, fractional size, rising prices, nonzero slippage:
	// only the day-0 entry may trade. Mark-to-market drift must never
	// trigger a rebalance or a cost.
	rows := priceSeries([]float64{100, 110, 121})
	ledger := b.Run(rows, signalSeries([]int{1, 1, 1}, 0.5))

	if ledger[0].TradeType != types.TradeBuy {
		t.Fatalf("day 0 trade = %q, want BUY", ledger[0].TradeType)
	}
	for i := 1; i < len(ledger); i++ {
		if ledger[i].TradeType != "" {
			t.Errorf("day %d: unexpected trade %q", i, ledger[i].TradeType)
		}
		if !ledger[i].TradeCost.IsZero() {
			t.Errorf("day %d: cost %s charged without a trade", i, ledger[i].TradeCost)
		}
	}

	// Entry spends 50000 with 50 cost: 499.5 shares, 50000 cash.
	final, _ := ledger[2].PortfolioValue.Float64()
	if math.Abs(final-110439.5) > 1e-6 {
		t.Errorf("final = %f, want 110439.5", final)
	}
}

func TestRunNaNPriceDays(t *testing.T) {
	b := New(zap.NewNop(), nil)

	rows := priceSeries([]float64{100, math.NaN(), 100})
	ledger := b.Run(rows, signalSeries([]int{1, 0, 0}, 1.0))

	if ledger[1].TradeType != "" {
		t.Errorf("traded on a NaN-price day")
	}
	if !ledger[1].HoldingsValue.IsZero() {
		t.Errorf("holdings valued against a NaN price")
	}
	// The exit raised on the NaN day executes at the next tradable price.
	if ledger[2].TradeType != types.TradeSell {
		t.Errorf("day 2 trade = %q, want SELL", ledger[2].TradeType)
	}

	final, _ := ledger[2].PortfolioValue.Float64()
	if math.Abs(final-99800.1) > 1e-6 {
		t.Errorf("final = %f, want 99800.1", final)
	}
}

func TestRunZeroPriceDaysAreSkipped(t *testing.T) {
	b := New(zap.NewNop(), nil)

	rows := priceSeries([]float64{100, 0, 100})
	signals := signalSeries([]int{1, 1, 1}, 1.0)

	ledger := b.Run(rows, signals)
	if ledger[1].TradeType != "" {
		t.Errorf("traded on a zero-price day")
	}
	if !ledger[1].HoldingsValue.IsZero() {
		t.Errorf("holdings valued against a zero price")
	}
}

func TestBuyAndHold(t *testing.T) {
	b := New(zap.NewNop(), nil)

	rows := priceSeries([]float64{100, 120})
	ledger := b.BuyAndHold(rows)

	// Entire capital invested on day 0 net of slippage only.
	wantShares := decimal.NewFromFloat(99900).Div(decimal.NewFromInt(100))
	if !ledger[0].Holdings.Equal(wantShares) {
		t.Errorf("shares = %s, want %s", ledger[0].Holdings, wantShares)
	}

	final, _ := ledger[1].PortfolioValue.Float64()
	if math.Abs(final-119880) > 1e-6 {
		t.Errorf("final = %f, want 119880", final)
	}
}

func TestBuyAndHoldWaitsForTradablePrice(t *testing.T) {
	b := New(zap.NewNop(), nil)

	rows := priceSeries([]float64{math.NaN(), 100, 120})
	ledger := b.BuyAndHold(rows)

	if ledger[0].TradeType != "" {
		t.Errorf("bought on a NaN-price day")
	}
	if ledger[1].TradeType != types.TradeBuy {
		t.Errorf("day 1 trade = %q, want BUY", ledger[1].TradeType)
	}
}

func TestDrawdown(t *testing.T) {
	report := Drawdown([]float64{100, 90, 80, 50, 60, 80, 100})

	if math.Abs(report.MaxDrawdown-0.5) > 1e-12 {
		t.Errorf("max drawdown = %f, want 0.5", report.MaxDrawdown)
	}
	if report.TroughIndex != 3 {
		t.Errorf("trough index = %d, want 3", report.TroughIndex)
	}
	if !report.Recovered {
		t.Errorf("curve regains the peak, Recovered should be true")
	}

	noRecovery := Drawdown([]float64{100, 80, 90})
	if noRecovery.Recovered {
		t.Errorf("curve never regains the peak, Recovered should be false")
	}

	empty := Drawdown(nil)
	if empty.MaxDrawdown != 0 || len(empty.Series) != 0 {
		t.Errorf("empty curve should produce a zero report")
	}
}

func TestReturns(t *testing.T) {
	rets := Returns([]float64{100, 110, 99})
	if len(rets) != 2 {
		t.Fatalf("len = %d, want 2", len(rets))
	}
	if math.Abs(rets[0]-0.10) > 1e-12 {
		t.Errorf("rets[0] = %f, want 0.10", rets[0])
	}
	if math.Abs(rets[1]+0.10) > 1e-12 {
		t.Errorf("rets[1] = %f, want -0.10", rets[1])
	}
	if Returns([]float64{100}) != nil {
		t.Errorf("single point has no returns")
	}
}
