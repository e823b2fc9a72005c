// Package backtester replays strategy signals against historical prices
// with an exact decimal cash-and-holdings ledger.
//
// Money is tracked with decimal arithmetic so the accounting identity
// (portfolio value equals cash plus holdings value) holds to the cent over
// arbitrarily long runs. Signals and statistics stay in float64.
package backtester

import (
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfold/crashsim/pkg/types"
)

// Config holds execution-cost and capital parameters.
type Config struct {
	InitialCapital decimal.Decimal
	SlippagePct    decimal.Decimal // applied per trade as a cost fraction
	CommissionPct  decimal.Decimal // applied per trade as a cost fraction
}

// DefaultConfig returns the standard backtest parameters: $100k capital,
// 10 bps slippage, zero commission.
func DefaultConfig() *Config {
	return &Config{
		InitialCapital: decimal.NewFromInt(100000),
		SlippagePct:    decimal.NewFromFloat(0.001),
		CommissionPct:  decimal.Zero,
	}
}

// Backtester replays signal sequences into daily ledger points.
type Backtester struct {
	logger *zap.Logger
	config *Config
}

// New creates a backtester.
func New(logger *zap.Logger, config *Config) *Backtester {
	if config == nil {
		config = DefaultConfig()
	}
	return &Backtester{logger: logger, config: config}
}

// tradeCost returns the combined slippage and commission cost on a traded
// notional amount.
func (b *Backtester) tradeCost(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(b.config.SlippagePct.Add(b.config.CommissionPct))
}

// Run replays aligned feature and signal sequences. Trades happen only on
// signal transitions: cash-to-long invests cash times position size, net
// of costs; long-to-cash liquidates everything, proceeds net of costs.
// Days with an unchanged signal are pure mark-to-market, no trade and no
// cost.
//
// NaN and non-positive prices are untradable: the day is recorded with
// holdings unvalued, and a pending transition executes at the next
// tradable price. Cash can never go negative.
func (b *Backtester) Run(rows []types.FeatureRow, signals []types.SignalPoint) []types.LedgerPoint {
	n := len(rows)
	if len(signals) < n {
		n = len(signals)
	}

	cash := b.config.InitialCapital
	holdings := decimal.Zero
	prev := 0

	out := make([]types.LedgerPoint, 0, n)

	for i := 0; i < n; i++ {
		row := rows[i]
		sig := signals[i]

		tradable := !math.IsNaN(row.Price) && row.Price > 0
		price := decimal.Zero
		if tradable {
			price = decimal.NewFromFloat(row.Price)
		}

		point := types.LedgerPoint{
			Date:         row.Date,
			Price:        price,
			Signal:       sig.Signal,
			PositionSize: sig.PositionSize,
			TradeCost:    decimal.Zero,
		}

		if tradable {
			switch {
			case prev == 0 && sig.Signal == 1:
				// Entry: invest the sized fraction of cash, costs come
				// out of the invested amount.
				spend := cash.Mul(decimal.NewFromFloat(sig.PositionSize))
				if spend.GreaterThan(cash) {
					spend = cash
				}
				if spend.IsPositive() {
					cost := b.tradeCost(spend)
					holdings = holdings.Add(spend.Sub(cost).Div(price))
					cash = cash.Sub(spend)
					point.TradeType = types.TradeBuy
					point.TradeCost = cost
				}

			case prev == 1 && sig.Signal == 0:
				// Exit: liquidate everything, proceeds net of costs.
				if holdings.IsPositive() {
					notional := holdings.Mul(price)
					cost := b.tradeCost(notional)
					cash = cash.Add(notional.Sub(cost))
					holdings = decimal.Zero
					point.TradeType = types.TradeSell
					point.TradeCost = cost
				}
			}
			prev = sig.Signal
		}

		point.Cash = cash
		point.Holdings = holdings
		point.HoldingsValue = holdings.Mul(price)
		point.PortfolioValue = cash.Add(point.HoldingsValue)

		out = append(out, point)
	}

	if b.logger != nil && len(out) > 0 {
		b.logger.Info("backtest complete",
			zap.Int("days", len(out)),
			zap.String("finalValue", out[len(out)-1].PortfolioValue.StringFixed(2)),
		)
	}

	return out
}

// BuyAndHold builds the passive benchmark ledger: the full capital buys on
// the first positive price, paying slippage once, and the position is held
// to the end.
func (b *Backtester) BuyAndHold(rows []types.FeatureRow) []types.LedgerPoint {
	out := make([]types.LedgerPoint, 0, len(rows))

	holdings := decimal.Zero
	bought := false

	for _, row := range rows {
		price := decimal.Zero
		if !math.IsNaN(row.Price) && row.Price > 0 {
			price = decimal.NewFromFloat(row.Price)
		}

		point := types.LedgerPoint{
			Date:      row.Date,
			Price:     price,
			Signal:    1,
			TradeCost: decimal.Zero,
		}

		if !bought && price.IsPositive() {
			invested := b.config.InitialCapital.Mul(decimal.NewFromInt(1).Sub(b.config.SlippagePct))
			holdings = invested.Div(price)
			bought = true
			point.TradeType = types.TradeBuy
			point.PositionSize = 1
		}

		point.Cash = decimal.Zero
		point.Holdings = holdings
		if price.IsPositive() {
			point.HoldingsValue = holdings.Mul(price)
		}
		point.PortfolioValue = point.HoldingsValue

		out = append(out, point)
	}

	return out
}

// EquityCurve extracts the portfolio value series as float64 for the
// statistics layer.
func EquityCurve(ledger []types.LedgerPoint) []float64 {
	out := make([]float64, len(ledger))
	for i, p := range ledger {
		out[i], _ = p.PortfolioValue.Float64()
	}
	return out
}

// Returns computes daily simple returns from an equity curve. Days with a
// non-positive previous value yield zero.
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] > 0 {
			out[i-1] = equity[i]/equity[i-1] - 1
		}
	}
	return out
}
