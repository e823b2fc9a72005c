package backtester

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfold/crashsim/pkg/types"
)

// RunPortfolio replays a multi-asset weight schedule against aligned price
// rows. Each day the ledger compares actual weights to targets and
// rebalances any asset drifted beyond the threshold.
//
// Rebalancing is two-pass: all sells execute first so their proceeds fund
// the buys, then buys execute in asset order, each capped at remaining
// cash. Cash can never go negative.
func (b *Backtester) RunPortfolio(
	prices []types.PriceRow,
	weights []types.WeightPoint,
	rebalanceThreshold float64,
) []types.PortfolioLedgerPoint {
	n := len(prices)
	if len(weights) < n {
		n = len(weights)
	}

	threshold := decimal.NewFromFloat(rebalanceThreshold)
	cash := b.config.InitialCapital
	holdings := map[string]decimal.Decimal{}

	out := make([]types.PortfolioLedgerPoint, 0, n)

	for i := 0; i < n; i++ {
		priceRow := prices[i]
		targets := weights[i].Weights

		assets := make([]string, 0, len(targets))
		for asset := range targets {
			assets = append(assets, asset)
		}
		sort.Strings(assets)

		// Value everything priced today, whether or not it has a target.
		value := cash
		priceOf := map[string]decimal.Decimal{}
		for asset, p := range priceRow.Prices {
			if math.IsNaN(p) || p <= 0 {
				continue
			}
			price := decimal.NewFromFloat(p)
			priceOf[asset] = price
			value = value.Add(holdings[asset].Mul(price))
		}

		trades := 0
		dayCost := decimal.Zero

		if value.IsPositive() {
			type order struct {
				asset    string
				notional decimal.Decimal // positive for buy, negative for sell
			}
			var sells, buys []order

			for _, asset := range assets {
				price, ok := priceOf[asset]
				if !ok {
					continue
				}
				current := holdings[asset].Mul(price)
				target := value.Mul(decimal.NewFromFloat(targets[asset]))
				drift := target.Sub(current).Div(value).Abs()
				if drift.LessThan(threshold) {
					continue
				}
				diff := target.Sub(current)
				if diff.IsNegative() {
					sells = append(sells, order{asset, diff})
				} else if diff.IsPositive() {
					buys = append(buys, order{asset, diff})
				}
			}

			for _, o := range sells {
				price := priceOf[o.asset]
				notional := o.notional.Neg()
				cost := b.tradeCost(notional)
				holdings[o.asset] = holdings[o.asset].Sub(notional.Div(price))
				cash = cash.Add(notional.Sub(cost))
				trades++
				dayCost = dayCost.Add(cost)
			}

			for _, o := range buys {
				price := priceOf[o.asset]
				spend := o.notional
				if spend.GreaterThan(cash) {
					spend = cash
				}
				if !spend.IsPositive() {
					continue
				}
				cost := b.tradeCost(spend)
				holdings[o.asset] = holdings[o.asset].Add(spend.Sub(cost).Div(price))
				cash = cash.Sub(spend)
				trades++
				dayCost = dayCost.Add(cost)
			}
		}

		point := types.PortfolioLedgerPoint{
			Date:      priceRow.Date,
			Cash:      cash,
			Holdings:  map[string]decimal.Decimal{},
			Trades:    trades,
			TradeCost: dayCost,
		}
		pv := cash
		for asset, qty := range holdings {
			point.Holdings[asset] = qty
			if price, ok := priceOf[asset]; ok {
				pv = pv.Add(qty.Mul(price))
			}
		}
		point.PortfolioValue = pv

		out = append(out, point)
	}

	if b.logger != nil && len(out) > 0 {
		b.logger.Info("portfolio backtest complete",
			zap.Int("days", len(out)),
			zap.String("finalValue", out[len(out)-1].PortfolioValue.StringFixed(2)),
		)
	}

	return out
}

// PortfolioEquityCurve extracts the portfolio value series as float64.
func PortfolioEquityCurve(ledger []types.PortfolioLedgerPoint) []float64 {
	out := make([]float64, len(ledger))
	for i, p := range ledger {
		out[i], _ = p.PortfolioValue.Float64()
	}
	return out
}
