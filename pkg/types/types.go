// Package types provides shared type definitions for the simulation core.
package types

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// FeatureRow is one trading day's precomputed indicator vector. Rows are
// produced externally (see internal/features), ordered by date, one row per
// day. Missing optional fields are NaN; every consumer treats NaN as a
// neutral default and never fails on it.
type FeatureRow struct {
	Date          time.Time `json:"date"`
	Price         float64   `json:"price"`
	Returns       float64   `json:"returns"`
	Duvol         float64   `json:"duvol"`
	Ncskew        float64   `json:"ncskew"`
	Volatility10d float64   `json:"volatility10d"`
	Volatility30d float64   `json:"volatility30d"`
	NasdaqReturns float64   `json:"nasdaqReturns"`
	RSI           float64   `json:"rsi"`
	MAFast        float64   `json:"maFast"`
	MASlow        float64   `json:"maSlow"`
	CanarySignal  float64   `json:"canarySignal"`
}

// NewFeatureRow returns a row with every field set to NaN (missing).
func NewFeatureRow(date time.Time) FeatureRow {
	nan := math.NaN()
	return FeatureRow{
		Date:          date,
		Price:         nan,
		Returns:       nan,
		Duvol:         nan,
		Ncskew:        nan,
		Volatility10d: nan,
		Volatility30d: nan,
		NasdaqReturns: nan,
		RSI:           nan,
		MAFast:        nan,
		MASlow:        nan,
		CanarySignal:  nan,
	}
}

// Position represents the strategy's single-asset stance.
type Position string

const (
	PositionLong Position = "LONG"
	PositionCash Position = "CASH"
)

// SignalPoint is one day of strategy output in single-asset mode.
type SignalPoint struct {
	Date         time.Time `json:"date"`
	Signal       int       `json:"signal"` // 1 = long, 0 = cash
	Position     Position  `json:"position"`
	PositionSize float64   `json:"positionSize"` // 0..1 fraction of capital
	EntryPrice   float64   `json:"entryPrice"`   // 0 when flat
}

// WeightPoint is one day of strategy output in portfolio mode: target weight
// per asset, residual implicitly cash.
type WeightPoint struct {
	Date    time.Time          `json:"date"`
	Weights map[string]float64 `json:"weights"`
}

// TradeType labels the ledger action taken on a day.
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// LedgerPoint is one day of single-asset portfolio state. Money is decimal
// so the accounting identity PortfolioValue = Cash + Holdings*Price holds
// exactly, not within float error.
type LedgerPoint struct {
	Date           time.Time       `json:"date"`
	Price          decimal.Decimal `json:"price"`
	Signal         int             `json:"signal"`
	PositionSize   float64         `json:"positionSize"`
	Cash           decimal.Decimal `json:"cash"`
	Holdings       decimal.Decimal `json:"holdings"` // units held
	HoldingsValue  decimal.Decimal `json:"holdingsValue"`
	PortfolioValue decimal.Decimal `json:"portfolioValue"`
	TradeType      TradeType       `json:"tradeType,omitempty"`
	TradeCost      decimal.Decimal `json:"tradeCost"`
}

// PortfolioLedgerPoint is one day of multi-asset portfolio state.
type PortfolioLedgerPoint struct {
	Date           time.Time                  `json:"date"`
	Cash           decimal.Decimal            `json:"cash"`
	Holdings       map[string]decimal.Decimal `json:"holdings"`
	PortfolioValue decimal.Decimal            `json:"portfolioValue"`
	Trades         int                        `json:"trades"`    // legs executed this day
	TradeCost      decimal.Decimal            `json:"tradeCost"` // total cost this day
}

// PriceRow is one day of per-asset closing prices for portfolio simulation.
type PriceRow struct {
	Date   time.Time          `json:"date"`
	Prices map[string]float64 `json:"prices"`
}
