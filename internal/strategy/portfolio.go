package strategy

import (
	"sort"

	"go.uber.org/zap"

	"github.com/quantfold/crashsim/internal/regime"
	"github.com/quantfold/crashsim/pkg/types"
)

// assetState tracks per-asset position context across days.
type assetState struct {
	position   types.Position
	entryPrice float64
}

// RunPortfolio runs the strategy across multiple assets simultaneously and
// emits one weight vector per day. Feature series must be aligned 1:1 by
// index across assets; regimes are shared (market-level, not per-asset).
//
// The weight for a long asset is its strategic allocation scaled by the
// inverse-volatility position size. A crash or recovery day zeroes every
// weight and clears all entry-price state, so re-entries after the regime
// clears record fresh entry prices.
func (s *Strategy) RunPortfolio(
	featuresByAsset map[string][]types.FeatureRow,
	labels []regime.Regime,
	allocations map[string]float64,
) []types.WeightPoint {
	assets := make([]string, 0, len(featuresByAsset))
	for asset := range featuresByAsset {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	days := -1
	for _, asset := range assets {
		if n := len(featuresByAsset[asset]); days < 0 || n < days {
			days = n
		}
	}
	if days <= 0 {
		return nil
	}

	states := make(map[string]*assetState, len(assets))
	for _, asset := range assets {
		states[asset] = &assetState{position: types.PositionCash}
	}

	out := make([]types.WeightPoint, 0, days)

	for i := 0; i < days; i++ {
		label := regime.RegimeNormal
		if i < len(labels) {
			label = labels[i]
		}

		weights := make(map[string]float64, len(assets))
		date := featuresByAsset[assets[0]][i].Date

		if label == regime.RegimeCrash || label == regime.RegimeRecovery {
			for _, asset := range assets {
				weights[asset] = 0
				states[asset].position = types.PositionCash
				states[asset].entryPrice = 0
			}
			out = append(out, types.WeightPoint{Date: date, Weights: weights})
			continue
		}

		for _, asset := range assets {
			row := featuresByAsset[asset][i]
			st := states[asset]

			next, size := s.Evaluate(row, label, st.position, st.entryPrice)

			if next == types.PositionLong && st.position == types.PositionCash {
				st.entryPrice = row.Price
			} else if next == types.PositionCash {
				st.entryPrice = 0
			}
			st.position = next

			if next == types.PositionLong {
				weights[asset] = allocations[asset] * size
			} else {
				weights[asset] = 0
			}
		}

		out = append(out, types.WeightPoint{Date: date, Weights: weights})
	}

	if s.logger != nil {
		s.logger.Debug("portfolio strategy run complete",
			zap.Int("assets", len(assets)),
			zap.Int("days", len(out)),
		)
	}

	return out
}
