package regime_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantfold/crashsim/internal/regime"
	"github.com/quantfold/crashsim/pkg/types"
)

func row(duvol, nasdaqRet, canary, vol10, vol30 float64) types.FeatureRow {
	r := types.NewFeatureRow(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	r.Duvol = duvol
	r.NasdaqReturns = nasdaqRet
	r.CanarySignal = canary
	r.Volatility10d = vol10
	r.Volatility30d = vol30
	return r
}

func TestIsCrash(t *testing.T) {
	d := regime.NewDetector(zap.NewNop(), nil)

	assert.True(t, d.IsCrash(0.6, 0, 0), "high DUVOL triggers crash")
	assert.True(t, d.IsCrash(0, -0.04, 0), "NASDAQ drop triggers crash")
	assert.True(t, d.IsCrash(0, 0, 1), "canary triggers crash")
	assert.False(t, d.IsCrash(0.4, -0.02, 0))
	assert.False(t, d.IsCrash(math.NaN(), 0, 0), "NaN DUVOL defaults to 0")
}

func TestRecoveryComplete(t *testing.T) {
	d := regime.NewDetector(zap.NewNop(), nil)

	assert.True(t, d.RecoveryComplete(0.02, 0.03))
	assert.False(t, d.RecoveryComplete(0.04, 0.03))
	assert.False(t, d.RecoveryComplete(math.NaN(), 0.03))
	assert.False(t, d.RecoveryComplete(0.02, math.NaN()))
	assert.False(t, d.RecoveryComplete(0.02, 0), "zero 30d vol is not recovered")
}

func TestStepTransitions(t *testing.T) {
	d := regime.NewDetector(zap.NewNop(), nil)

	calm := row(0, 0, 0, 0.03, 0.02)      // no crash, vol still elevated
	calmDone := row(0, 0, 0, 0.01, 0.02)  // no crash, vol reverted
	crashing := row(0.9, 0, 0, 0.05, 0.02)

	// normal stays normal on a calm day
	assert.Equal(t, regime.RegimeNormal, d.Step(regime.RegimeNormal, calm))

	// normal -> crash on a crash day
	assert.Equal(t, regime.RegimeCrash, d.Step(regime.RegimeNormal, crashing))

	// crash -> recovery regardless of the next day's own signals
	assert.Equal(t, regime.RegimeRecovery, d.Step(regime.RegimeCrash, calmDone))
	assert.Equal(t, regime.RegimeRecovery, d.Step(regime.RegimeCrash, crashing))

	// recovery -> crash while conditions persist
	assert.Equal(t, regime.RegimeCrash, d.Step(regime.RegimeRecovery, crashing))

	// recovery holds until volatility reverts
	assert.Equal(t, regime.RegimeRecovery, d.Step(regime.RegimeRecovery, calm))
	assert.Equal(t, regime.RegimeNormal, d.Step(regime.RegimeRecovery, calmDone))
}

func TestDetectSeries(t *testing.T) {
	d := regime.NewDetector(zap.NewNop(), nil)

	rows := []types.FeatureRow{
		row(0, 0, 0, 0.03, 0.02),   // normal
		row(0.9, 0, 0, 0.05, 0.02), // crash fires
		row(0, 0, 0, 0.05, 0.02),   // mandatory recovery day
		row(0, 0, 0, 0.03, 0.02),   // vol still high -> recovery
		row(0, 0, 0, 0.01, 0.02),   // reverted -> normal
	}

	labels := d.DetectSeries(rows)
	require.Len(t, labels, len(rows))

	want := []regime.Regime{
		regime.RegimeNormal,
		regime.RegimeCrash,
		regime.RegimeRecovery,
		regime.RegimeRecovery,
		regime.RegimeNormal,
	}
	assert.Equal(t, want, labels)
}

func TestDetectSeriesSparseRowsNeverPanic(t *testing.T) {
	d := regime.NewDetector(zap.NewNop(), nil)

	rows := make([]types.FeatureRow, 30)
	for i := range rows {
		rows[i] = types.NewFeatureRow(time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC))
	}

	labels := d.DetectSeries(rows)
	for _, l := range labels {
		assert.Equal(t, regime.RegimeNormal, l, "all-NaN rows bias toward normal")
	}
}
