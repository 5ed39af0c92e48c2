package signals

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sftrader/internal/domain"
)

func constantReturns(n int, r float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = r
	}
	return out
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"momentum", "reversal", "beta", " Momentum "} {
		s, err := Lookup(name)
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}

	_, err := Lookup("value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beta, momentum, reversal")
}

func TestMaxLookback(t *testing.T) {
	assert.Equal(t, 252, MaxLookback([]Signal{DefaultMomentum(), DefaultReversal(), Beta{}}))
	assert.Equal(t, 22, MaxLookback([]Signal{DefaultReversal(), Beta{}}))
	assert.Equal(t, 0, MaxLookback(nil))
}

func TestMomentum_SkipsMostRecentMonth(t *testing.T) {
	m := Momentum{Window: 3, Skip: 2}
	returns := []float64{0.01, 0.02, 0.03, 0.04, 0.05, 0.06}

	out := m.Evaluate(History{Returns: returns})
	require.Len(t, out, 6)

	for i := 0; i < 4; i++ {
		assert.True(t, math.IsNaN(out[i]), "index %d should be missing", i)
	}
	want4 := math.Log1p(0.01) + math.Log1p(0.02) + math.Log1p(0.03)
	want5 := math.Log1p(0.02) + math.Log1p(0.03) + math.Log1p(0.04)
	assert.InDelta(t, want4, out[4], 1e-12)
	assert.InDelta(t, want5, out[5], 1e-12)
}

func TestMomentum_DefaultNeedsFullHistory(t *testing.T) {
	m := DefaultMomentum()

	short := m.Evaluate(History{Returns: constantReturns(251, 0.001)})
	assert.True(t, math.IsNaN(short[250]), "251 observations are not enough")

	full := m.Evaluate(History{Returns: constantReturns(252, 0.001)})
	assert.InDelta(t, 230*math.Log1p(0.001), full[251], 1e-9)
}

func TestReversal_IsNegatedRecentSum(t *testing.T) {
	r := Reversal{Window: 2}
	out := r.Evaluate(History{Returns: []float64{0.1, -0.05, 0.02}})

	assert.True(t, math.IsNaN(out[0]))
	assert.InDelta(t, -(math.Log1p(0.1) + math.Log1p(-0.05)), out[1], 1e-12)
	assert.InDelta(t, -(math.Log1p(-0.05) + math.Log1p(0.02)), out[2], 1e-12)
}

func TestBeta_IsNegatedPredictedBeta(t *testing.T) {
	out := Beta{}.Evaluate(History{PredictedBeta: []float64{1.2, math.NaN()}})
	assert.Equal(t, -1.2, out[0])
	assert.True(t, math.IsNaN(out[1]))
	assert.Equal(t, []domain.Column{domain.ColumnPredictedBeta}, Beta{}.Requires())
}

func TestRollingSum_NonFiniteInputOnlyAffectsItsWindows(t *testing.T) {
	out := rollingSum([]float64{1, math.NaN(), 1, 1, 1}, 2)

	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.True(t, math.IsNaN(out[2]))
	assert.Equal(t, 2.0, out[3])
	assert.Equal(t, 2.0, out[4])
}

func TestRollingSum_ShortSeries(t *testing.T) {
	out := rollingSum([]float64{1, 2}, 5)
	require.Len(t, out, 2)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
}
