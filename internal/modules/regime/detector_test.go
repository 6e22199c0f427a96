package regime

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steady(n int, r float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = r
	}
	return out
}

func TestDetector_TooShortSeries(t *testing.T) {
	d := NewDetector(5, 20, 100, zerolog.Nop())
	_, err := d.Assess(steady(10, 0.001))
	assert.Error(t, err)
}

func TestDetector_CalmMarket(t *testing.T) {
	d := NewDetector(5, 20, 100, zerolog.Nop())

	// Gently alternating positive returns: stable volatility, no drawdown.
	series := make([]float64, 40)
	for i := range series {
		series[i] = 0.001
		if i%2 == 0 {
			series[i] = 0.002
		}
	}

	a, err := d.Assess(series)
	require.NoError(t, err)
	assert.Equal(t, RegimeCalm, a.Regime)
	assert.InDelta(t, 0, a.Drawdown, 1e-9)
}

func TestDetector_VolSpikeRaisesStress(t *testing.T) {
	d := NewDetector(5, 20, 100, zerolog.Nop())

	calm := make([]float64, 40)
	for i := range calm {
		calm[i] = 0.001
		if i%2 == 0 {
			calm[i] = -0.001
		}
	}
	calmA, err := d.Assess(calm)
	require.NoError(t, err)

	// Same series but the last five observations swing ten times as hard
	// and the closing stretch loses money.
	spiked := append([]float64(nil), calm...)
	spiked[35] = -0.03
	spiked[36] = 0.02
	spiked[37] = -0.04
	spiked[38] = 0.01
	spiked[39] = -0.05
	spikedA, err := d.Assess(spiked)
	require.NoError(t, err)

	assert.Greater(t, spikedA.VolRatio, calmA.VolRatio)
	assert.Greater(t, spikedA.StressWeight, calmA.StressWeight)
	assert.NotEqual(t, RegimeCalm, spikedA.Regime)
}

func TestDetector_StressWeightIsCapped(t *testing.T) {
	d := NewDetector(5, 20, 2.5, zerolog.Nop())

	crash := make([]float64, 40)
	for i := range crash {
		crash[i] = 0.0005
	}
	for i := 30; i < 35; i++ {
		crash[i] = -0.02
	}
	crash[35], crash[36], crash[37], crash[38], crash[39] = -0.10, 0.05, -0.10, 0.05, -0.10

	a, err := d.Assess(crash)
	require.NoError(t, err)
	assert.Equal(t, RegimeStressed, a.Regime)
	assert.InDelta(t, 2.5, a.StressWeight, 1e-9)
	assert.Greater(t, a.Drawdown, 0.05)
}

func TestMaxDrawdown(t *testing.T) {
	// Up 10%, down 20%: drawdown is 20% off the peak.
	dd := maxDrawdown([]float64{0.10, -0.20})
	assert.InDelta(t, 0.20, dd, 1e-12)

	// Recovery to a new high means zero drawdown at the end.
	dd = maxDrawdown([]float64{-0.10, 0.30})
	assert.InDelta(t, 0, dd, 1e-12)
}
