// Package regime derives a market stress weight from the benchmark return
// series. The stress weight scales the beta-deviation penalty of the
// optimizer: in calm markets tracking the target beta matters little, in
// drawdowns it dominates.
package regime

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
)

// Regime classifies the current market environment.
type Regime string

const (
	// RegimeCalm - volatility at or below its long-run level, no drawdown
	RegimeCalm Regime = "calm"
	// RegimeElevated - short-term volatility running above the long-run level
	RegimeElevated Regime = "elevated"
	// RegimeStressed - volatility spike combined with a material drawdown
	RegimeStressed Regime = "stressed"
)

// Assessment is the detector's view of the benchmark series.
type Assessment struct {
	Regime       Regime  `json:"regime"`
	StressWeight float64 `json:"stress_weight"`
	VolRatio     float64 `json:"vol_ratio"`
	Drawdown     float64 `json:"drawdown"` // Peak-to-current, as a positive fraction
}

// Detector computes stress assessments from benchmark returns.
type Detector struct {
	shortWindow int
	longWindow  int
	maxStress   float64
	log         zerolog.Logger
}

// NewDetector creates a detector. shortWindow and longWindow are the rolling
// volatility periods (short must be less than long); maxStress caps the
// stress weight fed into the optimizer.
func NewDetector(shortWindow, longWindow int, maxStress float64, log zerolog.Logger) *Detector {
	return &Detector{
		shortWindow: shortWindow,
		longWindow:  longWindow,
		maxStress:   maxStress,
		log:         log.With().Str("component", "regime_detector").Logger(),
	}
}

// Assess classifies the benchmark series. It needs at least longWindow
// observations; shorter series return an error rather than a guess.
func (d *Detector) Assess(benchmarkReturns []float64) (*Assessment, error) {
	if len(benchmarkReturns) < d.longWindow {
		return nil, fmt.Errorf("need at least %d benchmark returns, got %d", d.longWindow, len(benchmarkReturns))
	}

	shortVol := talib.StdDev(benchmarkReturns, d.shortWindow, 1.0)
	longVol := talib.StdDev(benchmarkReturns, d.longWindow, 1.0)

	recent := shortVol[len(shortVol)-1]
	baseline := longVol[len(longVol)-1]

	volRatio := 1.0
	if baseline > 0 {
		volRatio = recent / baseline
	}

	drawdown := maxDrawdown(benchmarkReturns)

	// Volatility above baseline and drawdowns both push the weight up.
	// A 10% drawdown contributes as much as volatility running at twice
	// its long-run level.
	stress := math.Max(0, volRatio-1) + 10*drawdown
	stress = math.Min(stress, d.maxStress)

	regime := RegimeCalm
	switch {
	case volRatio > 1.5 && drawdown > 0.05:
		regime = RegimeStressed
	case volRatio > 1.1:
		regime = RegimeElevated
	}

	a := &Assessment{
		Regime:       regime,
		StressWeight: stress,
		VolRatio:     volRatio,
		Drawdown:     drawdown,
	}
	d.log.Debug().
		Str("regime", string(regime)).
		Float64("stress_weight", stress).
		Float64("vol_ratio", volRatio).
		Float64("drawdown", drawdown).
		Msg("Regime assessed")
	return a, nil
}

// maxDrawdown compounds the return series into an equity curve and returns
// the peak-to-trough loss ending at the last observation, as a positive
// fraction.
func maxDrawdown(returns []float64) float64 {
	equity := 1.0
	peak := 1.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
	}
	if peak <= 0 {
		return 0
	}
	dd := (peak - equity) / peak
	if dd < 0 {
		return 0
	}
	return dd
}
