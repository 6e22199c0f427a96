package scenarios

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Builder assembles aligned scenario sets from the return history. Only
// dates on which every asset and the benchmark have an observation enter the
// window; assets trade on different calendars and the optimizer needs a
// rectangular matrix.
type Builder struct {
	repo     *Repository
	cashRate float64 // per-scenario cash return, constant across the window
	log      zerolog.Logger
}

// NewBuilder creates a scenario set builder. cashRate is the per-period
// return applied to the cash sleeve (zero for an uninvested float).
func NewBuilder(repo *Repository, cashRate float64, log zerolog.Logger) *Builder {
	return &Builder{
		repo:     repo,
		cashRate: cashRate,
		log:      log.With().Str("component", "scenario_builder").Logger(),
	}
}

// Build returns the scenario set for the given universe ending at endDate,
// using a trailing window of `window` aligned observations and `betaWindow`
// observations for beta estimation. Results are cached; a cache hit skips
// the alignment work entirely, which matters inside tuning loops.
func (b *Builder) Build(symbols []string, benchmark, endDate string, window, betaWindow int) (*Set, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols given")
	}

	key := cacheKey(symbols, benchmark, endDate, window, betaWindow)
	if cached, err := b.repo.CachedSet(key); err != nil {
		b.log.Warn().Err(err).Msg("Scenario cache lookup failed, rebuilding")
	} else if cached != nil {
		return cached, nil
	}

	// Beta estimation needs the longer of the two windows; the scenario
	// matrix is then cut from the tail.
	fetch := window
	if betaWindow > fetch {
		fetch = betaWindow
	}

	series := make(map[string]map[string]float64, len(symbols)+1)
	for _, symbol := range append([]string{benchmark}, symbols...) {
		points, err := b.repo.Returns(symbol, endDate, fetch)
		if err != nil {
			return nil, err
		}
		if len(points) == 0 {
			return nil, fmt.Errorf("no return history for %s up to %s", symbol, endDate)
		}
		byDate := make(map[string]float64, len(points))
		for _, p := range points {
			byDate[p.Date] = p.Return
		}
		series[symbol] = byDate
	}

	// Dates where every series has an observation, ascending. The benchmark
	// series drives the iteration order.
	benchPoints, err := b.repo.Returns(benchmark, endDate, fetch)
	if err != nil {
		return nil, err
	}
	var aligned []string
	for _, p := range benchPoints {
		ok := true
		for _, symbol := range symbols {
			if _, present := series[symbol][p.Date]; !present {
				ok = false
				break
			}
		}
		if ok {
			aligned = append(aligned, p.Date)
		}
	}
	if len(aligned) == 0 {
		return nil, fmt.Errorf("no overlapping return dates for universe %v vs %s", symbols, benchmark)
	}

	betas := b.estimateBetas(symbols, benchmark, series, aligned, betaWindow)

	// Cut the scenario window from the tail of the aligned dates.
	if len(aligned) > window {
		aligned = aligned[len(aligned)-window:]
	}

	set := &Set{
		AssetList:          append([]string(nil), symbols...),
		Benchmark:          benchmark,
		Dates:              aligned,
		AssetScenarios:     make([][]float64, len(aligned)),
		BenchmarkScenarios: make([]float64, len(aligned)),
		CashScenarios:      make([]float64, len(aligned)),
		AssetBetas:         betas,
	}
	for t, date := range aligned {
		row := make([]float64, len(symbols))
		for i, symbol := range symbols {
			row[i] = series[symbol][date]
		}
		set.AssetScenarios[t] = row
		set.BenchmarkScenarios[t] = series[benchmark][date]
		set.CashScenarios[t] = b.cashRate
	}

	if err := b.repo.StoreSet(key, set); err != nil {
		b.log.Warn().Err(err).Msg("Failed to cache scenario set")
	}
	return set, nil
}

// estimateBetas computes cov(asset, benchmark) / var(benchmark) over the
// trailing betaWindow of aligned dates.
func (b *Builder) estimateBetas(symbols []string, benchmark string, series map[string]map[string]float64, aligned []string, betaWindow int) []float64 {
	dates := aligned
	if len(dates) > betaWindow {
		dates = dates[len(dates)-betaWindow:]
	}

	bench := make([]float64, len(dates))
	for t, date := range dates {
		bench[t] = series[benchmark][date]
	}
	benchVar := stat.Variance(bench, nil)

	betas := make([]float64, len(symbols))
	for i, symbol := range symbols {
		asset := make([]float64, len(dates))
		for t, date := range dates {
			asset[t] = series[symbol][date]
		}
		if benchVar > 0 {
			betas[i] = stat.Covariance(asset, bench, nil) / benchVar
		} else {
			// Flat benchmark window carries no systematic signal.
			betas[i] = 0
		}
	}
	return betas
}

func cacheKey(symbols []string, benchmark, endDate string, window, betaWindow int) string {
	return fmt.Sprintf("%s|%s|%s|%d|%d", strings.Join(symbols, ","), benchmark, endDate, window, betaWindow)
}
