// Package tuning searches the optimizer's hyperparameter grid by replaying
// backtests and scoring each candidate on a composite of its realized risk
// and trading metrics.
package tuning

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/rebalancer/internal/modules/backtest"
)

// Grid enumerates candidate values per hyperparameter. Empty dimensions fall
// back to the base value, so a one-dimensional sweep is just one populated
// slice.
type Grid struct {
	LambdaLPM1s         []float64 `json:"lambda_lpm1s,omitempty"`
	LambdaCVaRs         []float64 `json:"lambda_cvars,omitempty"`
	LambdaBetas         []float64 `json:"lambda_betas,omitempty"`
	Kappas              []float64 `json:"kappas,omitempty"`
	RebalanceThresholds []float64 `json:"rebalance_thresholds,omitempty"`
}

// Result is one scored grid point.
type Result struct {
	Params  backtest.Params     `json:"params"`
	RunID   string              `json:"run_id"`
	Score   float64             `json:"score"`
	Summary backtest.RunSummary `json:"summary"`
}

// Report is the outcome of a grid search, results sorted best-first.
type Report struct {
	Best    Result   `json:"best"`
	Results []Result `json:"results"`
}

// Service runs grid searches over the backtest service.
type Service struct {
	backtests   *backtest.Service
	concurrency int
	log         zerolog.Logger
}

// NewService creates a tuning service. concurrency bounds how many backtests
// run at once.
func NewService(backtests *backtest.Service, concurrency int, log zerolog.Logger) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		backtests:   backtests,
		concurrency: concurrency,
		log:         log.With().Str("component", "tuning").Logger(),
	}
}

// Search backtests every point of the grid and scores the outcomes. The
// composite score weighs tail risk and downside risk at 0.40 each and
// turnover at 0.20, each metric min-max normalized across the grid; lower
// is better. Any single failing backtest fails the search.
func (s *Service) Search(ctx context.Context, req *backtest.Request, grid *Grid) (*Report, error) {
	candidates := expand(req.Params, grid)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("empty grid")
	}
	s.log.Info().Int("candidates", len(candidates)).Msg("Grid search started")

	summaries := make([]backtest.RunSummary, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	var mu sync.Mutex
	for i, params := range candidates {
		g.Go(func() error {
			candidateReq := *req
			candidateReq.Params = params
			summary, err := s.backtests.Run(gctx, &candidateReq, backtest.KindTuning, nil)
			if err != nil {
				return fmt.Errorf("grid point %d: %w", i, err)
			}
			mu.Lock()
			summaries[i] = *summary
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := score(candidates, summaries)
	sort.SliceStable(results, func(a, b int) bool { return results[a].Score < results[b].Score })

	s.log.Info().
		Str("best_run_id", results[0].RunID).
		Float64("best_score", results[0].Score).
		Msg("Grid search finished")
	return &Report{Best: results[0], Results: results}, nil
}

// expand builds the cartesian product of the grid over the base parameters.
func expand(base backtest.Params, grid *Grid) []backtest.Params {
	lpm1s := orDefault(grid.LambdaLPM1s, base.LambdaLPM1)
	cvars := orDefault(grid.LambdaCVaRs, base.LambdaCVaR)
	betas := orDefault(grid.LambdaBetas, base.LambdaBeta)
	kappas := orDefault(grid.Kappas, base.Kappa)
	thresholds := orDefault(grid.RebalanceThresholds, base.RebalanceThreshold)

	var out []backtest.Params
	for _, l1 := range lpm1s {
		for _, l2 := range cvars {
			for _, lb := range betas {
				for _, k := range kappas {
					for _, th := range thresholds {
						p := base
						p.LambdaLPM1 = l1
						p.LambdaCVaR = l2
						p.LambdaBeta = lb
						p.Kappa = k
						p.RebalanceThreshold = th
						out = append(out, p)
					}
				}
			}
		}
	}
	return out
}

func orDefault(values []float64, fallback float64) []float64 {
	if len(values) == 0 {
		return []float64{fallback}
	}
	return values
}

// score normalizes each metric across the grid and combines them.
func score(candidates []backtest.Params, summaries []backtest.RunSummary) []Result {
	cvars := make([]float64, len(summaries))
	lpm1s := make([]float64, len(summaries))
	turnovers := make([]float64, len(summaries))
	for i, s := range summaries {
		cvars[i] = s.AvgCVaR
		lpm1s[i] = s.AvgLPM1
		turnovers[i] = s.AvgTurnover
	}
	normCVaR := normalize(cvars)
	normLPM1 := normalize(lpm1s)
	normTurnover := normalize(turnovers)

	results := make([]Result, len(summaries))
	for i := range summaries {
		results[i] = Result{
			Params:  candidates[i],
			RunID:   summaries[i].RunID,
			Score:   0.4*normCVaR[i] + 0.4*normLPM1[i] + 0.2*normTurnover[i],
			Summary: summaries[i],
		}
	}
	return results
}

// normalize min-max scales to [0, 1]; a constant metric contributes equally
// to every candidate.
func normalize(xs []float64) []float64 {
	lo, hi := xs[0], xs[0]
	for _, x := range xs {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	out := make([]float64, len(xs))
	if hi == lo {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, x := range xs {
		out[i] = (x - lo) / (hi - lo)
	}
	return out
}
