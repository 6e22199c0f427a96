package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/rebalancer/internal/modules/rebalance"
	"github.com/aristath/rebalancer/internal/modules/regime"
	"github.com/aristath/rebalancer/internal/modules/scenarios"
)

// Service walks a date range, building one optimization problem per date and
// carrying the adopted portfolio forward to the next.
type Service struct {
	builder   *scenarios.Builder
	histRepo  *scenarios.Repository
	detector  *regime.Detector
	optimizer *rebalance.Optimizer
	results   *Repository
	log       zerolog.Logger
}

// NewService creates a backtest service.
func NewService(
	builder *scenarios.Builder,
	histRepo *scenarios.Repository,
	detector *regime.Detector,
	optimizer *rebalance.Optimizer,
	results *Repository,
	log zerolog.Logger,
) *Service {
	return &Service{
		builder:   builder,
		histRepo:  histRepo,
		detector:  detector,
		optimizer: optimizer,
		results:   results,
		log:       log.With().Str("component", "backtest").Logger(),
	}
}

// Run executes a backtest. Every per-date decision is persisted under a
// fresh run ID; progress (when non-nil) is invoked after each date. Run
// respects ctx between dates, so a cancelled request stops at the next date
// boundary with the partial results already stored.
func (s *Service) Run(ctx context.Context, req *Request, kind Kind, progress ProgressFunc) (*RunSummary, error) {
	if len(req.Universe) == 0 {
		return nil, fmt.Errorf("empty universe")
	}
	if req.Params.ScenarioWindow <= 0 || req.Params.BetaWindow <= 0 {
		return nil, fmt.Errorf("scenario_window and beta_window must be positive")
	}

	dates, err := s.histRepo.Dates(req.Benchmark, req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("no benchmark dates between %s and %s", req.StartDate, req.EndDate)
	}

	runID := uuid.NewString()
	startedAt := time.Now().UTC().Format(time.RFC3339)
	s.log.Info().
		Str("run_id", runID).
		Str("kind", string(kind)).
		Int("dates", len(dates)).
		Msg("Backtest started")

	weights, cash := s.initialPortfolio(req)

	var (
		turnovers, lpm1s, cvars, betas []float64
		nRebalances                    int
		totalTurnover                  float64
	)

	for step, date := range dates {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		set, err := s.builder.Build(req.Universe, req.Benchmark, date, req.Params.ScenarioWindow, req.Params.BetaWindow)
		if err != nil {
			return nil, fmt.Errorf("scenario build failed for %s: %w", date, err)
		}

		stress := 0.0
		if assessment, err := s.detector.Assess(set.BenchmarkScenarios); err != nil {
			s.log.Warn().Err(err).Str("date", date).Msg("Regime assessment unavailable, assuming calm")
		} else {
			stress = assessment.StressWeight
		}

		problem := s.assembleProblem(req, set, weights, cash, stress)
		solution, err := s.optimizer.Optimize(problem)
		if err != nil {
			return nil, fmt.Errorf("invalid problem for %s: %w", date, err)
		}

		// Adopt the optimized portfolio only when the solver produced one
		// and the trade clears the turnover threshold.
		adopted := solution.Rebalanced() && solution.Turnover >= req.Params.RebalanceThreshold
		if adopted {
			weights = append([]float64(nil), solution.AssetWeights...)
			cash = solution.CashWeight
			nRebalances++
			totalTurnover += solution.Turnover
			turnovers = append(turnovers, solution.Turnover)
			lpm1s = append(lpm1s, solution.LPM1Value)
			cvars = append(cvars, solution.CVaRValue)
		}
		betas = append(betas, portfolioBeta(weights, set.AssetBetas))

		if err := s.results.SaveRecord(&Record{
			RunID:        runID,
			Date:         date,
			StressWeight: stress,
			Rebalanced:   adopted,
			Solution:     *solution,
		}); err != nil {
			return nil, err
		}

		if progress != nil {
			progress(Progress{
				RunID:      runID,
				Date:       date,
				Step:       step + 1,
				TotalSteps: len(dates),
				Rebalanced: adopted,
				Turnover:   solution.Turnover,
			})
		}
	}

	summary := &RunSummary{
		RunID:         runID,
		Kind:          kind,
		Symbols:       append([]string(nil), req.Universe...),
		Benchmark:     req.Benchmark,
		Params:        req.Params,
		NDates:        len(dates),
		NRebalances:   nRebalances,
		TotalTurnover: totalTurnover,
		AvgTurnover:   meanOrZero(turnovers),
		AvgLPM1:       meanOrZero(lpm1s),
		AvgCVaR:       meanOrZero(cvars),
		BetaMean:      meanOrZero(betas),
		BetaStddev:    stddevOrZero(betas),
		StartedAt:     startedAt,
		FinishedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.results.SaveRun(summary); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("run_id", runID).
		Int("rebalances", nRebalances).
		Float64("total_turnover", totalTurnover).
		Msg("Backtest finished")
	return summary, nil
}

func (s *Service) initialPortfolio(req *Request) ([]float64, float64) {
	if len(req.InitialWeights) == len(req.Universe) {
		return append([]float64(nil), req.InitialWeights...), req.InitialCash
	}
	weights := make([]float64, len(req.Universe))
	for i := range weights {
		weights[i] = 1.0 / float64(len(weights))
	}
	return weights, 0
}

func (s *Service) assembleProblem(req *Request, set *scenarios.Set, weights []float64, cash, stress float64) *rebalance.Problem {
	return &rebalance.Problem{
		NAssets:            set.NumAssets(),
		NScenarios:         set.NumScenarios(),
		AssetScenarios:     set.AssetScenarios,
		BenchmarkScenarios: set.BenchmarkScenarios,
		CashScenarios:      set.CashScenarios,
		PrevWeights:        weights,
		PrevCash:           cash,
		AssetBetas:         set.AssetBetas,
		StressWeight:       stress,
		LambdaLPM1:         req.Params.LambdaLPM1,
		LambdaCVaR:         req.Params.LambdaCVaR,
		LambdaBeta:         req.Params.LambdaBeta,
		Kappa:              req.Params.Kappa,
		LPMThreshold:       req.Params.LPMThreshold,
		CVaRAlpha:          req.Params.CVaRAlpha,
		BetaTarget:         req.Params.BetaTarget,
	}
}

func portfolioBeta(weights, betas []float64) float64 {
	total := 0.0
	for i := range weights {
		total += weights[i] * betas[i]
	}
	return total
}

func meanOrZero(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

func stddevOrZero(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.StdDev(xs, nil)
}
