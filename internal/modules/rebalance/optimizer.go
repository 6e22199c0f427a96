package rebalance

import "github.com/rs/zerolog"

// Options tunes optimizer policy without touching the formulation.
type Options struct {
	// Backends overrides the solver cascade. Empty means DefaultBackends.
	Backends []Backend
	// AcceptInaccurate treats optimal_inaccurate like optimal. This mirrors
	// the upstream pipeline's behaviour and is on by default; turn it off to
	// fall back to the previous portfolio instead of acting on a
	// low-confidence certificate.
	AcceptInaccurate bool
}

// DefaultOptions returns the standard policy.
func DefaultOptions() Options {
	return Options{AcceptInaccurate: true}
}

// Optimizer runs the full chain for one Problem: validate, formulate, solve
// through the backend cascade, extract. It holds no state across calls;
// independent Optimizers may run concurrently.
type Optimizer struct {
	backends         []Backend
	acceptInaccurate bool
	log              zerolog.Logger
}

// NewOptimizer creates an optimizer with the given policy.
func NewOptimizer(opts Options, log zerolog.Logger) *Optimizer {
	backends := opts.Backends
	if len(backends) == 0 {
		backends = DefaultBackends()
	}
	return &Optimizer{
		backends:         backends,
		acceptInaccurate: opts.AcceptInaccurate,
		log:              log.With().Str("component", "optimizer").Logger(),
	}
}

// Optimize computes target weights for one rebalancing instance.
//
// Validation errors are returned to the caller and never produce a Solution.
// Everything after validation is absorbed: solver failures, non-optimal
// statuses and panics all collapse into the fallback Solution, reported via
// its SolverStatus. The only two outcomes are a validated optimum or the
// unchanged previous portfolio.
func (o *Optimizer) Optimize(p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sol := func() *Solution {
		defer func() {
			// Formulation bugs must not take down the caller; recovery is
			// handled by returning the fallback from the outer scope.
			_ = recover()
		}()
		prog := Formulate(p)
		raw := solveCascade(o.backends, prog, o.acceptInaccurate, o.log)
		return extract(p, prog, raw, o.acceptInaccurate)
	}()
	if sol == nil {
		o.log.Error().Msg("Formulation panicked, returning previous portfolio")
		sol = fallbackSolution(p, StatusError)
	}

	if !sol.Rebalanced() {
		o.log.Warn().
			Str("status", string(sol.SolverStatus)).
			Msg("Optimization failed, keeping previous portfolio")
	}
	return sol, nil
}
