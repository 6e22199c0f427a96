package rebalance

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Status is the closed set of solver outcomes the extractor consumes.
type Status string

const (
	StatusOptimal           Status = "optimal"
	StatusOptimalInaccurate Status = "optimal_inaccurate"
	StatusInfeasible        Status = "infeasible"
	StatusUnbounded         Status = "unbounded"
	StatusError             Status = "error"
)

// Accepted reports whether a status carries a usable primal assignment.
// acceptInaccurate controls whether low-confidence optima count.
func (s Status) Accepted(acceptInaccurate bool) bool {
	switch s {
	case StatusOptimal:
		return true
	case StatusOptimalInaccurate:
		return acceptInaccurate
	default:
		return false
	}
}

// RawSolution is one backend's answer: a status tag plus, for optimal-class
// statuses, the primal assignment over the Program's column space.
type RawSolution struct {
	Status    Status
	Objective float64
	X         []float64
}

// Backend is a single external LP solver behind the common call contract:
// standard-form program in, status plus assignment out.
type Backend interface {
	Name() string
	Solve(prog *Program) (*RawSolution, error)
}

// simplexBackend drives gonum's dense simplex solver at a fixed pivot
// tolerance. Looser tolerances converge on harder instances at the cost of
// certificate quality, which is reported through the status tag.
type simplexBackend struct {
	name   string
	tol    float64
	status Status // status reported on convergence
}

func (sb *simplexBackend) Name() string { return sb.name }

func (sb *simplexBackend) Solve(prog *Program) (*RawSolution, error) {
	opt, x, err := lp.Simplex(prog.Obj, prog.A, prog.B, sb.tol, nil)
	if err != nil {
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			return &RawSolution{Status: StatusInfeasible}, nil
		case errors.Is(err, lp.ErrUnbounded):
			return &RawSolution{Status: StatusUnbounded}, nil
		default:
			return nil, fmt.Errorf("simplex failed: %w", err)
		}
	}
	return &RawSolution{Status: sb.status, Objective: opt, X: x}, nil
}

// DefaultBackends returns the standard cascade: most precise first, most
// robust-but-approximate last.
func DefaultBackends() []Backend {
	return []Backend{
		&simplexBackend{name: "simplex-strict", tol: 1e-10, status: StatusOptimal},
		&simplexBackend{name: "simplex", tol: 1e-8, status: StatusOptimal},
		&simplexBackend{name: "simplex-relaxed", tol: 1e-5, status: StatusOptimalInaccurate},
	}
}

// solveCascade tries each backend at most once, in order, and returns the
// first result with an accepted status. A backend that errors or panics is
// skipped; a backend that returns a definitive non-optimal verdict
// (infeasible/unbounded) short-circuits the cascade, since later backends
// solve the same program. If every attempt fails, the terminal state is the
// last observed status, or StatusError when nothing returned cleanly.
func solveCascade(backends []Backend, prog *Program, acceptInaccurate bool, log zerolog.Logger) *RawSolution {
	terminal := &RawSolution{Status: StatusError}

	for _, backend := range backends {
		raw, err := attempt(backend, prog)
		if err != nil {
			log.Warn().Err(err).Str("backend", backend.Name()).Msg("Solver attempt failed")
			continue
		}
		if raw.Status.Accepted(acceptInaccurate) {
			log.Debug().
				Str("backend", backend.Name()).
				Str("status", string(raw.Status)).
				Float64("objective", raw.Objective).
				Msg("Solver accepted")
			return raw
		}
		terminal = raw
		if raw.Status == StatusInfeasible || raw.Status == StatusUnbounded {
			log.Warn().
				Str("backend", backend.Name()).
				Str("status", string(raw.Status)).
				Msg("Program has no usable optimum")
			return terminal
		}
	}
	return terminal
}

// attempt isolates one backend call, converting panics into errors so a
// misbehaving solver can never crash the caller.
func attempt(backend Backend, prog *Program) (raw *RawSolution, err error) {
	defer func() {
		if r := recover(); r != nil {
			raw = nil
			err = fmt.Errorf("solver %s panicked: %v", backend.Name(), r)
		}
	}()
	return backend.Solve(prog)
}
