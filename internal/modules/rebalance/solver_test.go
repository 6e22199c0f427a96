package rebalance

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend scripts one solver attempt.
type fakeBackend struct {
	name   string
	raw    *RawSolution
	err    error
	panics bool
	calls  int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Solve(_ *Program) (*RawSolution, error) {
	f.calls++
	if f.panics {
		panic("numerical backend blew up")
	}
	return f.raw, f.err
}

func testProgram(t *testing.T) *Program {
	t.Helper()
	p := validProblem()
	require.NoError(t, p.Validate())
	return Formulate(p)
}

func TestSolveCascade_FirstAcceptedWins(t *testing.T) {
	prog := testProgram(t)
	first := &fakeBackend{name: "a", raw: &RawSolution{Status: StatusOptimal, X: make([]float64, prog.NumVariables())}}
	second := &fakeBackend{name: "b", raw: &RawSolution{Status: StatusOptimal}}

	raw := solveCascade([]Backend{first, second}, prog, true, zerolog.Nop())

	assert.Equal(t, StatusOptimal, raw.Status)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls, "cascade must stop at the first accepted status")
}

func TestSolveCascade_ErrorFallsThrough(t *testing.T) {
	prog := testProgram(t)
	failing := &fakeBackend{name: "a", err: errors.New("license expired")}
	ok := &fakeBackend{name: "b", raw: &RawSolution{Status: StatusOptimal, X: make([]float64, prog.NumVariables())}}

	raw := solveCascade([]Backend{failing, ok}, prog, true, zerolog.Nop())

	assert.Equal(t, StatusOptimal, raw.Status)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)
}

func TestSolveCascade_PanicIsContained(t *testing.T) {
	prog := testProgram(t)
	panicking := &fakeBackend{name: "a", panics: true}
	ok := &fakeBackend{name: "b", raw: &RawSolution{Status: StatusOptimal, X: make([]float64, prog.NumVariables())}}

	raw := solveCascade([]Backend{panicking, ok}, prog, true, zerolog.Nop())

	assert.Equal(t, StatusOptimal, raw.Status)
	assert.Equal(t, 1, ok.calls)
}

func TestSolveCascade_InfeasibleShortCircuits(t *testing.T) {
	prog := testProgram(t)
	infeasible := &fakeBackend{name: "a", raw: &RawSolution{Status: StatusInfeasible}}
	never := &fakeBackend{name: "b", raw: &RawSolution{Status: StatusOptimal}}

	raw := solveCascade([]Backend{infeasible, never}, prog, true, zerolog.Nop())

	assert.Equal(t, StatusInfeasible, raw.Status)
	assert.Equal(t, 0, never.calls, "a definitive verdict ends the cascade")
}

func TestSolveCascade_AllFailedIsError(t *testing.T) {
	prog := testProgram(t)
	a := &fakeBackend{name: "a", err: errors.New("boom")}
	b := &fakeBackend{name: "b", panics: true}

	raw := solveCascade([]Backend{a, b}, prog, true, zerolog.Nop())

	assert.Equal(t, StatusError, raw.Status)
}

func TestSolveCascade_InaccuratePolicy(t *testing.T) {
	prog := testProgram(t)
	inaccurate := &RawSolution{Status: StatusOptimalInaccurate, X: make([]float64, prog.NumVariables())}

	accepted := solveCascade([]Backend{&fakeBackend{name: "a", raw: inaccurate}}, prog, true, zerolog.Nop())
	assert.Equal(t, StatusOptimalInaccurate, accepted.Status)

	rejected := solveCascade([]Backend{&fakeBackend{name: "a", raw: inaccurate}}, prog, false, zerolog.Nop())
	assert.False(t, rejected.Status.Accepted(false))
}

func TestSimplexBackend_SolvesReferenceProgram(t *testing.T) {
	prog := testProgram(t)

	for _, backend := range DefaultBackends() {
		raw, err := backend.Solve(prog)
		require.NoError(t, err, backend.Name())
		require.True(t, raw.Status.Accepted(true), backend.Name())
		require.Len(t, raw.X, prog.NumVariables(), backend.Name())
	}
}
