package optimization

import (
	"context"
)

// Status is the terminal state of a run.
type Status string

const (
	// StatusConverged means the windowed best-fitness improvement dropped
	// below the convergence tolerance.
	StatusConverged Status = "converged"
	// StatusMaxIterations means the iteration or generation cap was hit.
	StatusMaxIterations Status = "max_iterations"
	// StatusTemperatureFloor means annealing cooled to its floor.
	StatusTemperatureFloor Status = "temperature_floor"
	// StatusStagnated means the best fitness stopped moving for the
	// algorithm's stagnation window.
	StatusStagnated Status = "stagnated"
	// StatusGradientConverged means the gradient norm fell below the
	// gradient tolerance.
	StatusGradientConverged Status = "gradient_converged"
)

// Result is the outcome of one optimization run.
type Result struct {
	// Algorithm names the engine that produced the result.
	Algorithm string

	// Status is the termination reason.
	Status Status

	// Best is the best-ever solution observed during the run, independent
	// of whether the final population or iterate still holds it.
	Best *Solution

	// BestAssignment maps the best solution back onto named variables.
	BestAssignment Assignment

	// ParetoFront holds the feasible non-dominated set for multi-objective
	// problems, nil otherwise.
	ParetoFront []*Solution

	// History is the per-iteration audit trail.
	History []IterationRecord

	// Stats aggregates the run.
	Stats Stats

	// Diagnostics carries algorithm-specific terminal values such as the
	// final temperature or inertia weight.
	Diagnostics map[string]float64

	// Warnings are advisory, e.g. discrete variables held fixed by
	// gradient descent.
	Warnings []string

	// Payload is the caller's Problem.Payload, echoed back untouched.
	Payload any
}

// ProgressFunc receives each iteration record as it is appended. It is
// invoked synchronously on the optimization goroutine; slow consumers slow
// the run.
type ProgressFunc func(IterationRecord)

// Optimizer is the contract every engine implements.
type Optimizer interface {
	// Optimize runs the search to termination or context cancellation.
	Optimize(ctx context.Context, problem *Problem) (*Result, error)

	// BestSolution returns the best solution found so far, also while a
	// run is in flight.
	BestSolution() *Solution

	// History returns the iteration records appended so far.
	History() []IterationRecord

	// Stop cancels an in-flight run cooperatively.
	Stop()
}
