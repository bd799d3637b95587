package optimization

import "math"

// Solution is one candidate point in the search space. Genetic populations,
// annealing iterates and swarm particles all share this shape: a value
// vector positionally aligned with Problem.Variables, the
// minimization-oriented fitness (objective plus any penalty), per-constraint
// violations and the derived feasibility flag.
//
// A solution is evaluated exactly once after construction and never mutated
// afterwards except by explicit re-evaluation; algorithm operators build new
// solutions instead of editing scored ones.
type Solution struct {
	// ID is an opaque identifier assigned at evaluation time, for tracing
	// candidates through selection and replacement.
	ID string

	Values     []Value
	Objectives []float64
	Fitness    float64
	Violations []float64
	Feasible   bool

	// Rank and Crowding are populated by non-dominated sorting in
	// multi-objective mode and unused otherwise.
	Rank     int
	Crowding float64
}

// NewSolution wraps a value vector in an unevaluated solution.
func NewSolution(values []Value) *Solution {
	return &Solution{Values: values, Fitness: math.Inf(1)}
}

// Clone deep-copies the solution so operators can derive children without
// aliasing the parent's vectors.
func (s *Solution) Clone() *Solution {
	c := &Solution{
		ID:       s.ID,
		Fitness:  s.Fitness,
		Feasible: s.Feasible,
		Rank:     s.Rank,
		Crowding: s.Crowding,
	}
	c.Values = append([]Value(nil), s.Values...)
	if s.Objectives != nil {
		c.Objectives = append([]float64(nil), s.Objectives...)
	}
	if s.Violations != nil {
		c.Violations = append([]float64(nil), s.Violations...)
	}
	return c
}

// TotalViolation sums the positive part of each constraint violation.
func (s *Solution) TotalViolation() float64 {
	total := 0.0
	for _, v := range s.Violations {
		if v > 0 {
			total += v
		}
	}
	return total
}

// Better reports whether s beats other under single-objective comparison
// with constrained domination: feasible beats infeasible, two infeasible
// candidates compare by total violation, two feasible ones by fitness.
func (s *Solution) Better(other *Solution) bool {
	if other == nil {
		return true
	}
	if s.Feasible != other.Feasible {
		return s.Feasible
	}
	if !s.Feasible {
		return s.TotalViolation() < other.TotalViolation()
	}
	return s.Fitness < other.Fitness
}
