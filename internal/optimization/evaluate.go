package optimization

import (
	"fmt"
	"math"
)

// ConstraintPolicy selects how infeasible candidates are handled at
// evaluation time.
type ConstraintPolicy int

const (
	// PolicyPenalty adds penaltyCoefficient times the summed positive
	// violations to the fitness (and to every objective in multi-objective
	// mode). This is the default.
	PolicyPenalty ConstraintPolicy = iota
	// PolicyRepair clamps the candidate back onto its variable domains
	// before scoring. Functional violations that survive the box repair
	// fall through to the penalty term.
	PolicyRepair
	// PolicyRejection discards infeasible candidates so the algorithm
	// regenerates them instead of scoring them.
	PolicyRejection
)

// String returns the policy name used in configs and logs.
func (p ConstraintPolicy) String() string {
	switch p {
	case PolicyPenalty:
		return "penalty"
	case PolicyRepair:
		return "repair"
	case PolicyRejection:
		return "rejection"
	default:
		return fmt.Sprintf("ConstraintPolicy(%d)", int(p))
	}
}

// ParseConstraintPolicy maps a config string to a policy, defaulting to
// penalty for unknown values. The second return reports whether the input
// was recognized, so callers can log the fallback.
func ParseConstraintPolicy(s string) (ConstraintPolicy, bool) {
	switch s {
	case "penalty", "":
		return PolicyPenalty, true
	case "repair":
		return PolicyRepair, true
	case "rejection", "death":
		return PolicyRejection, true
	default:
		return PolicyPenalty, false
	}
}

// DefaultPenaltyCoefficient is applied when a config leaves the penalty
// weight unset.
const DefaultPenaltyCoefficient = 1e3

// rejectionAttempts bounds regeneration under PolicyRejection so a dense
// infeasible region cannot stall the search; after the budget is spent the
// penalized candidate is kept.
const rejectionAttempts = 100

// Evaluator is the shared evaluation boundary: it maps value vectors onto
// named variables, invokes the caller's objective and constraint functions,
// applies the constraint policy and absorbs evaluation failures. Every
// engine scores candidates exclusively through one Evaluator, which is also
// where the monotonic evaluation count lives.
type Evaluator struct {
	problem     *Problem
	policy      ConstraintPolicy
	penalty     float64
	evaluations int64
}

// NewEvaluator builds an evaluator for one optimizer run. A zero or
// negative penalty coefficient selects DefaultPenaltyCoefficient.
func NewEvaluator(problem *Problem, policy ConstraintPolicy, penaltyCoefficient float64) *Evaluator {
	if penaltyCoefficient <= 0 {
		penaltyCoefficient = DefaultPenaltyCoefficient
	}
	return &Evaluator{problem: problem, policy: policy, penalty: penaltyCoefficient}
}

// Evaluations returns how many candidates have been scored so far.
func (e *Evaluator) Evaluations() int64 { return e.evaluations }

// Policy returns the configured constraint policy.
func (e *Evaluator) Policy() ConstraintPolicy { return e.policy }

// Evaluate scores one candidate in place. A failed evaluation (error return
// or non-finite value) sets the worst representable fitness and marks the
// candidate infeasible; it never propagates.
func (e *Evaluator) Evaluate(s *Solution) {
	e.evaluations++
	if s.ID == "" {
		s.ID = fmt.Sprintf("cand-%08d", e.evaluations)
	}

	if e.policy == PolicyRepair {
		for i := range s.Values {
			s.Values[i] = e.problem.Variables[i].Clamp(s.Values[i])
		}
	}

	assignment := e.problem.Assignment(s.Values)

	s.Objectives = make([]float64, len(e.problem.Objectives))
	for i, obj := range e.problem.Objectives {
		v, err := obj.Func(assignment)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			e.fail(s)
			return
		}
		s.Objectives[i] = v
	}

	s.Violations = make([]float64, len(e.problem.Constraints))
	s.Feasible = true
	for i, c := range e.problem.Constraints {
		v, err := c.Func(assignment)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			e.fail(s)
			return
		}
		s.Violations[i] = v
		if v > 0 {
			s.Feasible = false
		}
	}

	s.Fitness = 0
	for _, v := range s.Objectives {
		s.Fitness += v
	}
	// The penalty applies under every policy: rejected candidates are
	// normally regenerated, but the one kept after the attempt budget must
	// still carry its violation in the fitness.
	if !s.Feasible {
		p := e.penalty * s.TotalViolation()
		for i := range s.Objectives {
			s.Objectives[i] += p
		}
		s.Fitness += p * float64(len(s.Objectives))
	}
}

// Rejected reports whether the policy says this evaluated candidate must be
// regenerated instead of kept.
func (e *Evaluator) Rejected(s *Solution) bool {
	return e.policy == PolicyRejection && !s.Feasible
}

// EvaluateFresh draws candidates from gen until one survives the rejection
// policy, up to the attempt budget. Under other policies it evaluates a
// single candidate. The last candidate is returned even if still
// infeasible.
func (e *Evaluator) EvaluateFresh(gen func() *Solution) *Solution {
	s := gen()
	e.Evaluate(s)
	if e.policy != PolicyRejection {
		return s
	}
	for i := 0; i < rejectionAttempts && e.Rejected(s); i++ {
		s = gen()
		e.Evaluate(s)
	}
	return s
}

// fail applies the evaluation-failure rule: worst representable fitness,
// infeasible, objectives pinned to the same ceiling.
func (e *Evaluator) fail(s *Solution) {
	for i := range s.Objectives {
		s.Objectives[i] = math.MaxFloat64
	}
	if s.Violations == nil {
		s.Violations = make([]float64, len(e.problem.Constraints))
	}
	for i := range s.Violations {
		if s.Violations[i] < 1 {
			s.Violations[i] = 1
		}
	}
	s.Fitness = math.MaxFloat64
	s.Feasible = false
}
