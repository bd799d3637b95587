package optimization

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func solutionAt(fitness float64, coords ...float64) *Solution {
	values := make([]Value, len(coords))
	for i, c := range coords {
		values[i] = ContinuousValue(c)
	}
	s := NewSolution(values)
	s.Fitness = fitness
	s.Feasible = true
	return s
}

func TestSnapshotAggregatesPopulation(t *testing.T) {
	pop := []*Solution{
		solutionAt(1, 0),
		solutionAt(3, 1),
		solutionAt(5, 2),
	}
	pop[2].Feasible = false

	rec := Snapshot(7, pop, 0.5, 0.2)

	assert.Equal(t, 7, rec.Iteration)
	assert.Equal(t, 0.5, rec.BestFitness)
	assert.Equal(t, 3.0, rec.AverageFitness)
	assert.Equal(t, 5.0, rec.WorstFitness)
	assert.Equal(t, 0.2, rec.Diversity)
	assert.Equal(t, 1, rec.InfeasibleCount)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestDiversity(t *testing.T) {
	vars := []Variable{{Name: "x", Kind: Continuous, Min: 0, Max: 10}}

	identical := []*Solution{solutionAt(0, 3), solutionAt(0, 3), solutionAt(0, 3)}
	assert.Equal(t, 0.0, Diversity(identical, vars))

	spread := []*Solution{solutionAt(0, 0), solutionAt(0, 10)}
	assert.InDelta(t, 1.0, Diversity(spread, vars), 1e-12)

	single := []*Solution{solutionAt(0, 3)}
	assert.Equal(t, 0.0, Diversity(single, vars))

	discreteOnly := []*Solution{
		{Values: []Value{DiscreteValue(0)}},
		{Values: []Value{DiscreteValue(2)}},
	}
	assert.Equal(t, 0.0, Diversity(discreteOnly, []Variable{
		{Name: "m", Kind: Discrete, Values: []string{"a", "b", "c"}},
	}))
}

func TestImprovementWindow(t *testing.T) {
	history := []IterationRecord{
		{Iteration: 0, BestFitness: 10},
		{Iteration: 1, BestFitness: 8},
		{Iteration: 2, BestFitness: 8},
	}

	// Window not filled yet: never reports convergence.
	assert.True(t, math.IsInf(Improvement(history, 5), 1))

	assert.InDelta(t, 2.0, Improvement(history, 2), 1e-12)
	assert.InDelta(t, 0.0, Improvement(history, 1), 1e-12)
}

func TestBestFitnessVariance(t *testing.T) {
	flat := []IterationRecord{
		{BestFitness: 4}, {BestFitness: 4}, {BestFitness: 4},
	}
	assert.Equal(t, 0.0, BestFitnessVariance(flat, 3))
	assert.True(t, math.IsInf(BestFitnessVariance(flat, 4), 1))
}

func TestSummarizeHistory(t *testing.T) {
	history := []IterationRecord{
		{BestFitness: 10},
		{BestFitness: 6},
		{BestFitness: 2},
	}
	stats := SummarizeHistory(history, 42, 3*time.Second)

	assert.Equal(t, 3, stats.Iterations)
	assert.Equal(t, int64(42), stats.Evaluations)
	assert.Equal(t, 10.0, stats.InitialBest)
	assert.Equal(t, 2.0, stats.FinalBest)
	assert.Equal(t, 6.0, stats.MeanIterBest)
	assert.Equal(t, 8.0, stats.TotalImproved)
}

func TestRNGDeterminism(t *testing.T) {
	a, b := NewRNG(1234), NewRNG(1234)
	for i := 0; i < 100; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}
	assert.Equal(t, a.NormFloat64(), b.NormFloat64())
	assert.Equal(t, a.CauchyFloat64(), b.CauchyFloat64())
	assert.Equal(t, a.Perm(10), b.Perm(10))

	// Zero seed falls back to the clock but still reports what it used.
	r := NewRNG(0)
	assert.NotZero(t, r.Seed())
}

func TestSolutionBetter(t *testing.T) {
	feasible := solutionAt(5, 0)
	worse := solutionAt(9, 0)
	infeasible := solutionAt(1, 0)
	infeasible.Feasible = false
	infeasible.Violations = []float64{2}

	assert.True(t, feasible.Better(nil))
	assert.True(t, feasible.Better(worse))
	assert.False(t, worse.Better(feasible))
	// A feasible candidate beats a fitter infeasible one.
	assert.True(t, worse.Better(infeasible))

	lessViolated := solutionAt(100, 0)
	lessViolated.Feasible = false
	lessViolated.Violations = []float64{1}
	assert.True(t, lessViolated.Better(infeasible))
}
