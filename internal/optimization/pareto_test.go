package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func biSolution(f1, f2 float64) *Solution {
	s := NewSolution([]Value{ContinuousValue(0)})
	s.Objectives = []float64{f1, f2}
	s.Fitness = f1 + f2
	s.Feasible = true
	return s
}

func TestDominates(t *testing.T) {
	a := biSolution(1, 1)
	b := biSolution(2, 2)
	c := biSolution(1, 2)
	d := biSolution(2, 1)

	assert.True(t, Dominates(a, b))
	assert.False(t, Dominates(b, a))
	assert.True(t, Dominates(a, c))
	// Trade-off pair: neither dominates.
	assert.False(t, Dominates(c, d))
	assert.False(t, Dominates(d, c))
	// Equal points do not dominate each other.
	assert.False(t, Dominates(a, biSolution(1, 1)))

	infeasible := biSolution(0, 0)
	infeasible.Feasible = false
	infeasible.Violations = []float64{3}
	assert.True(t, Dominates(b, infeasible))
	assert.False(t, Dominates(infeasible, b))

	worseInfeasible := biSolution(0, 0)
	worseInfeasible.Feasible = false
	worseInfeasible.Violations = []float64{5}
	assert.True(t, Dominates(infeasible, worseInfeasible))
}

func TestNonDominatedSortRanks(t *testing.T) {
	front0a := biSolution(1, 4)
	front0b := biSolution(4, 1)
	front1 := biSolution(4, 4)
	front2 := biSolution(6, 6)

	fronts := NonDominatedSort([]*Solution{front2, front0a, front1, front0b})

	require.Len(t, fronts, 3)
	assert.ElementsMatch(t, []*Solution{front0a, front0b}, fronts[0])
	assert.Equal(t, []*Solution{front1}, fronts[1])
	assert.Equal(t, []*Solution{front2}, fronts[2])

	assert.Equal(t, 0, front0a.Rank)
	assert.Equal(t, 0, front0b.Rank)
	assert.Equal(t, 1, front1.Rank)
	assert.Equal(t, 2, front2.Rank)
}

func TestCrowdingDistanceBoundariesInfinite(t *testing.T) {
	low := biSolution(0, 10)
	mid := biSolution(5, 5)
	high := biSolution(10, 0)
	CrowdingDistance([]*Solution{mid, high, low})

	assert.True(t, math.IsInf(low.Crowding, 1))
	assert.True(t, math.IsInf(high.Crowding, 1))
	assert.False(t, math.IsInf(mid.Crowding, 1))
	assert.Greater(t, mid.Crowding, 0.0)
}

func TestCrowdedLess(t *testing.T) {
	better := biSolution(1, 1)
	better.Rank = 0
	better.Crowding = 0.5
	worseRank := biSolution(2, 2)
	worseRank.Rank = 1
	worseRank.Crowding = 2.0
	roomy := biSolution(3, 3)
	roomy.Rank = 0
	roomy.Crowding = 1.5

	assert.True(t, CrowdedLess(better, worseRank))
	// Same rank: larger crowding wins.
	assert.True(t, CrowdedLess(roomy, better))
}

func TestParetoFrontFiltersInfeasible(t *testing.T) {
	a := biSolution(1, 4)
	b := biSolution(4, 1)
	dominated := biSolution(5, 5)
	infeasible := biSolution(0, 0)
	infeasible.Feasible = false

	front := ParetoFront([]*Solution{a, dominated, infeasible, b})
	assert.ElementsMatch(t, []*Solution{a, b}, front)

	assert.Nil(t, ParetoFront([]*Solution{infeasible}))
}

func TestKneePoint(t *testing.T) {
	assert.Nil(t, KneePoint(nil))

	extreme1 := biSolution(0, 10)
	extreme2 := biSolution(10, 0)
	knee := biSolution(2, 2)
	got := KneePoint([]*Solution{extreme1, knee, extreme2})
	assert.Same(t, knee, got)
}
