package optimization

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Dominates reports whether a dominates b under constrained Pareto
// domination: a feasible candidate dominates an infeasible one, two
// infeasible candidates compare by total violation, and two feasible
// candidates compare objective-wise (no objective worse, at least one
// strictly better).
func Dominates(a, b *Solution) bool {
	if a.Feasible != b.Feasible {
		return a.Feasible
	}
	if !a.Feasible {
		return a.TotalViolation() < b.TotalViolation()
	}
	better := false
	for i := range a.Objectives {
		if a.Objectives[i] > b.Objectives[i] {
			return false
		}
		if a.Objectives[i] < b.Objectives[i] {
			better = true
		}
	}
	return better
}

// NonDominatedSort partitions the population into fronts by fast
// non-dominated sorting and writes each solution's Rank. Front 0 is the
// non-dominated set.
func NonDominatedSort(population []*Solution) [][]*Solution {
	n := len(population)
	dominationCount := make([]int, n)
	dominated := make([][]int, n)

	var fronts [][]*Solution
	var current []int

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if Dominates(population[i], population[j]) {
				dominated[i] = append(dominated[i], j)
			} else if Dominates(population[j], population[i]) {
				dominationCount[i]++
			}
		}
		if dominationCount[i] == 0 {
			population[i].Rank = 0
			current = append(current, i)
		}
	}

	rank := 0
	for len(current) > 0 {
		front := make([]*Solution, len(current))
		for k, i := range current {
			front[k] = population[i]
		}
		fronts = append(fronts, front)

		var next []int
		for _, i := range current {
			for _, j := range dominated[i] {
				dominationCount[j]--
				if dominationCount[j] == 0 {
					population[j].Rank = rank + 1
					next = append(next, j)
				}
			}
		}
		current = next
		rank++
	}
	return fronts
}

// CrowdingDistance writes each front member's crowding estimate: the
// normalized objective-space perimeter of the cuboid spanned by its
// neighbors, with boundary members pinned to +Inf. Larger is less crowded.
func CrowdingDistance(front []*Solution) {
	if len(front) == 0 {
		return
	}
	for _, s := range front {
		s.Crowding = 0
	}
	nObj := len(front[0].Objectives)
	for m := 0; m < nObj; m++ {
		sort.SliceStable(front, func(i, j int) bool {
			return front[i].Objectives[m] < front[j].Objectives[m]
		})
		front[0].Crowding = math.Inf(1)
		front[len(front)-1].Crowding = math.Inf(1)
		span := front[len(front)-1].Objectives[m] - front[0].Objectives[m]
		if span == 0 {
			continue
		}
		for i := 1; i < len(front)-1; i++ {
			front[i].Crowding += (front[i+1].Objectives[m] - front[i-1].Objectives[m]) / span
		}
	}
}

// CrowdedLess orders by NSGA-II's crowded-comparison operator: lower rank
// first, larger crowding distance breaking ties within a rank.
func CrowdedLess(a, b *Solution) bool {
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.Crowding > b.Crowding
}

// ParetoFront extracts the feasible non-dominated subset of a population.
func ParetoFront(population []*Solution) []*Solution {
	feasible := make([]*Solution, 0, len(population))
	for _, s := range population {
		if s.Feasible {
			feasible = append(feasible, s)
		}
	}
	if len(feasible) == 0 {
		return nil
	}
	fronts := NonDominatedSort(feasible)
	CrowdingDistance(fronts[0])
	return fronts[0]
}

// KneePoint picks the front member with the best balanced trade-off: the
// minimizer of the normalized objective sum, the standard knee heuristic
// when no preference weights exist.
func KneePoint(front []*Solution) *Solution {
	if len(front) == 0 {
		return nil
	}
	nObj := len(front[0].Objectives)
	lo := make([]float64, nObj)
	hi := make([]float64, nObj)
	for m := 0; m < nObj; m++ {
		col := make([]float64, len(front))
		for i, s := range front {
			col[i] = s.Objectives[m]
		}
		lo[m] = floats.Min(col)
		hi[m] = floats.Max(col)
	}

	var knee *Solution
	best := math.Inf(1)
	for _, s := range front {
		score := 0.0
		for m := 0; m < nObj; m++ {
			span := hi[m] - lo[m]
			if span == 0 {
				continue
			}
			score += (s.Objectives[m] - lo[m]) / span
		}
		if score < best {
			best = score
			knee = s
		}
	}
	return knee
}
