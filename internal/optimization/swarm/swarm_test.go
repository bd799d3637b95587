package swarm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/ZEPHYR/internal/optimization"
)

func sphereProblem() *optimization.Problem {
	return &optimization.Problem{
		Variables: []optimization.Variable{
			{Name: "x", Kind: optimization.Continuous, Min: -10, Max: 10},
			{Name: "y", Kind: optimization.Continuous, Min: -10, Max: 10},
		},
		Objectives: []optimization.Objective{{
			Name: "sphere",
			Func: func(a optimization.Assignment) (float64, error) {
				x, y := a.Float("x"), a.Float("y")
				return x*x + y*y, nil
			},
		}},
	}
}

func TestOptimizeFindsSphereMinimum(t *testing.T) {
	o := New(Config{SwarmSize: 30, MaxIterations: 200, Seed: 42})

	result, err := o.Optimize(context.Background(), sphereProblem())
	require.NoError(t, err)
	require.NotNil(t, result.Best)

	assert.Less(t, result.Best.Fitness, 0.01)
	assert.Equal(t, "swarm", result.Algorithm)
}

func TestVelocityStaysClamped(t *testing.T) {
	o := New(Config{SwarmSize: 10, MaxIterations: 100, MaxVelocity: 0.2, Seed: 5})

	_, err := o.Optimize(context.Background(), sphereProblem())
	require.NoError(t, err)

	// 0.2 of the 20-wide range.
	limit := 0.2 * 20
	for _, p := range o.particles {
		for _, vel := range p.velocity {
			assert.LessOrEqual(t, math.Abs(vel), limit)
		}
	}
}

func TestPersonalBestNeverWorsens(t *testing.T) {
	o := New(Config{SwarmSize: 10, MaxIterations: 50, Seed: 9})
	result, err := o.Optimize(context.Background(), sphereProblem())
	require.NoError(t, err)

	// Personal bests only ever improve, so the swarm best can never sit
	// above any of them.
	for _, p := range o.particles {
		assert.LessOrEqual(t, result.Best.Fitness, p.personalBest.Fitness)
	}
	for i := 1; i < len(result.History); i++ {
		assert.LessOrEqual(t,
			result.History[i].BestFitness,
			result.History[i-1].BestFitness,
			"iteration %d", i)
	}
}

func TestTopologiesAndBoundariesStayInBounds(t *testing.T) {
	for _, topo := range []string{"global", "ring", "star", "random"} {
		for _, bound := range []string{"absorb", "reflect", "random"} {
			o := New(Config{
				SwarmSize:        12,
				MaxIterations:    40,
				Topology:         topo,
				BoundaryHandling: bound,
				Seed:             31,
			})
			result, err := o.Optimize(context.Background(), sphereProblem())
			require.NoError(t, err, "%s/%s", topo, bound)

			for _, p := range o.particles {
				for d, val := range p.current.Values {
					v := o.problem.Variables[d]
					assert.GreaterOrEqual(t, val.Real, v.Min, "%s/%s", topo, bound)
					assert.LessOrEqual(t, val.Real, v.Max, "%s/%s", topo, bound)
				}
			}
			assert.GreaterOrEqual(t, result.Best.Values[0].Real, -10.0)
			assert.LessOrEqual(t, result.Best.Values[0].Real, 10.0)
		}
	}
}

func TestDiscreteGenesMoveByResampling(t *testing.T) {
	problem := &optimization.Problem{
		Variables: []optimization.Variable{
			{Name: "x", Kind: optimization.Continuous, Min: -5, Max: 5},
			{Name: "gear", Kind: optimization.Discrete, Values: []string{"1", "2", "3", "4", "5"}},
		},
		Objectives: []optimization.Objective{{
			Name: "mixed",
			Func: func(a optimization.Assignment) (float64, error) {
				x := a.Float("x")
				return x*x + float64(a.Index("gear")), nil
			},
		}},
	}

	o := New(Config{SwarmSize: 20, MaxIterations: 100, Seed: 77})
	result, err := o.Optimize(context.Background(), problem)
	require.NoError(t, err)

	// Optimum picks the first gear.
	assert.Equal(t, 0, result.Best.Values[1].Index)
	assert.Less(t, math.Abs(result.Best.Values[0].Real), 0.5)
}

func TestLinearInertiaDecay(t *testing.T) {
	o := New(Config{
		SwarmSize:          10,
		MaxIterations:      50,
		LinearInertiaDecay: true,
		InertiaWeightMax:   0.9,
		InertiaWeightMin:   0.4,
		Seed:               2,
	})

	result, err := o.Optimize(context.Background(), sphereProblem())
	require.NoError(t, err)

	w := result.Diagnostics["final_inertia_weight"]
	assert.GreaterOrEqual(t, w, 0.4-1e-9)
	assert.LessOrEqual(t, w, 0.9+1e-9)
}

func TestSameSeedSameRun(t *testing.T) {
	run := func() *optimization.Result {
		o := New(Config{SwarmSize: 15, MaxIterations: 60, Seed: 1234})
		result, err := o.Optimize(context.Background(), sphereProblem())
		require.NoError(t, err)
		return result
	}
	r1, r2 := run(), run()
	require.Equal(t, len(r1.History), len(r2.History))
	for i := range r1.History {
		assert.Equal(t, r1.History[i].BestFitness, r2.History[i].BestFitness)
		assert.Equal(t, r1.History[i].Diversity, r2.History[i].Diversity)
	}
	assert.Equal(t, r1.Best.Values, r2.Best.Values)
}

func TestUnknownMethodNamesFallBack(t *testing.T) {
	o := New(Config{
		SwarmSize:        8,
		MaxIterations:    20,
		Topology:         "mesh",
		BoundaryHandling: "wrap",
		Seed:             1,
	})
	result, err := o.Optimize(context.Background(), sphereProblem())
	require.NoError(t, err)
	assert.NotNil(t, result.Best)
}

func TestCancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(Config{SwarmSize: 10, MaxIterations: 100, Seed: 1})
	_, err := o.Optimize(ctx, sphereProblem())
	assert.ErrorIs(t, err, context.Canceled)
}
