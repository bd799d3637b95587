package annealing

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
		},
		Objectives: []optimization.Objective{{
			Name: "square",
			Func: func(a optimization.Assignment) (float64, error) {
				x := a.Float("x")
				return x * x, nil
			},
		}},
	}
}

func TestAcceptProbability(t *testing.T) {
	criteria := []acceptanceCriterion{accMetropolis, accBoltzmann, accFast}

	// Improving and zero-cost moves are always accepted, under every
	// criterion and at any temperature.
	for _, c := range criteria {
		for _, temp := range []float64{100, 1, 1e-9, 0} {
			assert.Equal(t, 1.0, acceptProbability(c, -5, temp))
			assert.Equal(t, 1.0, acceptProbability(c, 0, temp))
		}
	}

	// Worsening moves are accepted with probability strictly in (0, 1).
	for _, c := range criteria {
		p := acceptProbability(c, 2, 10)
		assert.Greater(t, p, 0.0)
		assert.Less(t, p, 1.0)
	}

	// Known values.
	assert.InDelta(t, math.Exp(-0.5), acceptProbability(accMetropolis, 5, 10), 1e-12)
	assert.InDelta(t, 1/(1+math.Exp(0.5)), acceptProbability(accBoltzmann, 5, 10), 1e-12)
	assert.InDelta(t, 10.0/15.0, acceptProbability(accFast, 5, 10), 1e-12)

	// Frozen system never accepts a worsening move.
	for _, c := range criteria {
		assert.Equal(t, 0.0, acceptProbability(c, 1, 0))
	}
}

func TestOptimizeFindsSphereMinimum(t *testing.T) {
	o := New(Config{MaxIterations: 2000, Seed: 42})

	result, err := o.Optimize(context.Background(), sphereProblem())
	require.NoError(t, err)
	require.NotNil(t, result.Best)

	assert.Less(t, math.Abs(result.Best.Values[0].Real), 0.5)
	assert.Equal(t, "annealing", result.Algorithm)
}

func TestTemperatureReachesFloor(t *testing.T) {
	o := New(Config{
		InitialTemperature: 10,
		FinalTemperature:   1,
		CoolingRate:        0.5,
		MaxIterations:      1000,
		Seed:               7,
	})
	result, err := o.Optimize(context.Background(), sphereProblem())
	require.NoError(t, err)

	assert.Equal(t, optimization.StatusTemperatureFloor, result.Status)
	assert.LessOrEqual(t, result.Diagnostics["final_temperature"], 1.0)
}

func TestCoolingSchedulesCool(t *testing.T) {
	for _, method := range []string{"exponential", "linear", "logarithmic", "adaptive"} {
		o := New(Config{
			CoolingMethod: method,
			MaxIterations: 200,
			Seed:          9,
		})
		result, err := o.Optimize(context.Background(), sphereProblem())
		require.NoError(t, err, method)
		assert.Less(t,
			result.Diagnostics["final_temperature"],
			o.cfg.InitialTemperature,
			method)
	}
}

func TestLinearCoolingFollowsIterationBudget(t *testing.T) {
	// The problem's iteration bound shrinks the run below the configured
	// default; the linear decay must still land on the floor at the end.
	problem := sphereProblem()
	problem.MaxIterations = 100

	o := New(Config{
		InitialTemperature: 10,
		FinalTemperature:   1,
		CoolingMethod:      "linear",
		Seed:               5,
	})
	result, err := o.Optimize(context.Background(), problem)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, result.Diagnostics["final_temperature"], 0.1)
}

func TestBestFitnessNeverWorsens(t *testing.T) {
	o := New(Config{MaxIterations: 500, Seed: 3})
	result, err := o.Optimize(context.Background(), sphereProblem())
	require.NoError(t, err)

	for i := 1; i < len(result.History); i++ {
		assert.LessOrEqual(t,
			result.History[i].BestFitness,
			result.History[i-1].BestFitness,
			"iteration %d", i)
	}
}

func TestRestartPreservesBest(t *testing.T) {
	o := New(Config{
		InitialTemperature: 100,
		FinalTemperature:   1e-12,
		CoolingRate:        0.999,
		MaxIterations:      1500,
		RestartEnabled:     true,
		RestartTemperature: 50,
		MaxRestarts:        3,
		Seed:               17,
	})
	result, err := o.Optimize(context.Background(), sphereProblem())
	require.NoError(t, err)

	// Whether or not a restart fired, the reported best must be the
	// history's floor.
	minBest := math.Inf(1)
	for _, rec := range result.History {
		if rec.BestFitness < minBest {
			minBest = rec.BestFitness
		}
	}
	assert.Equal(t, minBest, result.Best.Fitness)
}

func TestNeighborhoodDistributionsStayInBounds(t *testing.T) {
	problem := &optimization.Problem{
		Variables: []optimization.Variable{
			{Name: "x", Kind: optimization.Continuous, Min: -1, Max: 1},
			{Name: "mode", Kind: optimization.Discrete, Values: []string{"a", "b", "c", "d"}},
		},
		Objectives: []optimization.Objective{{
			Name: "mixed",
			Func: func(a optimization.Assignment) (float64, error) {
				return a.Float("x")*a.Float("x") + float64(a.Index("mode")), nil
			},
		}},
	}

	for _, dist := range []string{"gaussian", "uniform", "cauchy"} {
		o := New(Config{
			MaxIterations:            300,
			NeighborhoodDistribution: dist,
			AdaptiveNeighborhood:     true,
			Seed:                     23,
		})
		result, err := o.Optimize(context.Background(), problem)
		require.NoError(t, err, dist)

		x := result.Best.Values[0].Real
		assert.GreaterOrEqual(t, x, -1.0, dist)
		assert.LessOrEqual(t, x, 1.0, dist)
		idx := result.Best.Values[1].Index
		assert.GreaterOrEqual(t, idx, 0, dist)
		assert.Less(t, idx, 4, dist)
	}
}

func TestSameSeedSameRun(t *testing.T) {
	run := func() *optimization.Result {
		o := New(Config{MaxIterations: 300, Seed: 123})
		result, err := o.Optimize(context.Background(), sphereProblem())
		require.NoError(t, err)
		return result
	}
	r1, r2 := run(), run()
	require.Equal(t, len(r1.History), len(r2.History))
	for i := range r1.History {
		assert.Equal(t, r1.History[i].BestFitness, r2.History[i].BestFitness)
	}
	assert.Equal(t, r1.Best.Values, r2.Best.Values)
}

func TestUnknownMethodNamesFallBack(t *testing.T) {
	o := New(Config{
		CoolingMethod:            "volcanic",
		AcceptanceCriterion:      "generous",
		NeighborhoodDistribution: "bimodal",
		MaxIterations:            50,
		Seed:                     1,
	})
	result, err := o.Optimize(context.Background(), sphereProblem())
	require.NoError(t, err)
	assert.NotNil(t, result.Best)
}

func TestCancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(Config{MaxIterations: 1000, Seed: 1})
	_, err := o.Optimize(ctx, sphereProblem())
	assert.ErrorIs(t, err, context.Canceled)
}
