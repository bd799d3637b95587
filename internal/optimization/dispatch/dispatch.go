// Package dispatch constructs optimizers by algorithm name and offers
// Pareto analysis over finished runs. It is the single place that knows
// all four engines; callers hold the optimization.Optimizer interface.
package dispatch

import (
	"go.uber.org/zap"

	"github.com/copyleftdev/ZEPHYR/internal/optimization"
	"github.com/copyleftdev/ZEPHYR/internal/optimization/annealing"
	"github.com/copyleftdev/ZEPHYR/internal/optimization/genetic"
	"github.com/copyleftdev/ZEPHYR/internal/optimization/gradient"
	"github.com/copyleftdev/ZEPHYR/internal/optimization/swarm"
)

// Algorithm names accepted by New.
const (
	AlgorithmGenetic   = "genetic"
	AlgorithmAnnealing = "annealing"
	AlgorithmSwarm     = "swarm"
	AlgorithmGradient  = "gradient"
)

// Options carries the cross-engine settings plus optional per-engine
// configs. A nil engine config means that engine's DefaultConfig with
// Seed, Logger, and Progress injected.
type Options struct {
	// Seed drives the stochastic engines; zero seeds from the clock.
	// Gradient descent is deterministic and ignores it.
	Seed int64

	Logger   *zap.Logger
	Progress optimization.ProgressFunc

	Genetic   *genetic.Config
	Annealing *annealing.Config
	Swarm     *swarm.Config
	Gradient  *gradient.Config
}

// Algorithms lists the accepted algorithm names.
func Algorithms() []string {
	return []string{AlgorithmGenetic, AlgorithmAnnealing, AlgorithmSwarm, AlgorithmGradient}
}

// New builds the named optimizer. An unknown name is a hard error, unlike
// the per-engine method strings which fall back with a warning: a caller
// that misnames the whole algorithm should not silently get a different
// one.
func New(algorithm string, opts Options) (optimization.Optimizer, error) {
	switch algorithm {
	case AlgorithmGenetic:
		cfg := genetic.DefaultConfig()
		if opts.Genetic != nil {
			cfg = *opts.Genetic
		}
		if cfg.Seed == 0 {
			cfg.Seed = opts.Seed
		}
		if cfg.Logger == nil {
			cfg.Logger = opts.Logger
		}
		if cfg.Progress == nil {
			cfg.Progress = opts.Progress
		}
		return genetic.New(cfg), nil

	case AlgorithmAnnealing:
		cfg := annealing.DefaultConfig()
		if opts.Annealing != nil {
			cfg = *opts.Annealing
		}
		if cfg.Seed == 0 {
			cfg.Seed = opts.Seed
		}
		if cfg.Logger == nil {
			cfg.Logger = opts.Logger
		}
		if cfg.Progress == nil {
			cfg.Progress = opts.Progress
		}
		return annealing.New(cfg), nil

	case AlgorithmSwarm:
		cfg := swarm.DefaultConfig()
		if opts.Swarm != nil {
			cfg = *opts.Swarm
		}
		if cfg.Seed == 0 {
			cfg.Seed = opts.Seed
		}
		if cfg.Logger == nil {
			cfg.Logger = opts.Logger
		}
		if cfg.Progress == nil {
			cfg.Progress = opts.Progress
		}
		return swarm.New(cfg), nil

	case AlgorithmGradient:
		cfg := gradient.DefaultConfig()
		if opts.Gradient != nil {
			cfg = *opts.Gradient
		}
		if cfg.Logger == nil {
			cfg.Logger = opts.Logger
		}
		if cfg.Progress == nil {
			cfg.Progress = opts.Progress
		}
		return gradient.New(cfg), nil

	default:
		return nil, optimization.NewErrorf("unknown algorithm %q (want one of genetic, annealing, swarm, gradient)", algorithm).
			WithComponent("dispatch")
	}
}

// Analysis is the multi-objective view of a finished run.
type Analysis struct {
	// Front is the non-dominated feasible set, sorted by crowding.
	Front []*optimization.Solution
	// Knee is the front member closest to the normalized ideal tradeoff;
	// nil when the front is empty.
	Knee *optimization.Solution
}

// Analyze extracts the Pareto front and knee point from a result. For a
// single-objective run the front collapses to the best solution.
func Analyze(result *optimization.Result) Analysis {
	if result == nil {
		return Analysis{}
	}
	pool := result.ParetoFront
	if len(pool) == 0 && result.Best != nil {
		pool = []*optimization.Solution{result.Best}
	}
	front := optimization.ParetoFront(pool)
	return Analysis{
		Front: front,
		Knee:  optimization.KneePoint(front),
	}
}
