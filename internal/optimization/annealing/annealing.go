// Package annealing implements single-point simulated annealing with
// configurable cooling schedules, acceptance criteria, neighborhood
// distributions, adaptive step control and best-preserving restarts.
package annealing

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/ZEPHYR/internal/optimization"
)

const (
	// targetAcceptance is the running acceptance rate the adaptive cooling
	// schedule and adaptive neighborhood both steer toward.
	targetAcceptance = 0.4

	// stagnationWindow/stagnationVariance terminate a run whose best
	// fitness has flatlined, when no restarts remain.
	stagnationWindow   = 50
	stagnationVariance = 1e-6

	// restartWindow/restartVariance trigger a restart from a fresh random
	// solution while restarts remain.
	restartWindow   = 100
	restartVariance = 1e-6

	minNeighborhood = 1e-3
	maxNeighborhood = 1.0
)

type coolingMethod int

const (
	coolExponential coolingMethod = iota
	coolLinear
	coolLogarithmic
	coolAdaptive
)

type acceptanceCriterion int

const (
	accMetropolis acceptanceCriterion = iota
	accBoltzmann
	accFast
)

type neighborhoodDistribution int

const (
	nbhGaussian neighborhoodDistribution = iota
	nbhUniform
	nbhCauchy
)

// Config holds the annealing parameters. Unknown method strings fall back
// to the documented defaults and are logged at WARN.
type Config struct {
	InitialTemperature float64
	FinalTemperature   float64
	MaxIterations      int

	// CoolingMethod is one of exponential, linear, logarithmic, adaptive.
	// Default: exponential.
	CoolingMethod string
	// CoolingRate is the per-iteration decay factor of the exponential
	// schedule and the base rate of the adaptive one.
	CoolingRate float64

	// AcceptanceCriterion is one of metropolis, boltzmann, fast.
	// Default: metropolis.
	AcceptanceCriterion string

	// NeighborhoodSize is the perturbation step as a fraction of the
	// chosen variable's range.
	NeighborhoodSize float64
	// NeighborhoodDistribution is one of gaussian, uniform, cauchy.
	// Default: gaussian.
	NeighborhoodDistribution string
	// AdaptiveNeighborhood tunes NeighborhoodSize toward the target
	// acceptance rate during the run.
	AdaptiveNeighborhood bool

	// RestartEnabled re-seeds the search from a fresh random solution at
	// RestartTemperature when the best fitness flatlines, up to
	// MaxRestarts times. The best-ever solution survives every restart.
	RestartEnabled     bool
	RestartTemperature float64
	MaxRestarts        int

	// ConstraintPolicy is one of penalty, repair, rejection.
	ConstraintPolicy   string
	PenaltyCoefficient float64

	// Seed fixes the RNG stream; 0 draws a time-based seed.
	Seed int64

	Logger   *zap.Logger
	Progress optimization.ProgressFunc
}

// DefaultConfig returns the parameters used when the caller leaves fields
// unset.
func DefaultConfig() Config {
	return Config{
		InitialTemperature:       100,
		FinalTemperature:         1e-3,
		MaxIterations:            1000,
		CoolingMethod:            "exponential",
		CoolingRate:              0.95,
		AcceptanceCriterion:      "metropolis",
		NeighborhoodSize:         0.1,
		NeighborhoodDistribution: "gaussian",
		RestartTemperature:       50,
		MaxRestarts:              3,
		ConstraintPolicy:         "penalty",
		PenaltyCoefficient:       optimization.DefaultPenaltyCoefficient,
	}
}

// moveCounters tracks the move statistics reported in diagnostics and
// consumed by the adaptive schedules.
type moveCounters struct {
	accepted  int
	rejected  int
	improving int
	worsening int
	restarts  int
}

// Optimizer runs simulated annealing. One instance owns one iterate, one
// history and one RNG stream.
type Optimizer struct {
	cfg    Config
	logger *zap.Logger
	rng    *optimization.RNG

	cooling   coolingMethod
	criterion acceptanceCriterion
	dist      neighborhoodDistribution
	policy    optimization.ConstraintPolicy

	problem      *optimization.Problem
	eval         *optimization.Evaluator
	current      *optimization.Solution
	best         *optimization.Solution
	history      []optimization.IterationRecord
	temperature  float64
	neighborhood float64
	budget       int
	acceptEMA    float64
	counters     moveCounters
	lastRestart  int

	cancel context.CancelFunc
}

// New builds an optimizer from cfg, filling zero fields from DefaultConfig
// and resolving method names.
func New(cfg Config) *Optimizer {
	def := DefaultConfig()
	if cfg.InitialTemperature <= 0 {
		cfg.InitialTemperature = def.InitialTemperature
	}
	if cfg.FinalTemperature <= 0 {
		cfg.FinalTemperature = def.FinalTemperature
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.CoolingRate <= 0 || cfg.CoolingRate >= 1 {
		cfg.CoolingRate = def.CoolingRate
	}
	if cfg.NeighborhoodSize <= 0 {
		cfg.NeighborhoodSize = def.NeighborhoodSize
	}
	if cfg.RestartTemperature <= 0 {
		cfg.RestartTemperature = cfg.InitialTemperature / 2
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = def.MaxRestarts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Optimizer{
		cfg:    cfg,
		logger: logger.With(zap.String("algorithm", "annealing")),
		rng:    optimization.NewRNG(cfg.Seed),
	}
	o.cooling = o.parseCooling(cfg.CoolingMethod)
	o.criterion = o.parseCriterion(cfg.AcceptanceCriterion)
	o.dist = o.parseDistribution(cfg.NeighborhoodDistribution)
	var known bool
	o.policy, known = optimization.ParseConstraintPolicy(cfg.ConstraintPolicy)
	if !known {
		o.logger.Warn("unknown constraint policy, falling back to penalty",
			zap.String("value", cfg.ConstraintPolicy))
	}
	return o
}

func (o *Optimizer) parseCooling(s string) coolingMethod {
	switch s {
	case "exponential", "":
		return coolExponential
	case "linear":
		return coolLinear
	case "logarithmic":
		return coolLogarithmic
	case "adaptive":
		return coolAdaptive
	default:
		o.logger.Warn("unknown cooling method, falling back to exponential",
			zap.String("value", s))
		return coolExponential
	}
}

func (o *Optimizer) parseCriterion(s string) acceptanceCriterion {
	switch s {
	case "metropolis", "":
		return accMetropolis
	case "boltzmann":
		return accBoltzmann
	case "fast":
		return accFast
	default:
		o.logger.Warn("unknown acceptance criterion, falling back to metropolis",
			zap.String("value", s))
		return accMetropolis
	}
}

func (o *Optimizer) parseDistribution(s string) neighborhoodDistribution {
	switch s {
	case "gaussian", "":
		return nbhGaussian
	case "uniform":
		return nbhUniform
	case "cauchy":
		return nbhCauchy
	default:
		o.logger.Warn("unknown neighborhood distribution, falling back to gaussian",
			zap.String("value", s))
		return nbhGaussian
	}
}

// Optimize anneals to termination: the iteration cap, the temperature
// floor, or best-fitness stagnation once restarts are exhausted.
func (o *Optimizer) Optimize(ctx context.Context, problem *optimization.Problem) (*optimization.Result, error) {
	if err := problem.Validate(); err != nil {
		return nil, optimization.WrapError(err, "invalid problem").WithComponent("annealing")
	}
	ctx, o.cancel = context.WithCancel(ctx)
	defer o.cancel()

	o.problem = problem
	o.eval = optimization.NewEvaluator(problem, o.policy, o.cfg.PenaltyCoefficient)
	o.history = o.history[:0]
	o.temperature = o.cfg.InitialTemperature
	o.neighborhood = o.cfg.NeighborhoodSize
	o.acceptEMA = 0.5
	o.counters = moveCounters{}
	o.lastRestart = 0

	iterations := o.cfg.MaxIterations
	if problem.MaxIterations > 0 {
		iterations = problem.MaxIterations
	}
	o.budget = iterations

	start := time.Now()

	o.current = o.eval.EvaluateFresh(func() *optimization.Solution {
		return optimization.NewSolution(problem.RandomValues(o.rng))
	})
	o.best = o.current.Clone()
	o.record(0)

	status := optimization.StatusMaxIterations
	for iter := 1; iter <= iterations; iter++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		o.step()
		o.coolDown(iter)
		if o.cfg.AdaptiveNeighborhood {
			o.adaptNeighborhood()
		}
		o.record(iter)

		if o.temperature <= o.cfg.FinalTemperature {
			status = optimization.StatusTemperatureFloor
			break
		}
		if o.maybeRestart(iter) {
			continue
		}
		if !o.restartsRemain() &&
			optimization.BestFitnessVariance(o.history, stagnationWindow) < stagnationVariance {
			status = optimization.StatusStagnated
			break
		}
	}

	result := &optimization.Result{
		Algorithm:      "annealing",
		Status:         status,
		Best:           o.best,
		BestAssignment: problem.Assignment(o.best.Values),
		History:        append([]optimization.IterationRecord(nil), o.history...),
		Stats:          optimization.SummarizeHistory(o.history, o.eval.Evaluations(), time.Since(start)),
		Diagnostics: map[string]float64{
			"final_temperature":       o.temperature,
			"final_neighborhood_size": o.neighborhood,
			"acceptance_rate":         o.acceptEMA,
			"accepted_moves":          float64(o.counters.accepted),
			"rejected_moves":          float64(o.counters.rejected),
			"improving_moves":         float64(o.counters.improving),
			"worsening_moves":         float64(o.counters.worsening),
			"restarts":                float64(o.counters.restarts),
		},
		Payload: problem.Payload,
	}
	o.logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("iterations", len(o.history)-1),
		zap.Float64("best_fitness", o.best.Fitness),
		zap.Float64("final_temperature", o.temperature))
	return result, nil
}

// BestSolution returns the best-ever iterate, preserved across restarts.
func (o *Optimizer) BestSolution() *optimization.Solution { return o.best }

// History returns the iteration records appended so far.
func (o *Optimizer) History() []optimization.IterationRecord { return o.history }

// Stop cancels an in-flight run.
func (o *Optimizer) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
}

// step proposes one neighbor and applies the acceptance criterion.
func (o *Optimizer) step() {
	neighbor := o.neighbor()
	o.eval.Evaluate(neighbor)
	if o.eval.Rejected(neighbor) {
		o.counters.rejected++
		o.observeAcceptance(false)
		return
	}

	delta := neighbor.Fitness - o.current.Fitness
	accept := delta <= 0 || o.rng.Float64() < acceptProbability(o.criterion, delta, o.temperature)
	if accept {
		o.counters.accepted++
		if delta < 0 {
			o.counters.improving++
		} else if delta > 0 {
			o.counters.worsening++
		}
		o.current = neighbor
		if neighbor.Better(o.best) {
			o.best = neighbor.Clone()
		}
	} else {
		o.counters.rejected++
	}
	o.observeAcceptance(accept)
}

// neighbor perturbs exactly one randomly chosen variable of the current
// solution.
func (o *Optimizer) neighbor() *optimization.Solution {
	n := o.current.Clone()
	n.ID = ""
	k := o.rng.Intn(len(n.Values))
	v := &o.problem.Variables[k]

	if v.Kind == optimization.Discrete {
		// Perturb within an index window sized by the neighborhood
		// fraction.
		window := int(math.Max(1, math.Round(o.neighborhood*float64(len(v.Values)))))
		step := o.rng.Intn(2*window+1) - window
		if step == 0 {
			step = 1
		}
		n.Values[k] = v.Clamp(optimization.DiscreteValue(n.Values[k].Index + step))
		return n
	}

	var draw float64
	switch o.dist {
	case nbhUniform:
		draw = 2*o.rng.Float64() - 1
	case nbhCauchy:
		draw = o.rng.CauchyFloat64()
	default:
		draw = o.rng.NormFloat64()
	}
	n.Values[k] = v.Clamp(optimization.ContinuousValue(
		n.Values[k].Real + draw*o.neighborhood*v.Range()))
	return n
}

// acceptProbability returns the probability of accepting a worsening move.
// It is exactly 1 for delta <= 0 under every criterion, which keeps
// zero-cost moves deterministic.
func acceptProbability(criterion acceptanceCriterion, delta, temperature float64) float64 {
	if delta <= 0 {
		return 1
	}
	if temperature <= 0 {
		return 0
	}
	switch criterion {
	case accBoltzmann:
		return 1 / (1 + math.Exp(delta/temperature))
	case accFast:
		return temperature / (temperature + delta)
	default: // metropolis
		return math.Exp(-delta / temperature)
	}
}

// coolDown updates the temperature per the configured schedule. The
// temperature never rises except through an explicit restart.
func (o *Optimizer) coolDown(iter int) {
	switch o.cooling {
	case coolLinear:
		// The step is sized by the effective budget, which the problem's
		// iteration bound may shrink below the configured one, so the
		// decay still lands on the floor at the end of the run.
		step := (o.cfg.InitialTemperature - o.cfg.FinalTemperature) / float64(o.budget)
		o.temperature = math.Max(o.cfg.FinalTemperature, o.temperature-step)
	case coolLogarithmic:
		o.temperature = o.cfg.InitialTemperature / math.Log(math.E+float64(iter))
	case coolAdaptive:
		// Cool faster while acceptance runs hot, slower while it runs
		// cold, steering the running rate toward the target.
		if o.acceptEMA > targetAcceptance {
			o.temperature *= o.cfg.CoolingRate
		} else {
			o.temperature *= math.Sqrt(o.cfg.CoolingRate)
		}
	default: // exponential
		o.temperature *= o.cfg.CoolingRate
	}
}

// observeAcceptance folds one accept/reject outcome into the running rate.
func (o *Optimizer) observeAcceptance(accepted bool) {
	x := 0.0
	if accepted {
		x = 1
	}
	o.acceptEMA = 0.9*o.acceptEMA + 0.1*x
}

// adaptNeighborhood widens steps while acceptance runs hot and narrows
// them while it runs cold, toward the same target rate the adaptive
// schedule uses.
func (o *Optimizer) adaptNeighborhood() {
	if o.acceptEMA > targetAcceptance {
		o.neighborhood *= 1.05
	} else {
		o.neighborhood *= 0.95
	}
	if o.neighborhood < minNeighborhood {
		o.neighborhood = minNeighborhood
	} else if o.neighborhood > maxNeighborhood {
		o.neighborhood = maxNeighborhood
	}
}

func (o *Optimizer) restartsRemain() bool {
	return o.cfg.RestartEnabled && o.counters.restarts < o.cfg.MaxRestarts
}

// maybeRestart re-seeds the search when the best fitness has flatlined over
// the restart window. The best-ever solution is never touched.
func (o *Optimizer) maybeRestart(iter int) bool {
	if !o.restartsRemain() || iter-o.lastRestart < restartWindow {
		return false
	}
	if optimization.BestFitnessVariance(o.history, restartWindow) >= restartVariance {
		return false
	}
	o.current = o.eval.EvaluateFresh(func() *optimization.Solution {
		return optimization.NewSolution(o.problem.RandomValues(o.rng))
	})
	if o.current.Better(o.best) {
		o.best = o.current.Clone()
	}
	o.temperature = o.cfg.RestartTemperature
	o.counters.restarts++
	o.lastRestart = iter
	o.logger.Debug("restarted from random solution",
		zap.Int("iteration", iter),
		zap.Int("restart", o.counters.restarts))
	return true
}

func (o *Optimizer) record(iteration int) {
	rec := optimization.Snapshot(iteration, []*optimization.Solution{o.current}, o.best.Fitness, 0)
	o.history = append(o.history, rec)
	if o.cfg.Progress != nil {
		o.cfg.Progress(rec)
	}
}
