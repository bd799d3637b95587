// Package genetic implements a generational genetic algorithm with elitist
// replacement, configurable selection, crossover and mutation operators,
// and NSGA-II ranking for multi-objective problems.
package genetic

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/ZEPHYR/internal/optimization"
)

const (
	// convergenceWindow is the number of trailing generations the
	// best-fitness improvement is measured over.
	convergenceWindow = 10

	// Adaptive mutation control: below lowDiversity the mutation rate is
	// raised by 10%, above highDiversity it is lowered by 10%, bounded to
	// [minMutationRate, maxMutationRate].
	lowDiversity    = 0.1
	highDiversity   = 0.25
	minMutationRate = 0.01
	maxMutationRate = 0.5
)

type selectionMethod int

const (
	selTournament selectionMethod = iota
	selRoulette
	selRank
	selRandom
)

type crossoverMethod int

const (
	crossSinglePoint crossoverMethod = iota
	crossTwoPoint
	crossUniform
	crossArithmetic
)

type mutationMethod int

const (
	mutGaussian mutationMethod = iota
	mutUniform
	mutPolynomial
)

// gaussianSigmaFraction sizes gaussian mutation steps as a fraction of the
// variable range.
const gaussianSigmaFraction = 0.1

// polynomialEta is the distribution index of polynomial mutation, per Deb.
const polynomialEta = 20.0

// Config holds the genetic algorithm parameters. Method names are plain
// strings so partially misconfigured campaigns keep running: unknown values
// fall back to the documented default and are logged at WARN.
type Config struct {
	PopulationSize int
	MaxGenerations int
	CrossoverRate  float64
	MutationRate   float64

	// SelectionMethod is one of tournament, roulette, rank, random.
	// Default: tournament.
	SelectionMethod string
	TournamentSize  int

	// CrossoverMethod is one of singlepoint, twopoint, uniform,
	// arithmetic. Default: twopoint.
	CrossoverMethod string

	// MutationMethod is one of gaussian, uniform, polynomial.
	// Default: gaussian.
	MutationMethod string

	// ConstraintPolicy is one of penalty, repair, rejection.
	// Default: penalty.
	ConstraintPolicy   string
	PenaltyCoefficient float64

	// AdaptiveParameters lets population diversity steer the mutation
	// rate during the run.
	AdaptiveParameters bool

	// Seed fixes the RNG stream; 0 draws a time-based seed.
	Seed int64

	Logger   *zap.Logger
	Progress optimization.ProgressFunc
}

// DefaultConfig returns the parameters used when the caller leaves fields
// unset.
func DefaultConfig() Config {
	return Config{
		PopulationSize:     50,
		MaxGenerations:     100,
		CrossoverRate:      0.8,
		MutationRate:       0.1,
		SelectionMethod:    "tournament",
		TournamentSize:     3,
		CrossoverMethod:    "twopoint",
		MutationMethod:     "gaussian",
		ConstraintPolicy:   "penalty",
		PenaltyCoefficient: optimization.DefaultPenaltyCoefficient,
	}
}

// Optimizer runs the genetic algorithm. It owns its population, history and
// RNG stream exclusively; instances are not safe for concurrent Optimize
// calls but distinct instances never share state.
type Optimizer struct {
	cfg    Config
	logger *zap.Logger
	rng    *optimization.RNG

	selection selectionMethod
	crossover crossoverMethod
	mutation  mutationMethod
	policy    optimization.ConstraintPolicy

	problem      *optimization.Problem
	eval         *optimization.Evaluator
	population   []*optimization.Solution
	best         *optimization.Solution
	history      []optimization.IterationRecord
	mutationRate float64

	cancel context.CancelFunc
}

// New builds an optimizer from cfg, filling zero fields from
// DefaultConfig and resolving method names.
func New(cfg Config) *Optimizer {
	def := DefaultConfig()
	if cfg.PopulationSize <= 0 {
		cfg.PopulationSize = def.PopulationSize
	}
	if cfg.MaxGenerations <= 0 {
		cfg.MaxGenerations = def.MaxGenerations
	}
	if cfg.CrossoverRate <= 0 {
		cfg.CrossoverRate = def.CrossoverRate
	}
	if cfg.MutationRate <= 0 {
		cfg.MutationRate = def.MutationRate
	}
	if cfg.TournamentSize <= 0 {
		cfg.TournamentSize = def.TournamentSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Optimizer{
		cfg:          cfg,
		logger:       logger.With(zap.String("algorithm", "genetic")),
		rng:          optimization.NewRNG(cfg.Seed),
		mutationRate: cfg.MutationRate,
	}
	o.selection = o.parseSelection(cfg.SelectionMethod)
	o.crossover = o.parseCrossover(cfg.CrossoverMethod)
	o.mutation = o.parseMutation(cfg.MutationMethod)
	var known bool
	o.policy, known = optimization.ParseConstraintPolicy(cfg.ConstraintPolicy)
	if !known {
		o.logger.Warn("unknown constraint policy, falling back to penalty",
			zap.String("value", cfg.ConstraintPolicy))
	}
	return o
}

func (o *Optimizer) parseSelection(s string) selectionMethod {
	switch s {
	case "tournament", "":
		return selTournament
	case "roulette":
		return selRoulette
	case "rank":
		return selRank
	case "random":
		return selRandom
	default:
		o.logger.Warn("unknown selection method, falling back to tournament",
			zap.String("value", s))
		return selTournament
	}
}

func (o *Optimizer) parseCrossover(s string) crossoverMethod {
	switch s {
	case "singlepoint":
		return crossSinglePoint
	case "twopoint", "":
		return crossTwoPoint
	case "uniform":
		return crossUniform
	case "arithmetic":
		return crossArithmetic
	default:
		o.logger.Warn("unknown crossover method, falling back to twopoint",
			zap.String("value", s))
		return crossTwoPoint
	}
}

func (o *Optimizer) parseMutation(s string) mutationMethod {
	switch s {
	case "gaussian", "":
		return mutGaussian
	case "uniform":
		return mutUniform
	case "polynomial":
		return mutPolynomial
	default:
		o.logger.Warn("unknown mutation method, falling back to gaussian",
			zap.String("value", s))
		return mutGaussian
	}
}

// Optimize evolves the population to termination: the generation cap, or a
// best-fitness improvement below tolerance over the trailing window.
func (o *Optimizer) Optimize(ctx context.Context, problem *optimization.Problem) (*optimization.Result, error) {
	if err := problem.Validate(); err != nil {
		return nil, optimization.WrapError(err, "invalid problem").WithComponent("genetic")
	}
	ctx, o.cancel = context.WithCancel(ctx)
	defer o.cancel()

	o.problem = problem
	o.eval = optimization.NewEvaluator(problem, o.policy, o.cfg.PenaltyCoefficient)
	o.best = nil
	o.history = o.history[:0]
	o.mutationRate = o.cfg.MutationRate

	generations := o.cfg.MaxGenerations
	if problem.MaxIterations > 0 {
		generations = problem.MaxIterations
	}
	tolerance := problem.ConvergenceTolerance
	if tolerance <= 0 {
		tolerance = 1e-6
	}

	start := time.Now()

	o.population = make([]*optimization.Solution, o.cfg.PopulationSize)
	for i := range o.population {
		o.population[i] = o.eval.EvaluateFresh(o.randomSolution)
		o.observe(o.population[i])
	}
	o.record(0)

	status := optimization.StatusMaxIterations
	for gen := 1; gen <= generations; gen++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		parents := o.selectParents()
		offspring := o.breed(parents)
		o.population = o.replace(o.population, offspring)

		if o.cfg.AdaptiveParameters {
			o.adaptMutationRate()
		}
		o.record(gen)

		if optimization.Improvement(o.history, convergenceWindow) < tolerance {
			status = optimization.StatusConverged
			break
		}
	}

	result := &optimization.Result{
		Algorithm:      "genetic",
		Status:         status,
		Best:           o.best,
		BestAssignment: problem.Assignment(o.best.Values),
		History:        append([]optimization.IterationRecord(nil), o.history...),
		Stats:          optimization.SummarizeHistory(o.history, o.eval.Evaluations(), time.Since(start)),
		Diagnostics: map[string]float64{
			"final_mutation_rate": o.mutationRate,
			"final_diversity":     optimization.Diversity(o.population, problem.Variables),
		},
		Payload: problem.Payload,
	}
	if problem.MultiObjective() {
		result.ParetoFront = optimization.ParetoFront(o.population)
	}
	o.logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("generations", len(o.history)-1),
		zap.Float64("best_fitness", o.best.Fitness))
	return result, nil
}

// BestSolution returns the best-ever individual.
func (o *Optimizer) BestSolution() *optimization.Solution { return o.best }

// History returns the generation records appended so far.
func (o *Optimizer) History() []optimization.IterationRecord { return o.history }

// Stop cancels an in-flight run.
func (o *Optimizer) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Optimizer) randomSolution() *optimization.Solution {
	return optimization.NewSolution(o.problem.RandomValues(o.rng))
}

// observe keeps the best-ever individual; replacement elitism means it can
// only improve.
func (o *Optimizer) observe(s *optimization.Solution) {
	if s.Better(o.best) {
		o.best = s.Clone()
	}
}

func (o *Optimizer) record(generation int) {
	diversity := optimization.Diversity(o.population, o.problem.Variables)
	rec := optimization.Snapshot(generation, o.population, o.best.Fitness, diversity)
	o.history = append(o.history, rec)
	if o.cfg.Progress != nil {
		o.cfg.Progress(rec)
	}
}

// selectParents produces PopulationSize parents with the configured method.
func (o *Optimizer) selectParents() []*optimization.Solution {
	n := o.cfg.PopulationSize
	parents := make([]*optimization.Solution, n)
	switch o.selection {
	case selRoulette:
		weights := o.rouletteWeights()
		for i := range parents {
			parents[i] = o.spin(weights)
		}
	case selRank:
		weights := o.rankWeights()
		for i := range parents {
			parents[i] = o.spin(weights)
		}
	case selRandom:
		for i := range parents {
			parents[i] = o.population[o.rng.Intn(len(o.population))]
		}
	default: // tournament
		for i := range parents {
			parents[i] = o.tournament()
		}
	}
	return parents
}

func (o *Optimizer) tournament() *optimization.Solution {
	best := o.population[o.rng.Intn(len(o.population))]
	for i := 1; i < o.cfg.TournamentSize; i++ {
		c := o.population[o.rng.Intn(len(o.population))]
		if c.Better(best) {
			best = c
		}
	}
	return best
}

// rouletteWeights inverts fitness so lower (better) values get more wheel
// area under minimization.
func (o *Optimizer) rouletteWeights() []float64 {
	worst := o.population[0].Fitness
	for _, s := range o.population {
		if s.Fitness > worst {
			worst = s.Fitness
		}
	}
	weights := make([]float64, len(o.population))
	for i, s := range o.population {
		weights[i] = worst - s.Fitness + 1e-9
	}
	return weights
}

// rankWeights assigns wheel area by sorted rank rather than raw fitness,
// which tempers premature convergence when one individual is far ahead.
func (o *Optimizer) rankWeights() []float64 {
	order := make([]int, len(o.population))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return o.population[order[a]].Fitness > o.population[order[b]].Fitness
	})
	weights := make([]float64, len(o.population))
	for pos, idx := range order {
		weights[idx] = float64(pos + 1) // worst gets 1, best gets N
	}
	return weights
}

func (o *Optimizer) spin(weights []float64) *optimization.Solution {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	target := o.rng.Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if target <= acc {
			return o.population[i]
		}
	}
	return o.population[len(o.population)-1]
}

// breed pairs parents, applies crossover with CrossoverRate, mutates each
// offspring gene-wise and evaluates the children.
func (o *Optimizer) breed(parents []*optimization.Solution) []*optimization.Solution {
	offspring := make([]*optimization.Solution, 0, len(parents))
	for i := 0; i+1 < len(parents); i += 2 {
		var c1, c2 *optimization.Solution
		if o.rng.Float64() < o.cfg.CrossoverRate {
			c1, c2 = o.recombine(parents[i], parents[i+1])
		} else {
			c1, c2 = parents[i].Clone(), parents[i+1].Clone()
		}
		offspring = append(offspring, c1, c2)
	}
	if len(parents)%2 == 1 {
		offspring = append(offspring, parents[len(parents)-1].Clone())
	}

	for idx, child := range offspring {
		o.mutate(child)
		child.ID = ""
		o.eval.Evaluate(child)
		if o.eval.Rejected(child) {
			child = o.eval.EvaluateFresh(o.randomSolution)
			offspring[idx] = child
		}
		o.observe(offspring[idx])
	}
	return offspring
}

func (o *Optimizer) recombine(p1, p2 *optimization.Solution) (*optimization.Solution, *optimization.Solution) {
	n := len(p1.Values)
	c1, c2 := p1.Clone(), p2.Clone()
	if n < 2 {
		return c1, c2
	}
	switch o.crossover {
	case crossSinglePoint:
		cut := 1 + o.rng.Intn(n-1)
		for k := cut; k < n; k++ {
			c1.Values[k], c2.Values[k] = p2.Values[k], p1.Values[k]
		}
	case crossUniform:
		for k := 0; k < n; k++ {
			if o.rng.Float64() < 0.5 {
				c1.Values[k], c2.Values[k] = p2.Values[k], p1.Values[k]
			}
		}
	case crossArithmetic:
		// Convex blend on continuous genes; discrete genes inherit by
		// coin flip since a blend of indices has no meaning.
		alpha := o.rng.Float64()
		for k := 0; k < n; k++ {
			v := &o.problem.Variables[k]
			if v.Kind == optimization.Continuous {
				a, b := p1.Values[k].Real, p2.Values[k].Real
				c1.Values[k] = v.Clamp(optimization.ContinuousValue(alpha*a + (1-alpha)*b))
				c2.Values[k] = v.Clamp(optimization.ContinuousValue((1-alpha)*a + alpha*b))
			} else if o.rng.Float64() < 0.5 {
				c1.Values[k], c2.Values[k] = p2.Values[k], p1.Values[k]
			}
		}
	default: // two-point
		a, b := 1+o.rng.Intn(n-1), 1+o.rng.Intn(n-1)
		if a > b {
			a, b = b, a
		}
		for k := a; k < b; k++ {
			c1.Values[k], c2.Values[k] = p2.Values[k], p1.Values[k]
		}
	}
	return c1, c2
}

// mutate perturbs each gene independently with the current mutation rate.
func (o *Optimizer) mutate(s *optimization.Solution) {
	for k := range s.Values {
		if o.rng.Float64() >= o.mutationRate {
			continue
		}
		v := &o.problem.Variables[k]
		switch o.mutation {
		case mutUniform:
			s.Values[k] = v.Sample(o.rng)
		case mutPolynomial:
			if v.Kind == optimization.Continuous {
				s.Values[k] = v.Clamp(optimization.ContinuousValue(
					s.Values[k].Real + o.polynomialDelta()*v.Range()))
			} else {
				s.Values[k] = v.Sample(o.rng)
			}
		default: // gaussian
			if v.Kind == optimization.Continuous {
				sigma := gaussianSigmaFraction * v.Range()
				s.Values[k] = v.Clamp(optimization.ContinuousValue(
					s.Values[k].Real + o.rng.NormFloat64()*sigma))
			} else {
				step := int(o.rng.NormFloat64() * math.Max(1, gaussianSigmaFraction*v.Range()))
				if step == 0 {
					if o.rng.Float64() < 0.5 {
						step = -1
					} else {
						step = 1
					}
				}
				s.Values[k] = v.Clamp(optimization.DiscreteValue(s.Values[k].Index + step))
			}
		}
	}
}

// polynomialDelta draws the bounded perturbation of polynomial mutation
// with distribution index polynomialEta, per Deb's formulation.
func (o *Optimizer) polynomialDelta() float64 {
	u := o.rng.Float64()
	if u < 0.5 {
		return math.Pow(2*u, 1/(polynomialEta+1)) - 1
	}
	return 1 - math.Pow(2*(1-u), 1/(polynomialEta+1))
}

// replace merges parents and offspring and keeps the best PopulationSize
// individuals: plain elitist truncation for single-objective problems,
// NSGA-II rank plus crowding-distance truncation for multi-objective ones.
func (o *Optimizer) replace(parents, offspring []*optimization.Solution) []*optimization.Solution {
	merged := make([]*optimization.Solution, 0, len(parents)+len(offspring))
	merged = append(merged, parents...)
	merged = append(merged, offspring...)

	if o.problem.MultiObjective() {
		fronts := optimization.NonDominatedSort(merged)
		next := make([]*optimization.Solution, 0, o.cfg.PopulationSize)
		for _, front := range fronts {
			optimization.CrowdingDistance(front)
			if len(next)+len(front) <= o.cfg.PopulationSize {
				next = append(next, front...)
				continue
			}
			sort.SliceStable(front, func(a, b int) bool {
				return optimization.CrowdedLess(front[a], front[b])
			})
			next = append(next, front[:o.cfg.PopulationSize-len(next)]...)
			break
		}
		return next
	}

	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].Better(merged[b])
	})
	return merged[:o.cfg.PopulationSize]
}

// adaptMutationRate nudges the mutation rate against population diversity.
func (o *Optimizer) adaptMutationRate() {
	diversity := optimization.Diversity(o.population, o.problem.Variables)
	switch {
	case diversity < lowDiversity:
		o.mutationRate *= 1.1
	case diversity > highDiversity:
		o.mutationRate *= 0.9
	}
	if o.mutationRate < minMutationRate {
		o.mutationRate = minMutationRate
	} else if o.mutationRate > maxMutationRate {
		o.mutationRate = maxMutationRate
	}
}
