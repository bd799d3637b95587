// Package gradient implements single-point descent over the continuous
// variables of a problem: finite-difference gradients, five update rules
// (standard, momentum, adam, rmsprop, adagrad), optional Armijo or
// golden-section line search, and projection onto box bounds.
package gradient

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/ZEPHYR/internal/optimization"
)

const (
	// convergenceWindow is the trailing-iteration window of the
	// function-value stagnation check.
	convergenceWindow = 10

	// armijoC1 is the sufficient-decrease coefficient of backtracking
	// line search; armijoMaxBacktracks caps the halvings.
	armijoC1            = 1e-4
	armijoMaxBacktracks = 20

	// goldenIterations bounds the golden-section bracketing refinement.
	goldenIterations = 30

	// Adaptive learning-rate control: shrink while the gradient norm
	// exceeds highGradNorm, grow while it is below lowGradNorm.
	highGradNorm = 1.0
	lowGradNorm  = 0.1
)

type variant int

const (
	varStandard variant = iota
	varMomentum
	varAdam
	varRMSProp
	varAdaGrad
)

type differenceScheme int

const (
	diffCentral differenceScheme = iota
	diffForward
	diffBackward
)

type lineSearch int

const (
	searchNone lineSearch = iota
	searchArmijo
	searchGolden
)

// Config holds the descent parameters. Unknown method strings fall back to
// the documented defaults and are logged at WARN.
type Config struct {
	// Variant is one of standard, momentum, adam, rmsprop, adagrad.
	// Default: standard.
	Variant string

	LearningRate float64

	// AdaptiveLearningRate shrinks the rate while the gradient norm runs
	// above 1 and grows it below 0.1, bounded to [LearningRateMin,
	// LearningRateMax].
	AdaptiveLearningRate bool
	LearningRateMin      float64
	LearningRateMax      float64

	// MomentumCoefficient is the EMA coefficient of the momentum variant.
	MomentumCoefficient float64

	// Adam moments per Kingma & Ba; Epsilon also stabilizes rmsprop and
	// adagrad normalization.
	Beta1   float64
	Beta2   float64
	Epsilon float64

	// RMSPropDecay is the squared-gradient decay of the rmsprop variant.
	RMSPropDecay float64

	// FiniteDifference is one of central, forward, backward.
	// Default: central (2 evaluations per dimension, best accuracy).
	FiniteDifference string

	// LineSearch is one of none, armijo, golden. Default: none.
	LineSearch string

	// GradientTolerance terminates the run once the gradient norm drops
	// below it.
	GradientTolerance float64

	MaxIterations int

	// InitialPoint seeds the continuous dimensions, in variable order;
	// nil starts from the box midpoint. Discrete variables are held at
	// their first allowed value throughout.
	InitialPoint []float64

	// ConstraintPolicy is one of penalty, repair, rejection, applied to
	// functional constraints. The iterate itself is always projected
	// back onto its box bounds after each step.
	ConstraintPolicy   string
	PenaltyCoefficient float64

	Logger   *zap.Logger
	Progress optimization.ProgressFunc
}

// DefaultConfig returns the parameters used when the caller leaves fields
// unset.
func DefaultConfig() Config {
	return Config{
		Variant:             "standard",
		LearningRate:        0.1,
		LearningRateMin:     1e-4,
		LearningRateMax:     1.0,
		MomentumCoefficient: 0.9,
		Beta1:               0.9,
		Beta2:               0.999,
		Epsilon:             1e-8,
		RMSPropDecay:        0.9,
		FiniteDifference:    "central",
		LineSearch:          "none",
		GradientTolerance:   1e-6,
		MaxIterations:       500,
		ConstraintPolicy:    "penalty",
		PenaltyCoefficient:  optimization.DefaultPenaltyCoefficient,
	}
}

// Optimizer runs gradient descent. One instance owns one iterate and one
// history; the method is fully deterministic, so there is no RNG stream.
type Optimizer struct {
	cfg    Config
	logger *zap.Logger

	variant variant
	scheme  differenceScheme
	search  lineSearch
	policy  optimization.ConstraintPolicy

	problem *optimization.Problem
	eval    *optimization.Evaluator
	current *optimization.Solution
	best    *optimization.Solution
	history []optimization.IterationRecord

	cont         []int // continuous variable positions
	learningRate float64
	momentum     []float64
	adamM        []float64
	adamV        []float64
	sqCache      []float64
	step         int

	cancel context.CancelFunc
}

// New builds an optimizer from cfg, filling zero fields from DefaultConfig
// and resolving method names.
func New(cfg Config) *Optimizer {
	def := DefaultConfig()
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.LearningRateMin <= 0 {
		cfg.LearningRateMin = def.LearningRateMin
	}
	if cfg.LearningRateMax <= 0 {
		cfg.LearningRateMax = def.LearningRateMax
	}
	if cfg.MomentumCoefficient <= 0 {
		cfg.MomentumCoefficient = def.MomentumCoefficient
	}
	if cfg.Beta1 <= 0 {
		cfg.Beta1 = def.Beta1
	}
	if cfg.Beta2 <= 0 {
		cfg.Beta2 = def.Beta2
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = def.Epsilon
	}
	if cfg.RMSPropDecay <= 0 {
		cfg.RMSPropDecay = def.RMSPropDecay
	}
	if cfg.GradientTolerance <= 0 {
		cfg.GradientTolerance = def.GradientTolerance
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Optimizer{
		cfg:    cfg,
		logger: logger.With(zap.String("algorithm", "gradient")),
	}
	o.variant = o.parseVariant(cfg.Variant)
	o.scheme = o.parseScheme(cfg.FiniteDifference)
	o.search = o.parseLineSearch(cfg.LineSearch)
	var known bool
	o.policy, known = optimization.ParseConstraintPolicy(cfg.ConstraintPolicy)
	if !known {
		o.logger.Warn("unknown constraint policy, falling back to penalty",
			zap.String("value", cfg.ConstraintPolicy))
	}
	return o
}

func (o *Optimizer) parseVariant(s string) variant {
	switch s {
	case "standard", "":
		return varStandard
	case "momentum":
		return varMomentum
	case "adam":
		return varAdam
	case "rmsprop":
		return varRMSProp
	case "adagrad":
		return varAdaGrad
	default:
		o.logger.Warn("unknown variant, falling back to standard",
			zap.String("value", s))
		return varStandard
	}
}

func (o *Optimizer) parseScheme(s string) differenceScheme {
	switch s {
	case "central", "":
		return diffCentral
	case "forward":
		return diffForward
	case "backward":
		return diffBackward
	default:
		o.logger.Warn("unknown finite-difference scheme, falling back to central",
			zap.String("value", s))
		return diffCentral
	}
}

func (o *Optimizer) parseLineSearch(s string) lineSearch {
	switch s {
	case "none", "":
		return searchNone
	case "armijo":
		return searchArmijo
	case "golden":
		return searchGolden
	default:
		o.logger.Warn("unknown line search, falling back to none",
			zap.String("value", s))
		return searchNone
	}
}

// Optimize descends to termination: the iteration cap, a gradient norm
// below GradientTolerance, or function-value stagnation over the trailing
// window.
func (o *Optimizer) Optimize(ctx context.Context, problem *optimization.Problem) (*optimization.Result, error) {
	if err := problem.Validate(); err != nil {
		return nil, optimization.WrapError(err, "invalid problem").WithComponent("gradient")
	}
	ctx, o.cancel = context.WithCancel(ctx)
	defer o.cancel()

	o.problem = problem
	o.eval = optimization.NewEvaluator(problem, o.policy, o.cfg.PenaltyCoefficient)
	o.history = o.history[:0]
	o.cont = problem.ContinuousIndices()
	o.learningRate = o.cfg.LearningRate
	o.momentum = make([]float64, len(o.cont))
	o.adamM = make([]float64, len(o.cont))
	o.adamV = make([]float64, len(o.cont))
	o.sqCache = make([]float64, len(o.cont))
	o.step = 0

	var warnings []string
	if len(o.cont) == 0 {
		return nil, optimization.NewError("no continuous variables to descend on").WithComponent("gradient")
	}
	if len(o.cont) < len(problem.Variables) {
		msg := fmt.Sprintf("%d discrete variable(s) held fixed; gradient descent only moves continuous variables",
			len(problem.Variables)-len(o.cont))
		warnings = append(warnings, msg)
		o.logger.Warn(msg)
	}

	iterations := o.cfg.MaxIterations
	if problem.MaxIterations > 0 {
		iterations = problem.MaxIterations
	}
	tolerance := problem.ConvergenceTolerance
	if tolerance <= 0 {
		tolerance = 1e-6
	}

	start := time.Now()

	o.current = o.initialSolution()
	o.eval.Evaluate(o.current)
	o.best = o.current.Clone()
	o.record(0)

	status := optimization.StatusMaxIterations
	gradNorm := math.Inf(1)
	for iter := 1; iter <= iterations; iter++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		grad := o.estimateGradient()
		gradNorm = floats.Norm(grad, 2)
		if gradNorm < o.cfg.GradientTolerance {
			status = optimization.StatusGradientConverged
			o.record(iter)
			break
		}

		direction := o.direction(grad)
		alpha := o.stepSize(grad, direction)
		o.advance(direction, alpha)

		if o.cfg.AdaptiveLearningRate {
			o.adaptLearningRate(gradNorm)
		}
		o.record(iter)

		if optimization.Improvement(o.history, convergenceWindow) < tolerance {
			status = optimization.StatusConverged
			break
		}
	}

	result := &optimization.Result{
		Algorithm:      "gradient",
		Status:         status,
		Best:           o.best,
		BestAssignment: problem.Assignment(o.best.Values),
		History:        append([]optimization.IterationRecord(nil), o.history...),
		Stats:          optimization.SummarizeHistory(o.history, o.eval.Evaluations(), time.Since(start)),
		Diagnostics: map[string]float64{
			"final_learning_rate": o.learningRate,
			"final_gradient_norm": gradNorm,
		},
		Warnings: warnings,
		Payload:  problem.Payload,
	}
	o.logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("iterations", len(o.history)-1),
		zap.Float64("best_fitness", o.best.Fitness),
		zap.Float64("gradient_norm", gradNorm))
	return result, nil
}

// BestSolution returns the best-ever iterate.
func (o *Optimizer) BestSolution() *optimization.Solution { return o.best }

// History returns the iteration records appended so far.
func (o *Optimizer) History() []optimization.IterationRecord { return o.history }

// Stop cancels an in-flight run.
func (o *Optimizer) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
}

// initialSolution seeds continuous dimensions from InitialPoint or the box
// midpoint; discrete variables sit at their first allowed value.
func (o *Optimizer) initialSolution() *optimization.Solution {
	values := make([]optimization.Value, len(o.problem.Variables))
	ci := 0
	for i := range o.problem.Variables {
		v := &o.problem.Variables[i]
		if v.Kind == optimization.Discrete {
			values[i] = optimization.DiscreteValue(0)
			continue
		}
		x := (v.Min + v.Max) / 2
		if ci < len(o.cfg.InitialPoint) {
			x = o.cfg.InitialPoint[ci]
		}
		values[i] = v.Clamp(optimization.ContinuousValue(x))
		ci++
	}
	return optimization.NewSolution(values)
}

// estimateGradient approximates the penalized-fitness gradient over the
// continuous dimensions with the configured difference scheme. The step is
// relative, h = 1e-6 * (1 + |x|).
func (o *Optimizer) estimateGradient() []float64 {
	grad := make([]float64, len(o.cont))
	base := o.current.Fitness
	for gi, d := range o.cont {
		x := o.current.Values[d].Real
		h := 1e-6 * (1 + math.Abs(x))
		switch o.scheme {
		case diffForward:
			grad[gi] = (o.probe(d, x+h) - base) / h
		case diffBackward:
			grad[gi] = (base - o.probe(d, x-h)) / h
		default: // central
			grad[gi] = (o.probe(d, x+h) - o.probe(d, x-h)) / (2 * h)
		}
	}
	return grad
}

// probe evaluates the fitness with dimension d displaced to x, leaving the
// iterate untouched.
func (o *Optimizer) probe(d int, x float64) float64 {
	s := o.current.Clone()
	s.ID = ""
	s.Values[d] = optimization.ContinuousValue(x)
	o.eval.Evaluate(s)
	return s.Fitness
}

// direction turns the raw gradient into the descent direction of the
// configured variant. The returned vector points uphill; advance steps
// against it.
func (o *Optimizer) direction(grad []float64) []float64 {
	o.step++
	d := make([]float64, len(grad))
	switch o.variant {
	case varMomentum:
		for i, g := range grad {
			o.momentum[i] = o.cfg.MomentumCoefficient*o.momentum[i] + (1-o.cfg.MomentumCoefficient)*g
			d[i] = o.momentum[i]
		}
	case varAdam:
		b1t := 1 - math.Pow(o.cfg.Beta1, float64(o.step))
		b2t := 1 - math.Pow(o.cfg.Beta2, float64(o.step))
		for i, g := range grad {
			o.adamM[i] = o.cfg.Beta1*o.adamM[i] + (1-o.cfg.Beta1)*g
			o.adamV[i] = o.cfg.Beta2*o.adamV[i] + (1-o.cfg.Beta2)*g*g
			mHat := o.adamM[i] / b1t
			vHat := o.adamV[i] / b2t
			d[i] = mHat / (math.Sqrt(vHat) + o.cfg.Epsilon)
		}
	case varRMSProp:
		for i, g := range grad {
			o.sqCache[i] = o.cfg.RMSPropDecay*o.sqCache[i] + (1-o.cfg.RMSPropDecay)*g*g
			d[i] = g / (math.Sqrt(o.sqCache[i]) + o.cfg.Epsilon)
		}
	case varAdaGrad:
		for i, g := range grad {
			o.sqCache[i] += g * g
			d[i] = g / (math.Sqrt(o.sqCache[i]) + o.cfg.Epsilon)
		}
	default: // standard
		copy(d, grad)
	}
	return d
}

// stepSize picks the step length along -direction: the current learning
// rate, or the configured line search.
func (o *Optimizer) stepSize(grad, direction []float64) float64 {
	switch o.search {
	case searchArmijo:
		return o.armijo(grad, direction)
	case searchGolden:
		return o.golden(direction)
	default:
		return o.learningRate
	}
}

// armijo backtracks from the learning rate until the sufficient-decrease
// condition f(x - a*d) <= f(x) - c1*a*(g.d) holds, capped at
// armijoMaxBacktracks halvings.
func (o *Optimizer) armijo(grad, direction []float64) float64 {
	alpha := o.learningRate
	slope := floats.Dot(grad, direction)
	base := o.current.Fitness
	for i := 0; i < armijoMaxBacktracks; i++ {
		if o.trialFitness(direction, alpha) <= base-armijoC1*alpha*slope {
			break
		}
		alpha /= 2
	}
	return alpha
}

// golden runs golden-section search for the step on [0, 2*learningRate].
func (o *Optimizer) golden(direction []float64) float64 {
	const invPhi = 0.6180339887498949
	lo, hi := 0.0, 2*o.learningRate
	a := hi - invPhi*(hi-lo)
	b := lo + invPhi*(hi-lo)
	fa := o.trialFitness(direction, a)
	fb := o.trialFitness(direction, b)
	for i := 0; i < goldenIterations; i++ {
		if fa < fb {
			hi, b, fb = b, a, fa
			a = hi - invPhi*(hi-lo)
			fa = o.trialFitness(direction, a)
		} else {
			lo, a, fa = a, b, fb
			b = lo + invPhi*(hi-lo)
			fb = o.trialFitness(direction, b)
		}
	}
	return (lo + hi) / 2
}

// trialFitness scores x - alpha*direction after projection, without moving
// the iterate.
func (o *Optimizer) trialFitness(direction []float64, alpha float64) float64 {
	s := o.current.Clone()
	s.ID = ""
	for gi, d := range o.cont {
		v := &o.problem.Variables[d]
		s.Values[d] = v.Clamp(optimization.ContinuousValue(s.Values[d].Real - alpha*direction[gi]))
	}
	o.eval.Evaluate(s)
	return s.Fitness
}

// advance moves the iterate one step against the direction, projecting
// each coordinate back onto its box bounds.
func (o *Optimizer) advance(direction []float64, alpha float64) {
	next := o.current.Clone()
	next.ID = ""
	for gi, d := range o.cont {
		v := &o.problem.Variables[d]
		next.Values[d] = v.Clamp(optimization.ContinuousValue(next.Values[d].Real - alpha*direction[gi]))
	}
	o.eval.Evaluate(next)
	o.current = next
	if next.Better(o.best) {
		o.best = next.Clone()
	}
}

// adaptLearningRate shrinks the rate while gradients run large and grows
// it while they run small, within the configured bounds.
func (o *Optimizer) adaptLearningRate(gradNorm float64) {
	switch {
	case gradNorm > highGradNorm:
		o.learningRate *= 0.95
	case gradNorm < lowGradNorm:
		o.learningRate *= 1.05
	}
	if o.learningRate < o.cfg.LearningRateMin {
		o.learningRate = o.cfg.LearningRateMin
	} else if o.learningRate > o.cfg.LearningRateMax {
		o.learningRate = o.cfg.LearningRateMax
	}
}

func (o *Optimizer) record(iteration int) {
	rec := optimization.Snapshot(iteration, []*optimization.Solution{o.current}, o.best.Fitness, 0)
	o.history = append(o.history, rec)
	if o.cfg.Progress != nil {
		o.cfg.Progress(rec)
	}
}
