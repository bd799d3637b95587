// Package swarm implements particle swarm optimization with configurable
// neighborhood topologies, boundary handling, optional linear inertia
// annealing and stagnation-driven reinitialization.
package swarm

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/ZEPHYR/internal/optimization"
)

const (
	// convergenceWindow is the trailing-iteration window of the
	// best-fitness improvement check, matching the genetic engine.
	convergenceWindow = 20

	// stagnationLimit reinitializes a particle whose personal best has
	// not improved for this many consecutive evaluations.
	stagnationLimit = 20

	// discreteJumpProbability is the per-step chance of resampling a
	// discrete gene; discrete dimensions carry no velocity.
	discreteJumpProbability = 0.1
)

type topology int

const (
	topoGlobal topology = iota
	topoRing
	topoStar
	topoRandom
)

type boundaryHandling int

const (
	boundAbsorb boundaryHandling = iota
	boundReflect
	boundRandom
)

// Config holds the swarm parameters. Unknown method strings fall back to
// the documented defaults and are logged at WARN.
type Config struct {
	SwarmSize     int
	MaxIterations int

	// InertiaWeight is the fixed w unless LinearInertiaDecay anneals it
	// from InertiaWeightMax down to InertiaWeightMin over the run.
	InertiaWeight      float64
	InertiaWeightMax   float64
	InertiaWeightMin   float64
	LinearInertiaDecay bool

	CognitiveWeight float64
	SocialWeight    float64

	// MaxVelocity clamps each velocity component to this fraction of the
	// dimension's range.
	MaxVelocity float64

	// Topology is one of global, ring, star, random. Default: global.
	Topology string
	// NeighborhoodSize is the ring window radius and the random-topology
	// neighbor count.
	NeighborhoodSize int

	// BoundaryHandling is one of absorb, reflect, random.
	// Default: absorb.
	BoundaryHandling string

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
		SwarmSize:          30,
		MaxIterations:      200,
		InertiaWeight:      0.7,
		InertiaWeightMax:   0.9,
		InertiaWeightMin:   0.4,
		CognitiveWeight:    1.5,
		SocialWeight:       1.5,
		MaxVelocity:        0.2,
		Topology:           "global",
		NeighborhoodSize:   2,
		BoundaryHandling:   "absorb",
		ConstraintPolicy:   "penalty",
		PenaltyCoefficient: optimization.DefaultPenaltyCoefficient,
	}
}

// particle carries position, velocity and personal best. Velocity entries
// for discrete dimensions stay zero; those genes move by probabilistic
// resampling instead.
type particle struct {
	current      *optimization.Solution
	velocity     []float64
	personalBest *optimization.Solution
	neighbors    []int
	stagnation   int
}

// Optimizer runs particle swarm optimization. One instance owns one swarm,
// one history and one RNG stream.
type Optimizer struct {
	cfg    Config
	logger *zap.Logger
	rng    *optimization.RNG

	topo   topology
	bound  boundaryHandling
	policy optimization.ConstraintPolicy

	problem   *optimization.Problem
	eval      *optimization.Evaluator
	particles []*particle
	best      *optimization.Solution
	history   []optimization.IterationRecord
	inertia   float64
	reinits   int

	cancel context.CancelFunc
}

// New builds an optimizer from cfg, filling zero fields from DefaultConfig
// and resolving method names.
func New(cfg Config) *Optimizer {
	def := DefaultConfig()
	if cfg.SwarmSize <= 0 {
		cfg.SwarmSize = def.SwarmSize
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.InertiaWeight <= 0 {
		cfg.InertiaWeight = def.InertiaWeight
	}
	if cfg.InertiaWeightMax <= 0 {
		cfg.InertiaWeightMax = def.InertiaWeightMax
	}
	if cfg.InertiaWeightMin <= 0 {
		cfg.InertiaWeightMin = def.InertiaWeightMin
	}
	if cfg.CognitiveWeight <= 0 {
		cfg.CognitiveWeight = def.CognitiveWeight
	}
	if cfg.SocialWeight <= 0 {
		cfg.SocialWeight = def.SocialWeight
	}
	if cfg.MaxVelocity <= 0 {
		cfg.MaxVelocity = def.MaxVelocity
	}
	if cfg.NeighborhoodSize <= 0 {
		cfg.NeighborhoodSize = def.NeighborhoodSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Optimizer{
		cfg:    cfg,
		logger: logger.With(zap.String("algorithm", "swarm")),
		rng:    optimization.NewRNG(cfg.Seed),
	}
	o.topo = o.parseTopology(cfg.Topology)
	o.bound = o.parseBoundary(cfg.BoundaryHandling)
	var known bool
	o.policy, known = optimization.ParseConstraintPolicy(cfg.ConstraintPolicy)
	if !known {
		o.logger.Warn("unknown constraint policy, falling back to penalty",
			zap.String("value", cfg.ConstraintPolicy))
	}
	return o
}

func (o *Optimizer) parseTopology(s string) topology {
	switch s {
	case "global", "":
		return topoGlobal
	case "ring", "local":
		return topoRing
	case "star":
		return topoStar
	case "random":
		return topoRandom
	default:
		o.logger.Warn("unknown topology, falling back to global",
			zap.String("value", s))
		return topoGlobal
	}
}

func (o *Optimizer) parseBoundary(s string) boundaryHandling {
	switch s {
	case "absorb", "invisible", "":
		return boundAbsorb
	case "reflect":
		return boundReflect
	case "random":
		return boundRandom
	default:
		o.logger.Warn("unknown boundary handling, falling back to absorb",
			zap.String("value", s))
		return boundAbsorb
	}
}

// Optimize flies the swarm to termination: the iteration cap or a windowed
// best-fitness improvement below tolerance.
func (o *Optimizer) Optimize(ctx context.Context, problem *optimization.Problem) (*optimization.Result, error) {
	if err := problem.Validate(); err != nil {
		return nil, optimization.WrapError(err, "invalid problem").WithComponent("swarm")
	}
	ctx, o.cancel = context.WithCancel(ctx)
	defer o.cancel()

	o.problem = problem
	o.eval = optimization.NewEvaluator(problem, o.policy, o.cfg.PenaltyCoefficient)
	o.best = nil
	o.history = o.history[:0]
	o.inertia = o.cfg.InertiaWeight
	o.reinits = 0

	iterations := o.cfg.MaxIterations
	if problem.MaxIterations > 0 {
		iterations = problem.MaxIterations
	}
	tolerance := problem.ConvergenceTolerance
	if tolerance <= 0 {
		tolerance = 1e-6
	}

	start := time.Now()
	o.initSwarm()
	o.record(0)

	status := optimization.StatusMaxIterations
	for iter := 1; iter <= iterations; iter++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if o.cfg.LinearInertiaDecay {
			frac := float64(iter) / float64(iterations)
			o.inertia = o.cfg.InertiaWeightMax - frac*(o.cfg.InertiaWeightMax-o.cfg.InertiaWeightMin)
		}
		for i, p := range o.particles {
			o.move(i, p)
		}
		o.record(iter)

		if optimization.Improvement(o.history, convergenceWindow) < tolerance {
			status = optimization.StatusConverged
			break
		}
	}

	result := &optimization.Result{
		Algorithm:      "swarm",
		Status:         status,
		Best:           o.best,
		BestAssignment: problem.Assignment(o.best.Values),
		History:        append([]optimization.IterationRecord(nil), o.history...),
		Stats:          optimization.SummarizeHistory(o.history, o.eval.Evaluations(), time.Since(start)),
		Diagnostics: map[string]float64{
			"final_inertia_weight": o.inertia,
			"reinitializations":    float64(o.reinits),
			"final_diversity":      o.swarmDiversity(),
		},
		Payload: problem.Payload,
	}
	o.logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("iterations", len(o.history)-1),
		zap.Float64("best_fitness", o.best.Fitness))
	return result, nil
}

// BestSolution returns the swarm-wide best-ever position.
func (o *Optimizer) BestSolution() *optimization.Solution { return o.best }

// History returns the iteration records appended so far.
func (o *Optimizer) History() []optimization.IterationRecord { return o.history }

// Stop cancels an in-flight run.
func (o *Optimizer) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *Optimizer) initSwarm() {
	n := o.cfg.SwarmSize
	o.particles = make([]*particle, n)
	for i := 0; i < n; i++ {
		sol := o.eval.EvaluateFresh(func() *optimization.Solution {
			return optimization.NewSolution(o.problem.RandomValues(o.rng))
		})
		p := &particle{
			current:      sol,
			velocity:     make([]float64, len(o.problem.Variables)),
			personalBest: sol.Clone(),
		}
		// Initial velocity: a fraction of the clamp ceiling, so the first
		// step explores without overshooting.
		for d := range o.problem.Variables {
			v := &o.problem.Variables[d]
			if v.Kind == optimization.Continuous {
				limit := o.cfg.MaxVelocity * v.Range()
				p.velocity[d] = (2*o.rng.Float64() - 1) * limit / 2
			}
		}
		o.particles[i] = p
		if sol.Better(o.best) {
			o.best = sol.Clone()
		}
	}
	o.wireNeighbors()
}

// wireNeighbors fixes each particle's neighbor ID set at setup. Ring uses a
// sliding index window; random draws NeighborhoodSize distinct peers; the
// global and star topologies need no per-particle wiring.
func (o *Optimizer) wireNeighbors() {
	n := len(o.particles)
	switch o.topo {
	case topoRing:
		for i, p := range o.particles {
			for d := 1; d <= o.cfg.NeighborhoodSize; d++ {
				p.neighbors = append(p.neighbors, ((i-d)%n+n)%n, (i+d)%n)
			}
		}
	case topoRandom:
		for _, p := range o.particles {
			perm := o.rng.Perm(n)
			count := o.cfg.NeighborhoodSize
			if count > n {
				count = n
			}
			p.neighbors = append(p.neighbors, perm[:count]...)
		}
	}
}

// neighborhoodBest resolves the social attractor for particle i under the
// configured topology.
func (o *Optimizer) neighborhoodBest(i int) *optimization.Solution {
	switch o.topo {
	case topoRing, topoRandom:
		best := o.particles[i].personalBest
		for _, j := range o.particles[i].neighbors {
			if o.particles[j].personalBest.Better(best) {
				best = o.particles[j].personalBest
			}
		}
		return best
	case topoStar:
		// Every particle references the single current best particle.
		best := o.particles[0].current
		for _, p := range o.particles[1:] {
			if p.current.Better(best) {
				best = p.current
			}
		}
		return best
	default: // global
		return o.best
	}
}

// move advances one particle: velocity update, clamped position step,
// boundary handling, probabilistic discrete jumps, evaluation and
// personal/global best bookkeeping.
func (o *Optimizer) move(idx int, p *particle) {
	nBest := o.neighborhoodBest(idx)

	next := p.current.Clone()
	next.ID = ""
	for d := range o.problem.Variables {
		v := &o.problem.Variables[d]
		if v.Kind == optimization.Discrete {
			if o.rng.Float64() < discreteJumpProbability {
				next.Values[d] = v.Sample(o.rng)
			}
			continue
		}

		r1, r2 := o.rng.Float64(), o.rng.Float64()
		vel := o.inertia*p.velocity[d] +
			o.cfg.CognitiveWeight*r1*(p.personalBest.Values[d].Real-next.Values[d].Real) +
			o.cfg.SocialWeight*r2*(nBest.Values[d].Real-next.Values[d].Real)

		limit := o.cfg.MaxVelocity * v.Range()
		if vel > limit {
			vel = limit
		} else if vel < -limit {
			vel = -limit
		}
		p.velocity[d] = vel

		pos := next.Values[d].Real + vel
		if pos < v.Min || pos > v.Max {
			pos = o.handleBoundary(p, d, pos, v)
		}
		next.Values[d] = optimization.ContinuousValue(pos)
	}

	o.eval.Evaluate(next)
	if o.eval.Rejected(next) {
		next = o.eval.EvaluateFresh(func() *optimization.Solution {
			return optimization.NewSolution(o.problem.RandomValues(o.rng))
		})
	}
	p.current = next

	// Personal and global bests only ever improve.
	if next.Better(p.personalBest) {
		p.personalBest = next.Clone()
		p.stagnation = 0
	} else {
		p.stagnation++
		if p.stagnation > stagnationLimit {
			o.reinitialize(p)
		}
	}
	if p.current.Better(o.best) {
		o.best = p.current.Clone()
	}
}

// handleBoundary resolves a position component that left [Min, Max].
func (o *Optimizer) handleBoundary(p *particle, d int, pos float64, v *optimization.Variable) float64 {
	switch o.bound {
	case boundReflect:
		// Mirror back across the violated boundary and reverse the
		// velocity component.
		if pos > v.Max {
			pos = v.Max - (pos - v.Max)
		} else {
			pos = v.Min + (v.Min - pos)
		}
		p.velocity[d] = -p.velocity[d]
		// A very large overshoot can mirror past the far bound; clamp.
		return math.Max(v.Min, math.Min(v.Max, pos))
	case boundRandom:
		return v.Min + o.rng.Float64()*v.Range()
	default: // absorb
		p.velocity[d] = 0
		return math.Max(v.Min, math.Min(v.Max, pos))
	}
}

// reinitialize scatters a stagnant particle to a fresh random position,
// keeping its personal best.
func (o *Optimizer) reinitialize(p *particle) {
	sol := o.eval.EvaluateFresh(func() *optimization.Solution {
		return optimization.NewSolution(o.problem.RandomValues(o.rng))
	})
	p.current = sol
	for d := range p.velocity {
		p.velocity[d] = 0
	}
	p.stagnation = 0
	o.reinits++
	if sol.Better(p.personalBest) {
		p.personalBest = sol.Clone()
	}
	if sol.Better(o.best) {
		o.best = sol.Clone()
	}
}

func (o *Optimizer) swarmDiversity() float64 {
	positions := make([]*optimization.Solution, len(o.particles))
	for i, p := range o.particles {
		positions[i] = p.current
	}
	return optimization.Diversity(positions, o.problem.Variables)
}

func (o *Optimizer) record(iteration int) {
	positions := make([]*optimization.Solution, len(o.particles))
	for i, p := range o.particles {
		positions[i] = p.current
	}
	rec := optimization.Snapshot(iteration, positions, o.best.Fitness, o.swarmDiversity())
	o.history = append(o.history, rec)
	if o.cfg.Progress != nil {
		o.cfg.Progress(rec)
	}
}
