package server

import (
	"math"
	"sort"
	"sync"

	"github.com/copyleftdev/ZEPHYR/internal/optimization"
)

// ObjectiveBuilder constructs the objectives and constraints of a named
// benchmark for a concrete variable list. The builder closes over the
// declared continuous variable names so evaluation order is positional,
// not map order.
type ObjectiveBuilder func(vars []optimization.Variable) ([]optimization.Objective, []optimization.Constraint, error)

var (
	objectivesMu sync.RWMutex
	objectives   = map[string]ObjectiveBuilder{
		"sphere":             buildSphere,
		"rosenbrock":         buildRosenbrock,
		"rastrigin":          buildRastrigin,
		"ackley":             buildAckley,
		"constrained_sphere": buildConstrainedSphere,
	}
)

// RegisterObjective adds a named objective to the registry, replacing any
// previous builder under the same name. Embedding callers use it to expose
// their own objectives over the API.
func RegisterObjective(name string, builder ObjectiveBuilder) {
	objectivesMu.Lock()
	defer objectivesMu.Unlock()
	objectives[name] = builder
}

// ObjectiveNames lists the registered objectives, sorted.
func ObjectiveNames() []string {
	objectivesMu.RLock()
	defer objectivesMu.RUnlock()
	names := make([]string, 0, len(objectives))
	for name := range objectives {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupObjective(name string) (ObjectiveBuilder, bool) {
	objectivesMu.RLock()
	defer objectivesMu.RUnlock()
	b, ok := objectives[name]
	return b, ok
}

// continuousNames returns the continuous variable names in declared order.
func continuousNames(vars []optimization.Variable) []string {
	names := make([]string, 0, len(vars))
	for i := range vars {
		if vars[i].Kind == optimization.Continuous {
			names = append(names, vars[i].Name)
		}
	}
	return names
}

func vector(a optimization.Assignment, names []string) []float64 {
	x := make([]float64, len(names))
	for i, name := range names {
		x[i] = a.Float(name)
	}
	return x
}

func buildSphere(vars []optimization.Variable) ([]optimization.Objective, []optimization.Constraint, error) {
	names := continuousNames(vars)
	if len(names) == 0 {
		return nil, nil, optimization.NewError("sphere needs at least one continuous variable").WithComponent("server")
	}
	obj := optimization.Objective{
		Name: "sphere",
		Func: func(a optimization.Assignment) (float64, error) {
			sum := 0.0
			for _, x := range vector(a, names) {
				sum += x * x
			}
			return sum, nil
		},
	}
	return []optimization.Objective{obj}, nil, nil
}

func buildRosenbrock(vars []optimization.Variable) ([]optimization.Objective, []optimization.Constraint, error) {
	names := continuousNames(vars)
	if len(names) < 2 {
		return nil, nil, optimization.NewError("rosenbrock needs at least two continuous variables").WithComponent("server")
	}
	obj := optimization.Objective{
		Name: "rosenbrock",
		Func: func(a optimization.Assignment) (float64, error) {
			x := vector(a, names)
			sum := 0.0
			for i := 0; i < len(x)-1; i++ {
				d := x[i+1] - x[i]*x[i]
				sum += 100*d*d + (1-x[i])*(1-x[i])
			}
			return sum, nil
		},
	}
	return []optimization.Objective{obj}, nil, nil
}

func buildRastrigin(vars []optimization.Variable) ([]optimization.Objective, []optimization.Constraint, error) {
	names := continuousNames(vars)
	if len(names) == 0 {
		return nil, nil, optimization.NewError("rastrigin needs at least one continuous variable").WithComponent("server")
	}
	obj := optimization.Objective{
		Name: "rastrigin",
		Func: func(a optimization.Assignment) (float64, error) {
			x := vector(a, names)
			sum := 10 * float64(len(x))
			for _, v := range x {
				sum += v*v - 10*math.Cos(2*math.Pi*v)
			}
			return sum, nil
		},
	}
	return []optimization.Objective{obj}, nil, nil
}

func buildAckley(vars []optimization.Variable) ([]optimization.Objective, []optimization.Constraint, error) {
	names := continuousNames(vars)
	if len(names) == 0 {
		return nil, nil, optimization.NewError("ackley needs at least one continuous variable").WithComponent("server")
	}
	obj := optimization.Objective{
		Name: "ackley",
		Func: func(a optimization.Assignment) (float64, error) {
			x := vector(a, names)
			n := float64(len(x))
			var sq, cs float64
			for _, v := range x {
				sq += v * v
				cs += math.Cos(2 * math.Pi * v)
			}
			return -20*math.Exp(-0.2*math.Sqrt(sq/n)) - math.Exp(cs/n) + 20 + math.E, nil
		},
	}
	return []optimization.Objective{obj}, nil, nil
}

// buildConstrainedSphere minimizes the sphere subject to sum(x) >= 1, which
// pushes the optimum off the unconstrained origin and exercises every
// constraint policy.
func buildConstrainedSphere(vars []optimization.Variable) ([]optimization.Objective, []optimization.Constraint, error) {
	objs, _, err := buildSphere(vars)
	if err != nil {
		return nil, nil, err
	}
	names := continuousNames(vars)
	con := optimization.Constraint{
		Name: "sum_at_least_one",
		Func: func(a optimization.Assignment) (float64, error) {
			sum := 0.0
			for _, x := range vector(a, names) {
				sum += x
			}
			return 1 - sum, nil
		},
	}
	return objs, []optimization.Constraint{con}, nil
}
