package optimization

import (
	"fmt"
	"math"
)

// VariableKind distinguishes continuous from discrete design variables.
type VariableKind int

const (
	// Continuous variables take any value within [Min, Max].
	Continuous VariableKind = iota
	// Discrete variables take one of an ordered set of allowed values.
	Discrete
)

// String returns the kind name used in logs and serialized results.
func (k VariableKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Discrete:
		return "discrete"
	default:
		return fmt.Sprintf("VariableKind(%d)", int(k))
	}
}

// Variable describes one dimension of the search space. Continuous variables
// are bounded by [Min, Max]; discrete variables choose from the ordered
// Values set. Order of Values is significant: neighborhood moves perturb the
// index, not the label.
type Variable struct {
	Name   string
	Kind   VariableKind
	Min    float64
	Max    float64
	Values []string
}

// Value is the closed representation of a single gene: continuous variables
// carry Real, discrete variables carry an Index into Variable.Values.
// Algorithms branch on Kind, never on a runtime type test.
type Value struct {
	Kind  VariableKind
	Real  float64
	Index int
}

// ContinuousValue wraps a float64 as a continuous gene value.
func ContinuousValue(v float64) Value {
	return Value{Kind: Continuous, Real: v}
}

// DiscreteValue wraps an index into a variable's allowed set.
func DiscreteValue(i int) Value {
	return Value{Kind: Discrete, Index: i}
}

// Float projects the value onto the real line: the value itself for
// continuous genes, the index position for discrete ones. Distance and
// diversity computations work in this projection.
func (v Value) Float() float64 {
	if v.Kind == Discrete {
		return float64(v.Index)
	}
	return v.Real
}

// Validate checks the variable definition before a run starts.
func (v *Variable) Validate() error {
	if v.Name == "" {
		return NewError("variable has no name").WithOperation("validate")
	}
	switch v.Kind {
	case Continuous:
		if math.IsNaN(v.Min) || math.IsNaN(v.Max) || v.Min > v.Max {
			return NewErrorf("variable %q has inconsistent bounds [%v, %v]", v.Name, v.Min, v.Max).WithOperation("validate")
		}
	case Discrete:
		if len(v.Values) == 0 {
			return NewErrorf("discrete variable %q has no allowed values", v.Name).WithOperation("validate")
		}
	default:
		return NewErrorf("variable %q has unknown kind %d", v.Name, int(v.Kind)).WithOperation("validate")
	}
	return nil
}

// Range returns the width of the variable's domain: Max-Min for continuous
// variables, the index span for discrete ones. Mutation and neighborhood
// step sizes are expressed as fractions of this range.
func (v *Variable) Range() float64 {
	if v.Kind == Discrete {
		return float64(len(v.Values) - 1)
	}
	return v.Max - v.Min
}

// Clamp forces a value back inside the variable's domain. Every mutation
// and position update passes through here, which is what maintains the
// bounds invariant for the life of a run.
func (v *Variable) Clamp(val Value) Value {
	switch v.Kind {
	case Continuous:
		val.Kind = Continuous
		val.Real = math.Max(v.Min, math.Min(v.Max, val.Real))
	case Discrete:
		val.Kind = Discrete
		if val.Index < 0 {
			val.Index = 0
		} else if val.Index >= len(v.Values) {
			val.Index = len(v.Values) - 1
		}
	}
	return val
}

// Sample draws a uniform random value from the variable's domain.
func (v *Variable) Sample(rng *RNG) Value {
	if v.Kind == Discrete {
		return DiscreteValue(rng.Intn(len(v.Values)))
	}
	return ContinuousValue(v.Min + rng.Float64()*(v.Max-v.Min))
}

// ValueOf materializes a projected float back into the variable's domain,
// rounding and clamping discrete indices.
func (v *Variable) ValueOf(f float64) Value {
	if v.Kind == Discrete {
		return v.Clamp(DiscreteValue(int(math.Round(f))))
	}
	return v.Clamp(ContinuousValue(f))
}
