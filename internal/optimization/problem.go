package optimization

// Assignment maps variable names to concrete values for one candidate.
// Objective and constraint functions read from it; the engine builds one
// per evaluation from the positional value vector.
type Assignment map[string]Value

// Float returns the named variable's value projected onto the real line.
func (a Assignment) Float(name string) float64 {
	return a[name].Float()
}

// Index returns the chosen index of a discrete variable.
func (a Assignment) Index(name string) int {
	return a[name].Index
}

// ObjectiveFunc maps an assignment to a scalar to minimize. Returning an
// error (or a non-finite value) marks the candidate as a failed evaluation;
// it never aborts the search.
type ObjectiveFunc func(Assignment) (float64, error)

// ConstraintFunc maps an assignment to a signed violation. Values <= 0 mean
// the constraint is satisfied; positive values measure how badly it is
// violated.
type ConstraintFunc func(Assignment) (float64, error)

// Objective is a named objective function.
type Objective struct {
	Name string
	Func ObjectiveFunc
}

// Constraint is a named constraint function.
type Constraint struct {
	Name string
	Func ConstraintFunc
}

// Problem is the immutable description of a search: the ordered variable
// list (solution vectors and gradients are positionally aligned to it), the
// objectives, the constraints and the termination configuration. The engine
// treats it as read-only; Payload is echoed back in the Result untouched.
type Problem struct {
	Variables   []Variable
	Objectives  []Objective
	Constraints []Constraint

	// ConvergenceTolerance is the best-fitness improvement below which the
	// windowed convergence checks declare the search done. Zero selects the
	// engine default.
	ConvergenceTolerance float64

	// MaxIterations caps the number of iterations or generations. Zero
	// selects the engine default.
	MaxIterations int

	// Payload is opaque caller context, not interpreted by the engine.
	Payload any
}

// Validate fails fast on malformed problems before any loop starts.
func (p *Problem) Validate() error {
	if p == nil {
		return NewError("nil problem").WithComponent("problem")
	}
	if len(p.Variables) == 0 {
		return NewError("problem has no variables").WithComponent("problem")
	}
	if len(p.Objectives) == 0 {
		return NewError("problem has no objectives").WithComponent("problem")
	}
	seen := make(map[string]struct{}, len(p.Variables))
	for i := range p.Variables {
		v := &p.Variables[i]
		if err := v.Validate(); err != nil {
			return err
		}
		if _, dup := seen[v.Name]; dup {
			return NewErrorf("duplicate variable name %q", v.Name).WithComponent("problem")
		}
		seen[v.Name] = struct{}{}
	}
	for i, obj := range p.Objectives {
		if obj.Func == nil {
			return NewErrorf("objective %d (%q) has no function", i, obj.Name).WithComponent("problem")
		}
	}
	for i, c := range p.Constraints {
		if c.Func == nil {
			return NewErrorf("constraint %d (%q) has no function", i, c.Name).WithComponent("problem")
		}
	}
	return nil
}

// MultiObjective reports whether the problem has more than one objective.
func (p *Problem) MultiObjective() bool {
	return len(p.Objectives) > 1
}

// Assignment maps a positional value vector back onto named variables.
func (p *Problem) Assignment(values []Value) Assignment {
	a := make(Assignment, len(p.Variables))
	for i := range p.Variables {
		a[p.Variables[i].Name] = values[i]
	}
	return a
}

// RandomValues draws one uniform sample per variable, in variable order.
func (p *Problem) RandomValues(rng *RNG) []Value {
	values := make([]Value, len(p.Variables))
	for i := range p.Variables {
		values[i] = p.Variables[i].Sample(rng)
	}
	return values
}

// ContinuousIndices returns the positions of continuous variables, the
// subset gradients and arithmetic operators act on.
func (p *Problem) ContinuousIndices() []int {
	idx := make([]int, 0, len(p.Variables))
	for i := range p.Variables {
		if p.Variables[i].Kind == Continuous {
			idx = append(idx, i)
		}
	}
	return idx
}
