package verifier

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// Rules understood by apply. Both take two or more inputs.
const (
	RuleModAdd = "modadd"
	RuleModMul = "modmul"
)

// #region checker
// Checker is a reference verifier over parity arithmetic. Symbols carry an
// odd or even sort; apply derives the sort of an output from its inputs and
// assert claims a sort for each input. It is safe for concurrent use.
type Checker struct {
	catalog *Catalog
	calls   atomic.Int64
}

var (
	_ symbolic.Verifier = (*Checker)(nil)
	_ symbolic.Brancher = (*Checker)(nil)
)

// NewChecker creates a Checker offering the templates in catalog.
func NewChecker(catalog *Catalog) *Checker {
	return &Checker{catalog: catalog}
}

// Catalog returns the template catalog.
func (c *Checker) Catalog() *Catalog { return c.catalog }

// Calls is the number of Energy evaluations answered so far.
func (c *Checker) Calls() int64 { return c.calls.Load() }

func asState(s symbolic.State) (State, error) {
	switch v := s.(type) {
	case State:
		return v, nil
	case *State:
		if v == nil {
			return State{}, fmt.Errorf("nil parity state")
		}
		return *v, nil
	case nil:
		return NewState(), nil
	}
	return State{}, fmt.Errorf("unsupported state type %T", s)
}

// #endregion checker

// #region admissible
// Admissible filters the catalog to templates that make sense at state:
// apply and assert need their inputs bound, close needs an open case and split
// needs depth left. Catalog order is preserved.
func (c *Checker) Admissible(ctx context.Context, state symbolic.State) ([]symbolic.ActionTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := asState(state)
	if err != nil {
		return nil, fmt.Errorf("admissible: %w", err)
	}
	var out []symbolic.ActionTemplate
	for _, t := range c.catalog.templates {
		if admits(st, t.Action) {
			out = append(out, t)
		}
	}
	return out, nil
}

func admits(st State, a symbolic.Action) bool {
	switch a.Kind {
	case symbolic.ActionDefine:
		return a.Symbol != ""
	case symbolic.ActionApply, symbolic.ActionAssert:
		for _, in := range a.Inputs {
			if _, ok := st.Lookup(in); !ok {
				return false
			}
		}
		return len(a.Inputs) > 0
	case symbolic.ActionSplit:
		return st.Depth() < maxSplitDepth
	case symbolic.ActionClose:
		return st.InCase()
	}
	return false
}

// #endregion admissible

// #region energy
// Energy scores action at state. Zero means the step is valid.
func (c *Checker) Energy(ctx context.Context, state symbolic.State, action symbolic.Action) (symbolic.Signal, error) {
	if err := ctx.Err(); err != nil {
		return symbolic.Signal{}, err
	}
	st, err := asState(state)
	if err != nil {
		return symbolic.Signal{}, fmt.Errorf("energy: %w", err)
	}
	c.calls.Add(1)

	switch action.Kind {
	case symbolic.ActionDefine:
		return defineEnergy(st, action), nil
	case symbolic.ActionApply:
		return applyEnergy(st, action), nil
	case symbolic.ActionAssert:
		return assertEnergy(st, action), nil
	case symbolic.ActionSplit:
		if len(action.Cases) < 2 {
			return symbolic.Infinity("split needs two cases"), nil
		}
		if st.Depth() >= maxSplitDepth {
			return symbolic.Infinity("split depth exceeded"), nil
		}
		return symbolic.Zero(), nil
	case symbolic.ActionClose:
		if !st.InCase() {
			return symbolic.Infinity("close outside split"), nil
		}
		return symbolic.Zero(), nil
	}
	return symbolic.Infinity(fmt.Sprintf("unknown action kind %q", action.Kind)), nil
}

func defineEnergy(st State, a symbolic.Action) symbolic.Signal {
	if a.Symbol == "" {
		return symbolic.Infinity("define without symbol")
	}
	if _, ok := sortOf(a.Path); !ok {
		return symbolic.Infinity("unknown sort")
	}
	if _, bound := st.Lookup(a.Symbol); bound {
		s := symbolic.Scalar(1)
		s.Reason = "redefinition of " + a.Symbol
		return s
	}
	return symbolic.Zero()
}

func applyEnergy(st State, a symbolic.Action) symbolic.Signal {
	p, reason := derive(st, a)
	if reason != "" {
		return symbolic.Infinity(reason)
	}
	if a.Output == "" {
		return symbolic.Infinity("apply without output")
	}
	if have, bound := st.Lookup(a.Output); bound && have != p {
		s := symbolic.Scalar(1)
		s.Reason = fmt.Sprintf("%s is %s, derived %s", a.Output, have, p)
		return s
	}
	return symbolic.Zero()
}

func assertEnergy(st State, a symbolic.Action) symbolic.Signal {
	claim, ok := ParseParity(a.Rule)
	if !ok {
		return symbolic.Infinity("unknown claim " + a.Rule)
	}
	if len(a.Inputs) == 0 {
		return symbolic.Infinity("assert without inputs")
	}
	costs := make([]float64, len(a.Inputs))
	for i, in := range a.Inputs {
		p, bound := st.Lookup(in)
		if !bound {
			return symbolic.Infinity("unbound symbol " + in)
		}
		if p != claim {
			costs[i] = 1
		}
	}
	return symbolic.Vector(costs...)
}

// derive computes the sort of an apply output. A non-empty reason means the
// step is undefined.
func derive(st State, a symbolic.Action) (Parity, string) {
	if a.Rule != RuleModAdd && a.Rule != RuleModMul {
		return "", "unknown rule " + a.Rule
	}
	if len(a.Inputs) < 2 {
		return "", "apply needs two inputs"
	}
	odd, allOdd := 0, true
	for _, in := range a.Inputs {
		p, bound := st.Lookup(in)
		if !bound {
			return "", "unbound symbol " + in
		}
		if p == Odd {
			odd++
		} else {
			allOdd = false
		}
	}
	if a.Rule == RuleModAdd {
		if odd%2 == 1 {
			return Odd, ""
		}
		return Even, ""
	}
	if allOdd {
		return Odd, ""
	}
	return Even, ""
}

func sortOf(path []string) (Parity, bool) {
	if len(path) == 0 {
		return "", false
	}
	return ParseParity(path[len(path)-1])
}

// #endregion energy

// #region transition
// Transition returns the state after action. Split leaves the state as is;
// its cases are opened through Enter.
func (c *Checker) Transition(ctx context.Context, state symbolic.State, action symbolic.Action) (symbolic.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := asState(state)
	if err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}
	switch action.Kind {
	case symbolic.ActionDefine:
		p, ok := sortOf(action.Path)
		if !ok || action.Symbol == "" {
			return nil, fmt.Errorf("transition: malformed define %q", action.Symbol)
		}
		return st.bind(action.Symbol, p), nil
	case symbolic.ActionApply:
		p, reason := derive(st, action)
		if reason != "" {
			return nil, fmt.Errorf("transition: %s", reason)
		}
		if action.Output == "" {
			return nil, fmt.Errorf("transition: apply without output")
		}
		return st.bind(action.Output, p), nil
	case symbolic.ActionAssert, symbolic.ActionSplit:
		return st, nil
	case symbolic.ActionClose:
		if !st.InCase() {
			return nil, fmt.Errorf("transition: %w: close outside split", symbolic.ErrMalformedMerge)
		}
		return st.pop(), nil
	}
	return nil, fmt.Errorf("transition: unknown action kind %q", action.Kind)
}

// #endregion transition

// #region branching
// Enter opens case i of split as a new scope under parent.
func (c *Checker) Enter(ctx context.Context, parent symbolic.State, split symbolic.Action, i int) (symbolic.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := asState(parent)
	if err != nil {
		return nil, fmt.Errorf("enter: %w", err)
	}
	if split.Kind != symbolic.ActionSplit {
		return nil, fmt.Errorf("enter: action kind %q is not split", split.Kind)
	}
	if i < 0 || i >= len(split.Cases) {
		return nil, fmt.Errorf("enter: case %d out of range [0,%d)", i, len(split.Cases))
	}
	if st.Depth() >= maxSplitDepth {
		return nil, fmt.Errorf("enter: split depth %d exceeded", maxSplitDepth)
	}
	return st.push(split.Cases[i]), nil
}

// Join merges finished cases into parent. A symbol is promoted when every
// case bound it to the same sort.
func (c *Checker) Join(ctx context.Context, parent symbolic.State, children []symbolic.State) (symbolic.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := asState(parent)
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}
	if len(children) == 0 {
		return st, nil
	}
	var common map[string]Parity
	for i, ch := range children {
		cs, err := asState(ch)
		if err != nil {
			return nil, fmt.Errorf("join: child %d: %w", i, err)
		}
		if len(cs.frames) < len(st.frames) {
			return nil, fmt.Errorf("join: child %d does not extend parent", i)
		}
		derived := make(map[string]Parity)
		for _, f := range cs.frames[len(st.frames):] {
			for k, v := range f.bindings {
				derived[k] = v
			}
		}
		if common == nil {
			common = derived
			continue
		}
		for k, v := range common {
			if derived[k] != v {
				delete(common, k)
			}
		}
	}
	out := st
	for k, v := range common {
		out = out.bind(k, v)
	}
	return out, nil
}

// #endregion branching

// #region verbalize
// Verbalize returns the catalog prototype for template.
func (c *Checker) Verbalize(ctx context.Context, template symbolic.ActionTemplate) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := c.catalog.Prototype(template.ID)
	if !ok {
		return nil, fmt.Errorf("verbalize: unknown template %s", template.ID)
	}
	return p, nil
}

// #endregion verbalize
