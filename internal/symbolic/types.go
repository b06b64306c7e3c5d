package symbolic

// #region action-kind
// ActionKind enumerates the closed set of action variants.
type ActionKind string

const (
	ActionDefine ActionKind = "define"
	ActionApply  ActionKind = "apply"
	ActionAssert ActionKind = "assert"
	ActionSplit  ActionKind = "split"
	ActionClose  ActionKind = "close"
)

// Kinds lists every action variant in declaration order.
var Kinds = []ActionKind{ActionDefine, ActionApply, ActionAssert, ActionSplit, ActionClose}

// #endregion action-kind

// #region action
// Action is a structured proof step. Only the fields of the active Kind are
// meaningful:
//
//	define: Symbol, Path (hierarchy path, last segment is the sort)
//	apply:  Rule, Inputs, Output
//	assert: Rule (the claimed property), Inputs
//	split:  Cases
//	close:  no fields
type Action struct {
	Kind   ActionKind `json:"kind"`
	Symbol string     `json:"symbol,omitempty"`
	Path   []string   `json:"path,omitempty"`
	Rule   string     `json:"rule,omitempty"`
	Inputs []string   `json:"inputs,omitempty"`
	Output string     `json:"output,omitempty"`
	Cases  []string   `json:"cases,omitempty"`
}

// ActionTemplate is a candidate action offered by the verifier. ID is stable
// across calls and keys the prototype cache.
type ActionTemplate struct {
	ID     string `json:"id"`
	Action Action `json:"action"`
}

// #endregion action

// #region signal
// SignalKind enumerates energy signal variants.
type SignalKind string

const (
	SignalZero     SignalKind = "zero"
	SignalScalar   SignalKind = "scalar"
	SignalInfinity SignalKind = "infinity"
	SignalVector   SignalKind = "vector"
)

// Signal is the verifier's verdict on an action at a state.
// Zero < any Scalar < Infinity; a Vector is reduced through a Norm first.
type Signal struct {
	Kind   SignalKind `json:"kind"`
	Cost   float64    `json:"cost,omitempty"`
	Costs  []float64  `json:"costs,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// Norm names the reduction applied to Vector signals.
type Norm string

const (
	NormL1   Norm = "l1"
	NormL2   Norm = "l2"
	NormLInf Norm = "linf"
)

// #endregion signal
