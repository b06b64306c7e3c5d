package symbolic

import (
	"context"
	"errors"
)

// #region errors
var (
	// ErrNoAdmissibleAction means the state permits no action template.
	ErrNoAdmissibleAction = errors.New("no admissible action")
	// ErrOracleTimeout means the verifier did not answer within its deadline.
	ErrOracleTimeout = errors.New("oracle timeout")
	// ErrMalformedMerge means a branch close was attempted with an unresolved sibling.
	ErrMalformedMerge = errors.New("malformed merge")
	// ErrInvalidProjection means a projection matrix failed its construction invariants.
	ErrInvalidProjection = errors.New("invalid projection")
)

// #endregion errors

// #region interfaces

// State is an opaque verifier value. Key must be stable for equal states.
type State interface {
	Key() string
}

// Verifier is the ground-truth oracle. Implementations own every State they
// return; callers never mutate them.
type Verifier interface {
	Transition(ctx context.Context, state State, action Action) (State, error)
	Energy(ctx context.Context, state State, action Action) (Signal, error)
	Admissible(ctx context.Context, state State) ([]ActionTemplate, error)
	Verbalize(ctx context.Context, template ActionTemplate) ([]float64, error)
}

// Brancher is implemented by verifiers that scope split derivations.
// Enter opens case i of split on a disjoint copy of parent; Join merges the
// finished case states back into parent.
type Brancher interface {
	Enter(ctx context.Context, parent State, split Action, i int) (State, error)
	Join(ctx context.Context, parent State, children []State) (State, error)
}

// #endregion interfaces
