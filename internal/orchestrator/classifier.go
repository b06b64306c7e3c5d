package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #endregion

// #region scoped

// scoped is implemented by verifier states that know whether they sit inside
// a split case.
type scoped interface {
	InCase() bool
}

// #endregion

// #region classify

// ClassifyFrame classifies a frame before it is searched. It asks the
// verifier for the admissible templates at state; an empty fiber classifies
// as BreadthNone rather than failing.
func ClassifyFrame(ctx context.Context, v symbolic.Verifier, state symbolic.State) (FrameClass, error) {
	class := FrameClass{Breadth: BreadthNone, Scope: ScopeRoot}
	if s, ok := state.(scoped); ok && s.InCase() {
		class.Scope = ScopeCase
	}

	templates, err := v.Admissible(ctx, state)
	if errors.Is(err, symbolic.ErrNoAdmissibleAction) {
		return class, nil
	}
	if err != nil {
		return FrameClass{}, fmt.Errorf("classify frame: %w", err)
	}

	class.Breadth = classifyBreadth(len(templates))
	class.Lead = leadKind(templates)
	return class, nil
}

// #endregion

// #region classify-breadth

func classifyBreadth(n int) Breadth {
	switch {
	case n == 0:
		return BreadthNone
	case n == 1:
		return BreadthSingle
	case n <= 3:
		return BreadthNarrow
	default:
		return BreadthWide
	}
}

// #endregion

// #region lead-kind

// leadKind returns the most frequent action kind. Ties go to the kind
// declared first.
func leadKind(templates []symbolic.ActionTemplate) symbolic.ActionKind {
	counts := make(map[symbolic.ActionKind]int)
	for _, t := range templates {
		counts[t.Action.Kind]++
	}
	var lead symbolic.ActionKind
	best := 0
	for _, k := range symbolic.Kinds {
		if counts[k] > best {
			lead, best = k, counts[k]
		}
	}
	return lead
}

// #endregion
