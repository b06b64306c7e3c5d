package energy

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/canon"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region model
// Model scores canonical actions through the verifier and folds step signals
// into path and branch costs.
type Model struct {
	verifier symbolic.Verifier
	canon    *canon.Canonicalizer
	config   Config
}

// NewModel creates an energy model. A non-positive or >1 gamma falls back to 1.
func NewModel(v symbolic.Verifier, c *canon.Canonicalizer, config Config) *Model {
	if config.Gamma <= 0 || config.Gamma > 1 {
		config.Gamma = 1
	}
	if !symbolic.ValidNorm(config.Norm) {
		config.Norm = symbolic.NormL2
	}
	return &Model{verifier: v, canon: c, config: config}
}

// Canonicalizer exposes the shared canonicalizer.
func (m *Model) Canonicalizer() *canon.Canonicalizer { return m.canon }

// Norm returns the vector reduction in use.
func (m *Model) Norm() symbolic.Norm { return m.config.Norm }

// Scalarize reduces s with the model's norm.
func (m *Model) Scalarize(s symbolic.Signal) float64 { return s.Scalarize(m.config.Norm) }

// #endregion model

// #region energy

// Energy asks the verifier about the canonical form of action. The returned
// signal is always usable: verifier failures become Infinity and the cause is
// returned alongside for logging. A deadline overrun wraps ErrOracleTimeout.
func (m *Model) Energy(ctx context.Context, state symbolic.State, action symbolic.Action) (symbolic.Signal, error) {
	canonical := m.canon.Canonicalize(action)

	callCtx := ctx
	if m.config.OracleTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.config.OracleTimeout)
		defer cancel()
	}

	sig, err := m.verifier.Energy(callCtx, state, canonical)
	if err == nil && callCtx.Err() != nil && ctx.Err() == nil {
		// answered, but only after the deadline
		err = callCtx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, symbolic.ErrOracleTimeout) {
			return symbolic.Infinity(symbolic.ErrOracleTimeout.Error()), fmt.Errorf("energy %s: %w", canonical.Kind, symbolic.ErrOracleTimeout)
		}
		return symbolic.Infinity(err.Error()), fmt.Errorf("energy %s: %w", canonical.Kind, err)
	}
	return normalize(sig), nil
}

// normalize routes verifier-built signals through the constructors so
// degenerate values collapse the same way everywhere.
func normalize(s symbolic.Signal) symbolic.Signal {
	switch s.Kind {
	case symbolic.SignalZero:
		return symbolic.Zero()
	case symbolic.SignalScalar:
		out := symbolic.Scalar(s.Cost)
		if out.Kind == symbolic.SignalScalar {
			out.Reason = s.Reason
		}
		return out
	case symbolic.SignalVector:
		out := symbolic.Vector(s.Costs...)
		if out.Kind == symbolic.SignalVector {
			out.Reason = s.Reason
		}
		return out
	case symbolic.SignalInfinity:
		return s
	}
	return symbolic.Infinity(fmt.Sprintf("unknown signal kind %q", s.Kind))
}

// #endregion energy

// #region aggregation

// Path folds the signals of a derivation in step order. The first step carries
// weight 1 and step t carries γ^t, so later mistakes weigh less than the early
// ones they descend from. Any Infinity makes the path Infinity.
func (m *Model) Path(steps []symbolic.Signal) symbolic.Signal {
	var total float64
	for i, s := range steps {
		if s.IsInfinite() {
			reason := fmt.Sprintf("step %d", i)
			if s.Reason != "" {
				reason += ": " + s.Reason
			}
			return symbolic.Infinity(reason)
		}
		total += m.Weight(i) * m.Scalarize(s)
	}
	return symbolic.Scalar(total)
}

// Branch combines sibling sub-derivations by strict max: a split is only as
// good as its weakest case.
func (m *Model) Branch(siblings []symbolic.Signal) symbolic.Signal {
	worst := symbolic.Zero()
	for i, s := range siblings {
		if s.IsInfinite() {
			reason := fmt.Sprintf("branch %d", i)
			if s.Reason != "" {
				reason += ": " + s.Reason
			}
			return symbolic.Infinity(reason)
		}
		if symbolic.Less(worst, s, m.config.Norm) {
			worst = symbolic.Scalar(m.Scalarize(s))
		}
	}
	return worst
}

// Close decides a branch close. It is Zero only if every sibling reports Zero;
// otherwise the close itself is Infinity and ErrMalformedMerge is returned.
func (m *Model) Close(siblings []symbolic.Signal) (symbolic.Signal, error) {
	if len(siblings) == 0 {
		return symbolic.Infinity(symbolic.ErrMalformedMerge.Error()),
			fmt.Errorf("close: no open branches: %w", symbolic.ErrMalformedMerge)
	}
	for i, s := range siblings {
		if !s.IsZero() {
			return symbolic.Infinity(symbolic.ErrMalformedMerge.Error()),
				fmt.Errorf("close: branch %d unresolved (%s): %w", i, s, symbolic.ErrMalformedMerge)
		}
	}
	return symbolic.Zero(), nil
}

// Weight returns the discount applied to step t of a path.
func (m *Model) Weight(t int) float64 {
	return math.Pow(m.config.Gamma, float64(t))
}

// #endregion aggregation
