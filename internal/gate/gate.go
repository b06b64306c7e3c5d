package gate

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/control"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region gate
// Gate decides whether a frame's bias is committed to the output stream.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	if !symbolic.ValidNorm(config.Norm) {
		config.Norm = symbolic.NormL2
	}
	return &Gate{config: config}
}

// FromResult builds a gate input from a finished search on a torus of the
// given modulus.
func FromResult(res search.Result, modulus int) Input {
	return Input{
		Signal:      res.Signal,
		Cause:       res.Cause,
		Evaluations: res.Evaluations,
		Budget:      res.Budget,
		OracleCalls: res.OracleCalls,
		Magnitude:   control.Magnitude(res.Control, modulus),
	}
}

// Evaluate checks hard vetoes first, then scores soft signals.
func (g *Gate) Evaluate(in Input) GateDecision {
	var vetoes []VetoSignal

	// --- Hard veto pass ---

	// 1. Verifier offered nothing
	if errors.Is(in.Cause, symbolic.ErrNoAdmissibleAction) {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoNoAdmissible,
			Reason: "verifier admits no action at this state",
		})
	}

	// 2. Branch closed over an unresolved sibling
	if errors.Is(in.Cause, symbolic.ErrMalformedMerge) {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoMalformedMerge,
			Reason: "split closed with an unresolved case",
		})
	}

	// 3. Oracle deadline
	if errors.Is(in.Cause, symbolic.ErrOracleTimeout) {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoOracleTimeout,
			Reason: "verifier missed its deadline",
		})
	}

	// 4. Energy left on the table
	if !in.Signal.IsZero() {
		e := in.Signal.Scalarize(g.config.Norm)
		if g.config.RequireZero || in.Signal.IsInfinite() || e > g.config.MaxScalar {
			vetoes = append(vetoes, VetoSignal{
				Type:   VetoUnresolved,
				Reason: fmt.Sprintf("energy %s is not admissible", in.Signal),
			})
		}
	}

	// 5. More evaluations than budget
	if in.Evaluations > in.Budget {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoBudget,
			Reason: fmt.Sprintf("%d evaluations exceed budget %d", in.Evaluations, in.Budget),
		})
	}

	if len(vetoes) > 0 {
		return GateDecision{
			Action:      ActionReject,
			Reason:      fmt.Sprintf("hard veto: %s", vetoes[0].Reason),
			Vetoed:      true,
			VetoSignals: vetoes,
			SoftScore:   0,
		}
	}

	// --- Soft scoring ---
	softScore := computeSoftScore(in)

	return GateDecision{
		Action:      ActionCommit,
		Reason:      fmt.Sprintf("passed gate: soft_score=%.4f", softScore),
		Vetoed:      false,
		VetoSignals: nil,
		SoftScore:   softScore,
	}
}

// #endregion gate

// #region helpers
// computeSoftScore produces a 0-1 composite from budget use, oracle reuse
// and control magnitude. Logged but does not block.
func computeSoftScore(in Input) float64 {
	var score float64

	// Budget component: fewer evaluations is better (weight 0.5)
	if in.Budget > 0 {
		score += 0.5 * (1 - float64(in.Evaluations)/float64(in.Budget))
	} else {
		score += 0.5
	}

	// Memo component: evaluations answered without the oracle (weight 0.2)
	if in.Evaluations > 0 {
		score += 0.2 * (1 - float64(in.OracleCalls)/float64(in.Evaluations))
	} else {
		score += 0.2
	}

	// Magnitude component: small corrections are preferred (weight 0.3)
	m := min(max(in.Magnitude, 0), 1)
	score += 0.3 * (1 - m)

	return score
}

// #endregion helpers
