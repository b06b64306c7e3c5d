package orchestrator

// #region imports
import (
	"errors"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/frame"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/gate"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #endregion

// #region evaluate

// EvaluateFrame scores a finished frame from its gate decision and energy.
// No verifier call.
func EvaluateFrame(res frame.FrameResult) FrameEvaluation {
	if res.Committed {
		return FrameEvaluation{
			Quality:     res.Decision.SoftScore,
			FailureType: FailureNone,
			ShouldRetry: false,
		}
	}

	failure := detectFailure(res)
	quality := scoreFailure(res.Signal)

	shouldRetry := true
	switch failure {
	case FailureNoAdmissible, FailureMalformed:
		// a different search cannot widen the fiber or mend a merge
		shouldRetry = false
	}

	return FrameEvaluation{
		Quality:     quality,
		FailureType: failure,
		ShouldRetry: shouldRetry,
	}
}

// #endregion

// #region detect-failure

func detectFailure(res frame.FrameResult) FailureType {
	switch {
	case errors.Is(res.Cause, symbolic.ErrNoAdmissibleAction):
		return FailureNoAdmissible
	case errors.Is(res.Cause, symbolic.ErrMalformedMerge):
		return FailureMalformed
	case errors.Is(res.Cause, symbolic.ErrOracleTimeout):
		return FailureTimeout
	}

	for _, v := range res.Decision.VetoSignals {
		switch v.Type {
		case gate.VetoNoAdmissible:
			return FailureNoAdmissible
		case gate.VetoMalformedMerge:
			return FailureMalformed
		case gate.VetoOracleTimeout:
			return FailureTimeout
		case gate.VetoBudget:
			return FailureExhausted
		}
	}

	if res.Decision.Vetoed {
		if res.Signal.IsInfinite() {
			return FailureCritical
		}
		return FailureExhausted
	}
	return FailureGateThreshold
}

// #endregion

// #region quality-score

// scoreFailure maps a rejected frame's energy into [0, 0.2]: an infinite
// energy scores 0 and smaller finite energies score closer to 0.2.
func scoreFailure(s symbolic.Signal) float64 {
	if s.IsInfinite() {
		return 0
	}
	e := s.Scalarize(symbolic.NormL2)
	if e < 0 {
		e = 0
	}
	return 0.2 / (1 + e)
}

// #endregion
