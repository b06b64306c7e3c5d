package orchestrator

import (
	"fmt"
	"testing"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/frame"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/gate"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

func rejected(sig symbolic.Signal, cause error, vetoes ...gate.VetoType) frame.FrameResult {
	d := gate.GateDecision{Action: gate.ActionReject, Vetoed: len(vetoes) > 0}
	for _, v := range vetoes {
		d.VetoSignals = append(d.VetoSignals, gate.VetoSignal{Type: v})
	}
	return frame.FrameResult{Signal: sig, Cause: cause, Decision: d}
}

func TestEvaluateFrame_FailureDetection(t *testing.T) {
	tests := []struct {
		name      string
		res       frame.FrameResult
		wantFail  FailureType
		wantRetry bool
	}{
		{"no-admissible", rejected(symbolic.Infinity("empty"), symbolic.ErrNoAdmissibleAction, gate.VetoNoAdmissible, gate.VetoUnresolved), FailureNoAdmissible, false},
		{"malformed", rejected(symbolic.Infinity("open case"), fmt.Errorf("close: %w", symbolic.ErrMalformedMerge), gate.VetoMalformedMerge), FailureMalformed, false},
		{"timeout", rejected(symbolic.Infinity("late"), symbolic.ErrOracleTimeout, gate.VetoOracleTimeout, gate.VetoUnresolved), FailureTimeout, true},
		{"budget", rejected(symbolic.Scalar(1), nil, gate.VetoUnresolved, gate.VetoBudget), FailureExhausted, true},
		{"finite-unresolved", rejected(symbolic.Scalar(2), nil, gate.VetoUnresolved), FailureExhausted, true},
		{"infinite-unresolved", rejected(symbolic.Infinity("unsound"), nil, gate.VetoUnresolved), FailureCritical, true},
		{"veto-only-no-admissible", rejected(symbolic.Infinity("empty"), nil, gate.VetoNoAdmissible), FailureNoAdmissible, false},
		{"soft-reject", rejected(symbolic.Scalar(0.5), nil), FailureGateThreshold, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := EvaluateFrame(tt.res)
			if ev.FailureType != tt.wantFail {
				t.Errorf("failure: got %q, want %q", ev.FailureType, tt.wantFail)
			}
			if ev.ShouldRetry != tt.wantRetry {
				t.Errorf("retry: got %v, want %v", ev.ShouldRetry, tt.wantRetry)
			}
		})
	}
}

func TestEvaluateFrame_Committed(t *testing.T) {
	res := frame.FrameResult{
		Signal:    symbolic.Zero(),
		Committed: true,
		Decision:  gate.GateDecision{Action: gate.ActionCommit, SoftScore: 0.75},
	}
	ev := EvaluateFrame(res)
	if ev.FailureType != FailureNone || ev.ShouldRetry {
		t.Errorf("committed frame evaluated as %+v", ev)
	}
	if ev.Quality != 0.75 {
		t.Errorf("quality = %v, want soft score 0.75", ev.Quality)
	}
}

func TestEvaluateFrame_QualityRange(t *testing.T) {
	inf := EvaluateFrame(rejected(symbolic.Infinity("x"), nil, gate.VetoUnresolved))
	if inf.Quality != 0 {
		t.Errorf("infinite energy quality = %v, want 0", inf.Quality)
	}

	near := EvaluateFrame(rejected(symbolic.Scalar(0.1), nil, gate.VetoUnresolved))
	far := EvaluateFrame(rejected(symbolic.Scalar(10), nil, gate.VetoUnresolved))
	if !(near.Quality > far.Quality) {
		t.Errorf("lower energy should score higher: near=%v far=%v", near.Quality, far.Quality)
	}
	for _, q := range []float64{near.Quality, far.Quality} {
		if q <= 0 || q > 0.2 {
			t.Errorf("rejected quality %v outside (0, 0.2]", q)
		}
	}
}
