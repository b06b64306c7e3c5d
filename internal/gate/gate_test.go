package gate

import (
	"fmt"
	"testing"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/control"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

func clean() Input {
	return Input{Signal: symbolic.Zero(), Evaluations: 4, Budget: 16, OracleCalls: 2}
}

func TestGateCommitOnZeroEnergy(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	decision := g.Evaluate(clean())

	if decision.Action != ActionCommit {
		t.Fatalf("expected commit, got %s: %s", decision.Action, decision.Reason)
	}
	if decision.Vetoed {
		t.Fatal("should not be vetoed")
	}
	if !decision.Committed() {
		t.Fatal("Committed should agree with Action")
	}
}

func TestGateRejectOnNoAdmissible(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	in := Input{Signal: symbolic.Infinity("empty fiber"), Cause: symbolic.ErrNoAdmissibleAction}

	decision := g.Evaluate(in)

	if decision.Action != ActionReject {
		t.Fatalf("expected reject, got %s", decision.Action)
	}
	if !decision.Vetoed {
		t.Fatal("should be vetoed")
	}
	if decision.VetoSignals[0].Type != VetoNoAdmissible {
		t.Fatalf("expected VetoNoAdmissible, got %s", decision.VetoSignals[0].Type)
	}
}

func TestGateRejectOnMalformedMerge(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	in := clean()
	in.Cause = fmt.Errorf("close frame: %w", symbolic.ErrMalformedMerge)

	decision := g.Evaluate(in)

	if decision.Action != ActionReject {
		t.Fatalf("expected reject, got %s", decision.Action)
	}
	if decision.VetoSignals[0].Type != VetoMalformedMerge {
		t.Fatalf("expected VetoMalformedMerge, got %s", decision.VetoSignals[0].Type)
	}
}

func TestGateRejectOnOracleTimeout(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	in := Input{Signal: symbolic.Infinity("timeout"), Cause: symbolic.ErrOracleTimeout, Budget: 4}

	decision := g.Evaluate(in)

	found := map[VetoType]bool{}
	for _, v := range decision.VetoSignals {
		found[v.Type] = true
	}
	if !found[VetoOracleTimeout] || !found[VetoUnresolved] {
		t.Fatalf("expected timeout and unresolved vetoes, got %+v", decision.VetoSignals)
	}
}

func TestGateStrictRejectsScalar(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	in := clean()
	in.Signal = symbolic.Scalar(0.01)

	decision := g.Evaluate(in)

	if decision.Action != ActionReject {
		t.Fatalf("expected reject, got %s", decision.Action)
	}
	if decision.VetoSignals[0].Type != VetoUnresolved {
		t.Fatalf("expected VetoUnresolved, got %s", decision.VetoSignals[0].Type)
	}
}

func TestGateLenientAcceptsSmallScalar(t *testing.T) {
	g := NewGate(GateConfig{RequireZero: false, MaxScalar: 0.5})

	in := clean()
	in.Signal = symbolic.Scalar(0.25)
	if d := g.Evaluate(in); d.Action != ActionCommit {
		t.Fatalf("expected commit for 0.25, got %s: %s", d.Action, d.Reason)
	}

	in.Signal = symbolic.Vector(0.3, 0.3)
	if d := g.Evaluate(in); d.Action != ActionCommit {
		t.Fatalf("expected commit for l2 0.42, got %s: %s", d.Action, d.Reason)
	}

	in.Signal = symbolic.Scalar(0.75)
	if d := g.Evaluate(in); d.Action != ActionReject {
		t.Fatalf("expected reject for 0.75, got %s", d.Action)
	}

	in.Signal = symbolic.Infinity("undefined")
	if d := g.Evaluate(in); d.Action != ActionReject {
		t.Fatalf("expected reject for infinity, got %s", d.Action)
	}
}

func TestGateRejectOnBudgetOverrun(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	in := clean()
	in.Evaluations = in.Budget + 1

	decision := g.Evaluate(in)

	if decision.Action != ActionReject {
		t.Fatalf("expected reject, got %s", decision.Action)
	}
	if decision.VetoSignals[0].Type != VetoBudget {
		t.Fatalf("expected VetoBudget, got %s", decision.VetoSignals[0].Type)
	}
}

func TestGateMultipleVetoes(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	in := Input{Signal: symbolic.Infinity("x"), Cause: symbolic.ErrNoAdmissibleAction, Evaluations: 3, Budget: 2}

	decision := g.Evaluate(in)

	if len(decision.VetoSignals) != 3 {
		t.Fatalf("expected 3 vetoes, got %d: %+v", len(decision.VetoSignals), decision.VetoSignals)
	}
	if decision.SoftScore != 0 {
		t.Fatalf("vetoed decision should score 0, got %f", decision.SoftScore)
	}
}

func TestSoftScoreRange(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	best := g.Evaluate(Input{Signal: symbolic.Zero(), Evaluations: 0, Budget: 8})
	if best.SoftScore < 0.99 || best.SoftScore > 1.0 {
		t.Fatalf("expected ~1.0 for an untouched budget, got %f", best.SoftScore)
	}

	worst := g.Evaluate(Input{Signal: symbolic.Zero(), Evaluations: 8, Budget: 8, OracleCalls: 8, Magnitude: 1})
	if worst.SoftScore > 0.01 {
		t.Fatalf("expected ~0 for a spent budget, got %f", worst.SoftScore)
	}
}

func TestSoftScorePrefersSmallCorrections(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	small := clean()
	small.Magnitude = 0.1
	large := clean()
	large.Magnitude = 0.9

	if g.Evaluate(small).SoftScore <= g.Evaluate(large).SoftScore {
		t.Fatal("smaller control magnitude should score higher")
	}
}

func TestFromResult(t *testing.T) {
	res := search.Result{
		Phase:       search.PhaseConverged,
		Found:       true,
		Control:     control.Zero(4),
		Signal:      symbolic.Zero(),
		Evaluations: 3,
		OracleCalls: 2,
		Budget:      10,
	}
	in := FromResult(res, 8)
	if in.Evaluations != 3 || in.Budget != 10 || in.OracleCalls != 2 {
		t.Fatalf("counts not carried: %+v", in)
	}
	if in.Magnitude != 0 {
		t.Fatalf("zero control should have zero magnitude, got %f", in.Magnitude)
	}
	if d := NewGate(DefaultGateConfig()).Evaluate(in); d.Action != ActionCommit {
		t.Fatalf("expected commit, got %s", d.Action)
	}
}
