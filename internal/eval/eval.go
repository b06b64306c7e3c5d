package eval

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/control"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search"
)

// #region eval-harness
// EvalHarness audits finished searches against the engine's guarantees.
type EvalHarness struct {
	config EvalConfig
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(config EvalConfig) *EvalHarness {
	return &EvalHarness{config: config}
}

// Run checks a search result and its trace. It needs no verifier: every
// check is answered from the recorded trace.
func (h *EvalHarness) Run(res search.Result) EvalResult {
	var metrics []EvalMetric
	passed := true
	var failReasons []string

	check := func(name string, value float64, pass bool, reason string) {
		metrics = append(metrics, EvalMetric{Name: name, Value: value, Pass: pass})
		if !pass {
			passed = false
			failReasons = append(failReasons, reason)
		}
	}

	// 1. Torus closure: every evaluated control has k coordinates in [0, L)
	off := 0
	for _, e := range res.Trace {
		if len(e.Control) != h.config.Dim || !e.Control.Valid(h.config.Modulus) {
			off++
		}
	}
	if len(res.Control) != h.config.Dim || !res.Control.Valid(h.config.Modulus) {
		off++
	}
	check("torus_closure", float64(off), off == 0,
		fmt.Sprintf("%d control vectors off the torus", off))

	// 2. Budget bound: the trace is the evaluation log and fits the budget
	budgetPass := res.Evaluations <= res.Budget && len(res.Trace) == res.Evaluations
	check("budget_bound", float64(res.Evaluations), budgetPass,
		fmt.Sprintf("%d evaluations, %d trace entries, budget %d", res.Evaluations, len(res.Trace), res.Budget))

	// 3. Oracle bound: the memo never costs extra calls
	calls := 0
	for _, e := range res.Trace {
		if e.OracleCalled {
			calls++
		}
	}
	oraclePass := res.OracleCalls <= res.Evaluations && calls == res.OracleCalls
	check("oracle_bound", float64(res.OracleCalls), oraclePass,
		fmt.Sprintf("%d oracle calls for %d evaluations (%d marked)", res.OracleCalls, res.Evaluations, calls))

	// 4. Monotone best: each accepted non-zero candidate strictly improves
	best := math.Inf(1)
	regressions := 0
	for _, e := range res.Trace {
		if !e.Accepted {
			continue
		}
		c := float64(e.Cost)
		if e.Iteration > 0 && !e.Signal.IsZero() && !(c < best) {
			regressions++
		}
		best = c
	}
	check("monotone_best", float64(regressions), regressions == 0,
		fmt.Sprintf("%d accepted candidates did not improve the best cost", regressions))

	// 5. Phase consistency
	phasePass, why := phaseConsistent(res)
	check("phase_consistency", boolValue(phasePass), phasePass, why)

	// 6. Magnitude: informational, does not fail
	mag := control.Magnitude(res.Control, h.config.Modulus)
	metrics = append(metrics, EvalMetric{
		Name:  "control_magnitude",
		Value: mag,
		Pass:  mag <= h.config.MaxMagnitude,
	})

	reason := "all checks passed"
	if !passed {
		reason = fmt.Sprintf("eval failed: %s", failReasons[0])
		if len(failReasons) > 1 {
			reason = fmt.Sprintf("eval failed: %d checks: %s", len(failReasons), failReasons[0])
		}
	}

	return EvalResult{
		Passed:  passed,
		Metrics: metrics,
		Reason:  reason,
	}
}

// #endregion eval-harness

// #region helpers
func phaseConsistent(res search.Result) (bool, string) {
	switch res.Phase {
	case search.PhaseConverged:
		if !res.Found || !res.Signal.IsZero() {
			return false, "converged without a Zero result"
		}
		if n := len(res.Trace); n == 0 || !res.Trace[n-1].Signal.IsZero() {
			return false, "converged but the last evaluation is not Zero"
		}
	case search.PhaseExhausted:
		if res.Found {
			return false, "exhausted search reports a solution"
		}
		for _, e := range res.Trace {
			if e.Signal.IsZero() {
				return false, fmt.Sprintf("exhausted after Zero at iteration %d", e.Iteration)
			}
		}
	default:
		return false, fmt.Sprintf("non-terminal phase %q", res.Phase)
	}
	return true, "phase consistent"
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
