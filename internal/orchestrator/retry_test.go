package orchestrator

import (
	"strings"
	"testing"
)

func exhausted(id StrategyID) Attempt {
	return Attempt{Strategy: id, Evaluation: FrameEvaluation{Quality: 0.1, FailureType: FailureExhausted, ShouldRetry: true}}
}

func TestRetryEngine_Limit(t *testing.T) {
	engine := NewRetryEngine(NewStrategySelector(nil), DefaultMaxRetries)

	d := engine.Decide([]Attempt{exhausted(StrategyBaseline), exhausted(StrategyWideBudget), exhausted(StrategyRotateBasis)})
	if d.Retry || d.Next != nil {
		t.Fatalf("retried after 3 attempts: %+v", d)
	}
	if !strings.Contains(d.Reason, "limit 2") {
		t.Errorf("reason %q", d.Reason)
	}
}

func TestRetryEngine_ZeroLimit(t *testing.T) {
	for _, limit := range []int{0, -1} {
		engine := NewRetryEngine(NewStrategySelector(nil), limit)
		if d := engine.Decide([]Attempt{exhausted(StrategyBaseline)}); d.Retry {
			t.Errorf("limit %d: retried", limit)
		}
	}
}

func TestRetryEngine_NotRetried(t *testing.T) {
	engine := NewRetryEngine(NewStrategySelector(nil), DefaultMaxRetries)
	attempts := []Attempt{
		{Strategy: StrategyBaseline, Evaluation: FrameEvaluation{FailureType: FailureNoAdmissible}},
	}

	d := engine.Decide(attempts)
	if d.Retry {
		t.Fatal("retried a frame with no admissible action")
	}
	if !strings.Contains(d.Reason, string(FailureNoAdmissible)) {
		t.Errorf("reason %q", d.Reason)
	}
}

func TestRetryEngine_Escalates(t *testing.T) {
	engine := NewRetryEngine(NewStrategySelector(nil), DefaultMaxRetries)

	d := engine.Decide([]Attempt{exhausted(StrategyBaseline)})
	if !d.Retry || d.Next == nil {
		t.Fatalf("expected a retry: %+v", d)
	}
	if d.Next.ID != StrategyWideBudget {
		t.Errorf("got %q, want %q", d.Next.ID, StrategyWideBudget)
	}

	d = engine.Decide([]Attempt{exhausted(StrategyBaseline), exhausted(StrategyWideBudget)})
	if !d.Retry || d.Next.ID != StrategyRotateBasis {
		t.Errorf("second retry: %+v", d)
	}
}

func TestRetryEngine_NoAttempts(t *testing.T) {
	engine := NewRetryEngine(NewStrategySelector(nil), DefaultMaxRetries)
	if d := engine.Decide(nil); d.Retry || d.Next != nil {
		t.Error("no attempts must not retry")
	}
}
