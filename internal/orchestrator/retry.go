package orchestrator

import "fmt"

// DefaultMaxRetries bounds the extra attempts a frame may get.
const DefaultMaxRetries = 2

// #region engine

// RetryDecision is the verdict on a rejected attempt. Reason is logged.
type RetryDecision struct {
	Retry  bool
	Next   *StrategyConfig
	Reason string
}

// RetryEngine decides whether a rejected frame earns another attempt and
// under which strategy.
type RetryEngine struct {
	selector   *StrategySelector
	maxRetries int
}

// NewRetryEngine creates a retry engine backed by selector. A negative limit
// disables retries.
func NewRetryEngine(selector *StrategySelector, maxRetries int) *RetryEngine {
	return &RetryEngine{selector: selector, maxRetries: max(maxRetries, 0)}
}

// #endregion

// #region decide

// Decide inspects every attempt of one frame, the last being the one just
// evaluated.
func (r *RetryEngine) Decide(attempts []Attempt) RetryDecision {
	switch {
	case len(attempts) == 0:
		return RetryDecision{Reason: "no attempts"}
	case len(attempts) > r.maxRetries:
		return RetryDecision{Reason: fmt.Sprintf("retry limit %d reached", r.maxRetries)}
	}

	last := attempts[len(attempts)-1].Evaluation
	if !last.ShouldRetry {
		return RetryDecision{Reason: fmt.Sprintf("failure %q is not retried", last.FailureType)}
	}

	tried := make([]StrategyID, 0, len(attempts))
	for _, a := range attempts {
		tried = append(tried, a.Strategy)
	}
	next := r.selector.SelectRetry(last.FailureType, tried)
	if next == nil {
		return RetryDecision{Reason: fmt.Sprintf("no untried strategy for %q", last.FailureType)}
	}
	return RetryDecision{Retry: true, Next: next, Reason: string(last.FailureType)}
}

// #endregion
