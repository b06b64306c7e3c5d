package orchestrator

// #region imports
import (
	"context"
	"math"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/decoder"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search"
)

// #endregion

// #region strategy-definitions

// Strategies returns the full set of built-in strategy configs.
var Strategies = map[StrategyID]StrategyConfig{
	StrategyBaseline: {
		ID:          StrategyBaseline,
		BudgetScale: 1,
		RotateBasis: false,
		Decode:      decoder.Deterministic(),
	},
	StrategyWideBudget: {
		ID:          StrategyWideBudget,
		BudgetScale: 4,
		RotateBasis: false,
		Decode:      decoder.Deterministic(),
	},
	StrategyRotateBasis: {
		ID:          StrategyRotateBasis,
		BudgetScale: 1,
		RotateBasis: true,
		Decode:      decoder.Deterministic(),
	},
	StrategyStochastic: {
		ID:          StrategyStochastic,
		BudgetScale: 2,
		RotateBasis: false,
		Decode:      decoder.Stochastic(0.5),
	},
}

// strategyOrder is the fallback order once an escalation chain is spent.
var strategyOrder = []StrategyID{
	StrategyBaseline, StrategyWideBudget, StrategyRotateBasis, StrategyStochastic,
}

// SearchConfig applies the strategy to a base search configuration. A zero
// budget stays zero.
func (s StrategyConfig) SearchConfig(base search.Config) search.Config {
	out := base
	if s.BudgetScale > 0 && base.Budget > 0 {
		out.Budget = max(1, int(math.Round(float64(base.Budget)*s.BudgetScale)))
	}
	if s.Decode.Kind != "" {
		out.Decode = s.Decode
	}
	return out
}

// #endregion

// #region retry-escalation

// retryEscalation maps failure type → ordered strategy fallback chain.
var retryEscalation = map[FailureType][]StrategyID{
	FailureExhausted:     {StrategyWideBudget, StrategyRotateBasis, StrategyStochastic},
	FailureCritical:      {StrategyRotateBasis, StrategyStochastic, StrategyWideBudget},
	FailureTimeout:       {StrategyRotateBasis, StrategyWideBudget},
	FailureGateThreshold: {StrategyWideBudget, StrategyStochastic},
}

// #endregion

// #region selector

// StrategySelector picks strategies based on classification, memory and failure.
type StrategySelector struct {
	memory *StrategyMemory // nil = no learning
}

// NewStrategySelector creates a selector with optional memory backing.
func NewStrategySelector(memory *StrategyMemory) *StrategySelector {
	return &StrategySelector{memory: memory}
}

// #endregion

// #region select-initial

// SelectInitial picks the first strategy for a frame: the best learned
// strategy for its class, or the baseline.
func (s *StrategySelector) SelectInitial(ctx context.Context, class FrameClass) StrategyConfig {
	if s.memory != nil {
		learned, _, err := s.memory.BestStrategy(ctx, class)
		if err == nil && learned != "" {
			if cfg, ok := Strategies[learned]; ok {
				return cfg
			}
		}
	}
	return Strategies[StrategyBaseline]
}

// #endregion

// #region select-retry

// SelectRetry picks the next strategy after a failure, avoiding already-tried
// strategies. Returns nil when every strategy has been tried.
func (s *StrategySelector) SelectRetry(failure FailureType, tried []StrategyID) *StrategyConfig {
	triedSet := make(map[StrategyID]bool)
	for _, t := range tried {
		triedSet[t] = true
	}

	chain, ok := retryEscalation[failure]
	if !ok {
		chain = retryEscalation[FailureExhausted]
	}
	for _, sid := range chain {
		if !triedSet[sid] {
			cfg := Strategies[sid]
			return &cfg
		}
	}

	for _, sid := range strategyOrder {
		if !triedSet[sid] {
			cfg := Strategies[sid]
			return &cfg
		}
	}
	return nil
}

// #endregion
