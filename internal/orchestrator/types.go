package orchestrator

// #region imports
import (
	"time"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/decoder"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/frame"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #endregion

// #region scope

// Scope tells whether a frame runs at the root or inside a split case.
type Scope string

const (
	ScopeRoot Scope = "root"
	ScopeCase Scope = "case"
)

// #endregion

// #region breadth

// Breadth buckets the size of the admissible fiber.
type Breadth string

const (
	BreadthNone   Breadth = "none"
	BreadthSingle Breadth = "single"
	BreadthNarrow Breadth = "narrow"
	BreadthWide   Breadth = "wide"
)

// #endregion

// #region strategy-id

// StrategyID identifies a search strategy for one frame attempt.
type StrategyID string

const (
	StrategyBaseline    StrategyID = "baseline"
	StrategyWideBudget  StrategyID = "wide_budget"
	StrategyRotateBasis StrategyID = "rotate_basis"
	StrategyStochastic  StrategyID = "stochastic"
)

// #endregion

// #region failure-type

// FailureType categorizes why a frame was not committed.
type FailureType string

const (
	FailureNone          FailureType = "none"
	FailureExhausted     FailureType = "exhausted"      // budget ran out on a finite energy
	FailureCritical      FailureType = "critical"       // best candidate still scored Infinity
	FailureTimeout       FailureType = "oracle_timeout" // verifier missed its deadline
	FailureNoAdmissible  FailureType = "no_admissible"  // nothing to decode; retrying cannot help
	FailureMalformed     FailureType = "malformed_merge"
	FailureGateThreshold FailureType = "gate_threshold" // rejected without a hard veto
)

// #endregion

// #region classification

// FrameClass is the pre-search classification of a frame.
type FrameClass struct {
	Lead    symbolic.ActionKind // most common kind in the fiber
	Breadth Breadth
	Scope   Scope
}

// #endregion

// #region strategy-config

// StrategyConfig defines how a strategy modifies the frame's search.
type StrategyConfig struct {
	ID          StrategyID
	BudgetScale float64 // multiplier on the configured search budget
	RotateBasis bool    // draw a fresh projection from a derived seed
	Decode      decoder.Mode
}

// #endregion

// #region frame-evaluation

// FrameEvaluation is the output of evaluating a finished frame.
type FrameEvaluation struct {
	Quality     float64
	FailureType FailureType
	ShouldRetry bool
}

// #endregion

// #region attempt

// Attempt records one run of a frame.
type Attempt struct {
	Strategy   StrategyID
	Rotation   uint64 // projection seed used; 0 is the configured basis
	Seed       uint64
	Result     frame.FrameResult
	Evaluation FrameEvaluation
}

// #endregion

// #region outcome-record

// OutcomeRecord is a single row for strategy_outcomes.
type OutcomeRecord struct {
	FrameID     string
	Lead        symbolic.ActionKind
	Breadth     Breadth
	Scope       Scope
	StrategyID  StrategyID
	AttemptNum  int
	Quality     float64
	FailureType FailureType
	Evaluations int
	SoftScore   float64
	Accepted    bool
	CreatedAt   time.Time
}

// #endregion

// #region outcome

// Outcome is the result of a frame after all attempts.
type Outcome struct {
	Class    FrameClass
	Attempts []Attempt
	Accepted int // index of the committed attempt, -1 if none committed
}

// Final returns the attempt whose result stands: the committed one, or the
// last one tried.
func (o Outcome) Final() Attempt {
	if o.Accepted >= 0 {
		return o.Attempts[o.Accepted]
	}
	return o.Attempts[len(o.Attempts)-1]
}

// #endregion

// #region interfaces

// Builder returns a frame runner configured for strategy. rotation is the
// projection seed to use, or 0 for the configured basis.
type Builder func(strategy StrategyConfig, rotation uint64) (*frame.Runner, error)

// #endregion
