package search

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/control"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/decoder"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region phase
// Phase is the search state machine position.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSearching Phase = "searching"
	PhaseConverged Phase = "converged"
	PhaseExhausted Phase = "exhausted"
)

// MoveMode names how a candidate was produced.
type MoveMode string

const (
	MoveInitial MoveMode = "initial"
	MoveDescent MoveMode = "descent"
	MoveTunnel  MoveMode = "tunnel"
)

// #endregion phase

// #region config
// Config holds search parameters.
type Config struct {
	Dim            int     // k
	Modulus        int     // L
	Budget         int     // default evaluation ceiling (N_max)
	Lambda         float64 // weight of the valuation-weighted control magnitude
	StallThreshold int     // non-improving iterations before tunneling
	HighCost       float64 // energies above this go straight to tunneling
	DescentStep    int     // coordinate step of a surrogate descent move
	CoarsePenalty  float64 // tunneling bias against coarse coordinates
	MaxResample    int     // redraws when a tunnel lands on a visited vector
	Decode         decoder.Mode
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		Dim:            16,
		Modulus:        32,
		Budget:         64,
		Lambda:         0.05,
		StallThreshold: 4,
		HighCost:       1.0,
		DescentStep:    1,
		CoarsePenalty:  2.0,
		MaxResample:    8,
		Decode:         decoder.Deterministic(),
	}
}

func (c Config) validate() error {
	switch {
	case c.Dim <= 0:
		return fmt.Errorf("dim must be positive, got %d", c.Dim)
	case c.Modulus < 2:
		return fmt.Errorf("modulus must be at least 2, got %d", c.Modulus)
	case c.Budget < 0:
		return fmt.Errorf("budget must be non-negative, got %d", c.Budget)
	case c.Lambda < 0:
		return fmt.Errorf("lambda must be non-negative, got %f", c.Lambda)
	case c.StallThreshold < 1:
		return fmt.Errorf("stall threshold must be at least 1, got %d", c.StallThreshold)
	case c.HighCost <= 0:
		return fmt.Errorf("high cost must be positive, got %f", c.HighCost)
	case c.DescentStep < 1:
		return fmt.Errorf("descent step must be at least 1, got %d", c.DescentStep)
	case c.MaxResample < 0:
		return fmt.Errorf("max resample must be non-negative, got %d", c.MaxResample)
	}
	return nil
}

// #endregion config

// #region request
// Request is one search invocation. Budget < 0 uses the engine default;
// Budget == 0 evaluates nothing.
type Request struct {
	Context    string
	BaseScores []float64
	State      symbolic.State
	Budget     int
	Initial    control.Vector
	Seed       uint64
}

// #endregion request

// #region trace
// Cost is a regularized cost that survives JSON round trips when infinite.
type Cost float64

func (c Cost) MarshalJSON() ([]byte, error) {
	if math.IsInf(float64(c), 1) {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(float64(c))
}

func (c *Cost) UnmarshalJSON(b []byte) error {
	if string(b) == `"inf"` {
		*c = Cost(math.Inf(1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("decode cost: %w", err)
	}
	*c = Cost(f)
	return nil
}

// Entry records one candidate evaluation.
type Entry struct {
	Iteration    int             `json:"iteration"`
	Mode         MoveMode        `json:"mode"`
	Control      control.Vector  `json:"control"`
	Template     string          `json:"template"`
	Action       symbolic.Action `json:"action"`
	Signal       symbolic.Signal `json:"signal"`
	Cost         Cost            `json:"cost"`
	Accepted     bool            `json:"accepted"`
	OracleCalled bool            `json:"oracle_called"`
}

// Trace is the ordered evaluation log of one search.
type Trace []Entry

// #endregion trace

// #region result
// Result is the outcome of a search. Found distinguishes Some from None;
// Control, Action and Signal always describe the best-effort candidate.
type Result struct {
	Phase       Phase           `json:"phase"`
	Found       bool            `json:"found"`
	Control     control.Vector  `json:"control"`
	Template    string          `json:"template,omitempty"`
	Action      symbolic.Action `json:"action"`
	Signal      symbolic.Signal `json:"signal"`
	Cost        Cost            `json:"cost"`
	Evaluations int             `json:"evaluations"`
	OracleCalls int             `json:"oracle_calls"`
	Budget      int             `json:"budget"`
	Seed        uint64          `json:"seed"`
	Trace       Trace           `json:"trace"`
	Cause       error           `json:"-"` // ErrNoAdmissibleAction when the fiber was empty
}

// Solution returns the winning control vector, if any.
func (r Result) Solution() (control.Vector, bool) {
	if !r.Found {
		return nil, false
	}
	return r.Control, true
}

// #endregion result

// #region collaborators
// Label is a converged (context, control) pair handed to a training consumer.
type Label struct {
	Context  string          `json:"context"`
	Control  control.Vector  `json:"control"`
	Template string          `json:"template"`
	Action   symbolic.Action `json:"action"`
	Seed     uint64          `json:"seed"`
}

// LabelSink receives pseudo-labels on convergence.
type LabelSink interface {
	Emit(ctx context.Context, label Label) error
}

// ProposalSource supplies a starting control vector for a context.
type ProposalSource interface {
	Proposal(ctx context.Context, contextID string) (control.Vector, bool, error)
}

// #endregion collaborators
