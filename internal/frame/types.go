package frame

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/control"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/gate"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region config
// Config holds frame controller parameters.
type Config struct {
	Steps  int // F: micro-steps per frame
	Frames int // default frame limit for Run
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{Steps: 4, Frames: 8}
}

func (c Config) validate() error {
	if c.Steps < 1 {
		return fmt.Errorf("steps must be at least 1, got %d", c.Steps)
	}
	if c.Frames < 1 {
		return fmt.Errorf("frames must be at least 1, got %d", c.Frames)
	}
	return nil
}

// #endregion config

// #region plan
// Plan is the receding-horizon state carried between micro-steps of a frame.
// Only its head (Controls) survives into the next search, as a warm start.
type Plan struct {
	Context  string         `json:"context"`
	Seed     uint64         `json:"seed"`
	Step     int            `json:"step"`
	Controls control.Vector `json:"controls,omitempty"`
	Applied  [][]float64    `json:"applied,omitempty"`
	Result   search.Result  `json:"result"`

	evaluations int
	oracleCalls int
	budget      int
}

// NewPlan starts a frame plan.
func NewPlan(contextID string, seed uint64) Plan {
	return Plan{Context: contextID, Seed: seed}
}

// #endregion plan

// #region result
// FrameResult is the outcome of one frame: the action decoded from the full
// frame, its energy, and the gate's verdict.
type FrameResult struct {
	Frame       int               `json:"frame"`
	Context     string            `json:"context"`
	Seed        uint64            `json:"seed"`
	Template    string            `json:"template,omitempty"`
	Action      symbolic.Action   `json:"action"`
	Signal      symbolic.Signal   `json:"signal"`
	Path        symbolic.Signal   `json:"path"` // discounted cost of the derivation ending here
	Control     control.Vector    `json:"control"`
	Evaluations int               `json:"evaluations"`
	OracleCalls int               `json:"oracle_calls"`
	Budget      int               `json:"budget"`
	Decision    gate.GateDecision `json:"decision"`
	Committed   bool              `json:"committed"`
	Bundle      search.Bundle     `json:"bundle"`
	Cause       error             `json:"-"`
}

// Resolved reports whether the frame's action scored Zero.
func (r FrameResult) Resolved() bool { return r.Signal.IsZero() }

// SearchResult restates the frame as the outcome of one search over the full
// frame mean.
func (r FrameResult) SearchResult() search.Result {
	return search.Result{
		Phase:       r.Bundle.Phase,
		Found:       r.Resolved(),
		Control:     r.Control,
		Template:    r.Template,
		Action:      r.Action,
		Signal:      r.Signal,
		Evaluations: r.Evaluations,
		OracleCalls: r.OracleCalls,
		Budget:      r.Budget,
		Seed:        r.Seed,
		Cause:       r.Cause,
	}
}

// BranchResult is the outcome of a split: per-case frames and the merge.
// Signal is the close verdict; Cost is the worst case's path cost.
type BranchResult struct {
	Cases   []string          `json:"cases"`
	Frames  [][]FrameResult   `json:"frames"`
	Signals []symbolic.Signal `json:"signals"`
	Signal  symbolic.Signal   `json:"signal"`
	Cost    symbolic.Signal   `json:"cost"`
	State   symbolic.State    `json:"-"`
	Cause   error             `json:"-"`
}

// #endregion result

// #region collaborators
// Generator produces base scores for each micro-step and accepts the bias
// chosen for it. frame indexes the frame within a run; step the micro-step.
type Generator interface {
	Scores(ctx context.Context, frame, step int) ([]float64, error)
	Apply(ctx context.Context, frame, step int, bias []float64) error
}

// Recorder persists frame outcomes.
type Recorder interface {
	RecordFrame(ctx context.Context, r FrameResult) error
}

// RunRequest describes a sequence of frames over one scope. Path holds the
// signals of steps already committed on the derivation, oldest first.
type RunRequest struct {
	Context string
	Seed    uint64
	State   symbolic.State
	Path    []symbolic.Signal
	Frames  int // 0 uses the configured limit
}

// #endregion collaborators
