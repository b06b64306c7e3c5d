package gate

import "github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"

// #region veto-type
// VetoType enumerates hard veto categories.
type VetoType string

const (
	VetoNoAdmissible   VetoType = "no_admissible_action"
	VetoMalformedMerge VetoType = "malformed_merge"
	VetoOracleTimeout  VetoType = "oracle_timeout"
	VetoUnresolved     VetoType = "unresolved_energy"
	VetoBudget         VetoType = "budget_overrun"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type   VetoType `json:"type"`
	Reason string   `json:"reason"`
}

// #endregion veto-signal

// #region gate-config
// GateConfig holds thresholds for gate decisions.
type GateConfig struct {
	RequireZero bool    // only Zero energy commits
	MaxScalar   float64 // with RequireZero off, the largest scalarized energy that still commits
	Norm        symbolic.Norm
}

// DefaultGateConfig returns the strict gate: a frame commits only on Zero.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		RequireZero: true,
		MaxScalar:   0,
		Norm:        symbolic.NormL2,
	}
}

// #endregion gate-config

// #region gate-input
// Input is the outcome of one frame as seen by the gate.
type Input struct {
	Signal      symbolic.Signal
	Cause       error
	Evaluations int
	Budget      int
	OracleCalls int
	Magnitude   float64 // valuation-weighted control magnitude in [0,1]
}

// #endregion gate-input

// #region gate-decision
// Decision values.
const (
	ActionCommit = "commit"
	ActionReject = "reject"
)

// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action      string       `json:"action"` // "commit" | "reject"
	Reason      string       `json:"reason"`
	Vetoed      bool         `json:"vetoed"`
	VetoSignals []VetoSignal `json:"veto_signals,omitempty"`
	SoftScore   float64      `json:"soft_score"` // 0-1 composite of soft signals (for logging)
}

// Committed reports whether the decision lets the frame through.
func (d GateDecision) Committed() bool { return d.Action == ActionCommit }

// #endregion gate-decision
