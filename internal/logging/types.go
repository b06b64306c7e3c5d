package logging

import (
	"time"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/control"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/gate"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region provenance-entry
// ProvenanceEntry is a single row in the provenance_log table.
type ProvenanceEntry struct {
	RunID       string
	ContextHash string
	TriggerType string // "frame"
	SignalsJSON string
	Decision    string // "commit" | "reject"
	Reason      string
	CreatedAt   time.Time
}

// #endregion provenance-entry

// #region frame-record
// FrameRecord captures the complete gate inputs for a single frame.
// Serialized as JSON into provenance_log.signals_json for deterministic replay.
type FrameRecord struct {
	RunID    string          `json:"run_id"`
	Context  string          `json:"context"`
	Frame    int             `json:"frame"`
	Seed     uint64          `json:"seed"`
	Template string          `json:"template"`
	Action   symbolic.Action `json:"action"`
	Signal   symbolic.Signal `json:"signal"`
	Path     symbolic.Signal `json:"path"`
	Control  control.Vector  `json:"control"`

	// Search effort
	Evaluations int `json:"evaluations"`
	OracleCalls int `json:"oracle_calls"`
	Budget      int `json:"budget"`

	// Gate and search thresholds active at decision time
	Thresholds FrameThresholds `json:"thresholds"`

	// Gate output
	GateAction    string            `json:"gate_action"`
	GateSoftScore float64           `json:"gate_soft_score"`
	GateVetoed    bool              `json:"gate_vetoed"`
	GateReason    string            `json:"gate_reason"`
	Vetoes        []gate.VetoSignal `json:"vetoes,omitempty"`
}

// FrameThresholds captures the gate/search config active at decision time.
type FrameThresholds struct {
	RequireZero bool    `json:"require_zero"`
	MaxScalar   float64 `json:"max_scalar"`
	Dim         int     `json:"dim"`
	Modulus     int     `json:"modulus"`
	Lambda      float64 `json:"lambda"`
	Steps       int     `json:"steps"`
}

// #endregion frame-record
