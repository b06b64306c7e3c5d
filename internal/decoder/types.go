package decoder

import "github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"

// #region mode
// ModeKind selects how the decoder picks among admissible candidates.
type ModeKind string

const (
	ModeDeterministic ModeKind = "deterministic"
	ModeStochastic    ModeKind = "stochastic"
)

// Mode is a decode policy. Temperature is used only in stochastic mode.
type Mode struct {
	Kind        ModeKind `json:"kind"`
	Temperature float64  `json:"temperature,omitempty"`
}

// Deterministic returns the argmax policy.
func Deterministic() Mode { return Mode{Kind: ModeDeterministic} }

// Stochastic returns a temperature-scaled sampling policy.
func Stochastic(temperature float64) Mode {
	return Mode{Kind: ModeStochastic, Temperature: temperature}
}

// #endregion mode

// #region candidate
// Candidate is one member of the admissible fiber with its prototype vector.
type Candidate struct {
	Template  symbolic.ActionTemplate
	Prototype []float64
}

// #endregion candidate
