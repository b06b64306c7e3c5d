package codec

import (
	"encoding/json"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region methods
// Service and method names. Every message is a google.protobuf.Struct
// carrying the JSON form of the request and reply types below.
const (
	VerifierService  = "vapo.Verifier"
	GeneratorService = "vapo.Generator"

	MethodTransition = "/" + VerifierService + "/Transition"
	MethodEnergy     = "/" + VerifierService + "/Energy"
	MethodAdmissible = "/" + VerifierService + "/Admissible"
	MethodVerbalize  = "/" + VerifierService + "/Verbalize"
	MethodEnter      = "/" + VerifierService + "/Enter"
	MethodJoin       = "/" + VerifierService + "/Join"

	MethodScores = "/" + GeneratorService + "/Scores"
	MethodApply  = "/" + GeneratorService + "/Apply"
)

// #endregion methods

// #region state
// State is a verifier state owned by the remote side. ID is its stable key;
// Payload is opaque to the controller and echoed back on every call.
type State struct {
	ID      string          `json:"key"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Key implements symbolic.State.
func (s State) Key() string { return s.ID }

// StateCodec converts between a local verifier's states and wire payloads.
type StateCodec interface {
	Encode(s symbolic.State) (json.RawMessage, error)
	Decode(payload json.RawMessage) (symbolic.State, error)
}

// #endregion state

// #region messages
type stateActionRequest struct {
	State  State           `json:"state"`
	Action symbolic.Action `json:"action"`
}

type stateRequest struct {
	State State `json:"state"`
}

type verbalizeRequest struct {
	Template symbolic.ActionTemplate `json:"template"`
}

type enterRequest struct {
	Parent State           `json:"parent"`
	Split  symbolic.Action `json:"split"`
	Case   int             `json:"case"`
}

type joinRequest struct {
	Parent   State   `json:"parent"`
	Children []State `json:"children"`
}

type stateReply struct {
	State State `json:"state"`
}

type signalReply struct {
	Signal symbolic.Signal `json:"signal"`
}

type templatesReply struct {
	Templates []symbolic.ActionTemplate `json:"templates"`
}

type prototypeReply struct {
	Prototype []float64 `json:"prototype"`
}

type scoresRequest struct {
	Session string `json:"session"`
	Frame   int    `json:"frame"`
	Step    int    `json:"step"`
}

type applyRequest struct {
	Session string    `json:"session"`
	Frame   int       `json:"frame"`
	Step    int       `json:"step"`
	Bias    []float64 `json:"bias"`
}

type scoresReply struct {
	Scores []float64 `json:"scores"`
}

type emptyReply struct{}

// #endregion messages
