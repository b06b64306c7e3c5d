package verifier

// #region parity
// Parity is the sort of a bound symbol.
type Parity string

const (
	Odd  Parity = "odd"
	Even Parity = "even"
)

// ParseParity maps a sort name to a Parity.
func ParseParity(s string) (Parity, bool) {
	switch Parity(s) {
	case Odd, Even:
		return Parity(s), true
	}
	return "", false
}

// #endregion parity

// #region snapshot
// FrameSnapshot is the serialized form of one scope frame.
type FrameSnapshot struct {
	Parent   int               `json:"parent"`
	Case     string            `json:"case,omitempty"`
	Bindings map[string]Parity `json:"bindings,omitempty"`
}

// Snapshot is the serialized form of a State: the frame arena plus the index
// of the innermost open scope.
type Snapshot struct {
	Frames []FrameSnapshot `json:"frames"`
	Top    int             `json:"top"`
}

// #endregion snapshot

// maxSplitDepth bounds nested split scopes.
const maxSplitDepth = 4
