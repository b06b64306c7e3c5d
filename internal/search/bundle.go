package search

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/control"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region bundle
// Bundle is the opaque audit value handed to attestation consumers. It carries
// no cryptographic binding of its own.
type Bundle struct {
	Context     string          `json:"context"`
	ContextHash string          `json:"context_hash"`
	Seed        uint64          `json:"seed"`
	Phase       Phase           `json:"phase"`
	Control     control.Vector  `json:"control"`
	Template    string          `json:"template,omitempty"`
	Action      symbolic.Action `json:"action"`
	Signal      symbolic.Signal `json:"signal"`
	Evaluations int             `json:"evaluations"`
	OracleCalls int             `json:"oracle_calls"`
}

// NewBundle packages a finished search.
func NewBundle(req Request, res Result) Bundle {
	return Bundle{
		Context:     req.Context,
		ContextHash: ContextHash(req.Context, req.State, req.BaseScores),
		Seed:        req.Seed,
		Phase:       res.Phase,
		Control:     res.Control.Clone(),
		Template:    res.Template,
		Action:      res.Action,
		Signal:      res.Signal,
		Evaluations: res.Evaluations,
		OracleCalls: res.OracleCalls,
	}
}

// ContextHash fingerprints the inputs of a search: context label, state key
// and base scores.
func ContextHash(contextID string, state symbolic.State, base []float64) string {
	h := sha256.New()
	h.Write([]byte(contextID))
	h.Write([]byte{0})
	if state != nil {
		h.Write([]byte(state.Key()))
	}
	h.Write([]byte{0})
	var buf [8]byte
	for _, x := range base {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// #endregion bundle
