package store

import (
	"time"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/control"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region run-record
// RunRecord is a persisted search outcome. Retries of the same context link
// to the attempt they replace through ParentID.
type RunRecord struct {
	RunID       string
	ParentID    string
	Context     string
	ContextHash string
	Seed        uint64
	Phase       search.Phase
	Found       bool
	Control     control.Vector
	Template    string
	Action      symbolic.Action
	Signal      symbolic.Signal
	Evaluations int
	OracleCalls int
	Budget      int
	Trace       search.Trace
	CreatedAt   time.Time
}

// #endregion run-record
