package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/frame"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// #region log-decision
// LogDecision writes a provenance entry to the provenance_log table.
func LogDecision(ctx context.Context, db Execer, entry ProvenanceEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO provenance_log (run_id, context_hash, trigger_type, signals_json, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		nullIfEmpty(entry.ContextHash),
		entry.TriggerType,
		nullIfEmpty(entry.SignalsJSON),
		entry.Decision,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region frame-record
// NewFrameRecord flattens a finished frame into its provenance record.
func NewFrameRecord(runID string, r frame.FrameResult, th FrameThresholds) FrameRecord {
	return FrameRecord{
		RunID:         runID,
		Context:       r.Context,
		Frame:         r.Frame,
		Seed:          r.Seed,
		Template:      r.Template,
		Action:        r.Action,
		Signal:        r.Signal,
		Path:          r.Path,
		Control:       r.Control.Clone(),
		Evaluations:   r.Evaluations,
		OracleCalls:   r.OracleCalls,
		Budget:        r.Budget,
		Thresholds:    th,
		GateAction:    r.Decision.Action,
		GateSoftScore: r.Decision.SoftScore,
		GateVetoed:    r.Decision.Vetoed,
		GateReason:    r.Decision.Reason,
		Vetoes:        r.Decision.VetoSignals,
	}
}

// FrameEntry builds the provenance row for a frame record.
func FrameEntry(rec FrameRecord, contextHash string) (ProvenanceEntry, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return ProvenanceEntry{}, fmt.Errorf("marshal frame record: %w", err)
	}
	return ProvenanceEntry{
		RunID:       rec.RunID,
		ContextHash: contextHash,
		TriggerType: "frame",
		SignalsJSON: string(b),
		Decision:    rec.GateAction,
		Reason:      rec.GateReason,
	}, nil
}

// #endregion frame-record

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
