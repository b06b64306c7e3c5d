package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/frame"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/logging"
	"github.com/google/uuid"
)

// #region frame-recorder
// FrameRecorder writes each finished frame as a search run plus a provenance
// entry carrying the full gate inputs. Consecutive frames of one context are
// chained through parent links.
type FrameRecorder struct {
	store      *Store
	thresholds logging.FrameThresholds

	mu   sync.Mutex
	last map[string]string // context -> latest run ID
}

var _ frame.Recorder = (*FrameRecorder)(nil)

// NewFrameRecorder creates a recorder that stamps every entry with th.
func NewFrameRecorder(s *Store, th logging.FrameThresholds) *FrameRecorder {
	return &FrameRecorder{store: s, thresholds: th, last: make(map[string]string)}
}

// RecordFrame persists r in a single transaction.
func (f *FrameRecorder) RecordFrame(ctx context.Context, r frame.FrameResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec := RunRecord{
		RunID:       uuid.New().String(),
		ParentID:    f.last[r.Context],
		Context:     r.Context,
		ContextHash: r.Bundle.ContextHash,
		Seed:        r.Seed,
		Phase:       r.Bundle.Phase,
		Found:       r.Committed,
		Control:     r.Control.Clone(),
		Template:    r.Template,
		Action:      r.Action,
		Signal:      r.Signal,
		Evaluations: r.Evaluations,
		OracleCalls: r.OracleCalls,
		Budget:      r.Budget,
		CreatedAt:   time.Now().UTC(),
	}
	entry, err := logging.FrameEntry(logging.NewFrameRecord(rec.RunID, r, f.thresholds), rec.ContextHash)
	if err != nil {
		return err
	}
	entry.CreatedAt = rec.CreatedAt

	tx, err := f.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertRun(ctx, tx, rec); err != nil {
		return err
	}
	if err := logging.LogDecision(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	f.last[r.Context] = rec.RunID
	return nil
}

// #endregion frame-recorder

// #region provenance

// Provenance returns the provenance entries for a run in insertion order.
func (s *Store) Provenance(ctx context.Context, runID string) ([]logging.ProvenanceEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, context_hash, trigger_type, signals_json, decision, reason, created_at
		 FROM provenance_log WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query provenance: %w", err)
	}
	defer rows.Close()

	var out []logging.ProvenanceEntry
	for rows.Next() {
		var (
			e                    logging.ProvenanceEntry
			contextHash, signals sql.NullString
			reason               sql.NullString
			createdAt            string
		)
		if err := rows.Scan(&e.RunID, &contextHash, &e.TriggerType, &signals, &e.Decision, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan provenance: %w", err)
		}
		e.ContextHash = contextHash.String
		e.SignalsJSON = signals.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion provenance
