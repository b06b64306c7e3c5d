package orchestrator

// #region imports
import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"
)

// #endregion

// #region schema

const strategyOutcomesSchema = `
CREATE TABLE IF NOT EXISTS strategy_outcomes (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    frame_id      TEXT NOT NULL,
    lead          TEXT NOT NULL,
    breadth       TEXT NOT NULL,
    scope         TEXT NOT NULL,
    strategy_id   TEXT NOT NULL,
    attempt_num   INTEGER NOT NULL,
    quality       REAL NOT NULL,
    failure_type  TEXT NOT NULL DEFAULT 'none',
    evaluations   INTEGER NOT NULL DEFAULT 0,
    soft_score    REAL NOT NULL DEFAULT 0,
    accepted      INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL
);
`

const strategyOutcomesIndex = `
CREATE INDEX IF NOT EXISTS idx_strategy_outcomes_lookup
ON strategy_outcomes(lead, breadth, scope, strategy_id);
`

// halfLife is the age at which an outcome's weight has decayed to 1/e.
const halfLife = 7 * 24 * time.Hour

// minSamples is the number of accepted outcomes a strategy needs before it
// can be preferred.
const minSamples = 3

// #endregion

// #region memory-struct

// StrategyMemory persists strategy outcomes in SQLite and queries decay-weighted results.
type StrategyMemory struct {
	db  *sql.DB
	now func() time.Time
}

// NewStrategyMemory initializes the strategy_outcomes table and returns a StrategyMemory.
func NewStrategyMemory(db *sql.DB) (*StrategyMemory, error) {
	if _, err := db.Exec(strategyOutcomesSchema); err != nil {
		return nil, fmt.Errorf("create strategy_outcomes: %w", err)
	}
	if _, err := db.Exec(strategyOutcomesIndex); err != nil {
		return nil, fmt.Errorf("index strategy_outcomes: %w", err)
	}
	return &StrategyMemory{db: db, now: time.Now}, nil
}

// #endregion

// #region record-outcome

// RecordOutcome persists a single strategy outcome row.
func (m *StrategyMemory) RecordOutcome(ctx context.Context, rec OutcomeRecord) error {
	accepted := 0
	if rec.Accepted {
		accepted = 1
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO strategy_outcomes
		(frame_id, lead, breadth, scope, strategy_id, attempt_num,
		 quality, failure_type, evaluations, soft_score, accepted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FrameID,
		string(rec.Lead),
		string(rec.Breadth),
		string(rec.Scope),
		string(rec.StrategyID),
		rec.AttemptNum,
		rec.Quality,
		string(rec.FailureType),
		rec.Evaluations,
		rec.SoftScore,
		accepted,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// #endregion

// #region best-strategy

// BestStrategy returns the strategy with the highest decay-weighted quality
// among accepted outcomes for the given frame class. Returns ("", 0, nil)
// when no strategy has at least minSamples.
func (m *StrategyMemory) BestStrategy(ctx context.Context, class FrameClass) (StrategyID, float64, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT strategy_id, quality, created_at
		FROM strategy_outcomes
		WHERE lead = ? AND breadth = ? AND scope = ? AND accepted = 1`,
		string(class.Lead), string(class.Breadth), string(class.Scope),
	)
	if err != nil {
		return "", 0, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	type stratAccum struct {
		weightedSum float64
		totalWeight float64
		count       int
	}

	now := m.now()
	accum := make(map[StrategyID]*stratAccum)

	for rows.Next() {
		var sid string
		var quality float64
		var createdAtStr string
		if err := rows.Scan(&sid, &quality, &createdAtStr); err != nil {
			return "", 0, fmt.Errorf("scan outcome: %w", err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			continue
		}
		weight := math.Exp(-now.Sub(createdAt).Hours() / halfLife.Hours())

		stratID := StrategyID(sid)
		if _, ok := accum[stratID]; !ok {
			accum[stratID] = &stratAccum{}
		}
		accum[stratID].weightedSum += quality * weight
		accum[stratID].totalWeight += weight
		accum[stratID].count++
	}
	if err := rows.Err(); err != nil {
		return "", 0, fmt.Errorf("read outcomes: %w", err)
	}

	var bestID StrategyID
	bestScore := -1.0

	// iterate in a fixed order so equal scores pick the same strategy
	for _, sid := range strategyOrder {
		a, ok := accum[sid]
		if !ok || a.count < minSamples || a.totalWeight == 0 {
			continue
		}
		avg := a.weightedSum / a.totalWeight
		if avg > bestScore {
			bestScore = avg
			bestID = sid
		}
	}
	if bestID == "" {
		return "", 0, nil
	}
	return bestID, bestScore, nil
}

// #endregion
