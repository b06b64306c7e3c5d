package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/control"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS search_runs (
	run_id        TEXT PRIMARY KEY,
	parent_id     TEXT,
	context       TEXT NOT NULL,
	context_hash  TEXT,
	seed          TEXT NOT NULL,
	phase         TEXT NOT NULL,
	found         INTEGER NOT NULL,
	control       BLOB NOT NULL,
	template      TEXT,
	action_json   TEXT NOT NULL,
	signal_json   TEXT NOT NULL,
	evaluations   INTEGER NOT NULL,
	oracle_calls  INTEGER NOT NULL,
	budget        INTEGER NOT NULL,
	trace_json    TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES search_runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_search_runs_context ON search_runs(context, created_at);

CREATE TABLE IF NOT EXISTS pseudo_labels (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	context       TEXT NOT NULL,
	control       BLOB NOT NULL,
	template      TEXT,
	action_json   TEXT NOT NULL,
	seed          TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pseudo_labels_context ON pseudo_labels(context, id);

CREATE TABLE IF NOT EXISTS provenance_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	context_hash  TEXT,
	trigger_type  TEXT NOT NULL,
	signals_json  TEXT,
	decision      TEXT NOT NULL,
	reason        TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES search_runs(run_id)
);
`

// #endregion schema

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// #region store-struct
// Store persists search runs, pseudo-labels and frame provenance in SQLite.
// It implements search.LabelSink and search.ProposalSource.
type Store struct {
	db *sql.DB
}

var (
	_ search.LabelSink      = (*Store)(nil)
	_ search.ProposalSource = (*Store)(nil)
)

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer; branch runners record concurrently
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region runs

// NewRunRecord builds a record for a finished search with a fresh run ID.
func NewRunRecord(parentID string, req search.Request, res search.Result) RunRecord {
	return RunRecord{
		RunID:       uuid.New().String(),
		ParentID:    parentID,
		Context:     req.Context,
		ContextHash: search.ContextHash(req.Context, req.State, req.BaseScores),
		Seed:        res.Seed,
		Phase:       res.Phase,
		Found:       res.Found,
		Control:     res.Control.Clone(),
		Template:    res.Template,
		Action:      res.Action,
		Signal:      res.Signal,
		Evaluations: res.Evaluations,
		OracleCalls: res.OracleCalls,
		Budget:      res.Budget,
		Trace:       res.Trace,
		CreatedAt:   time.Now().UTC(),
	}
}

// RecordRun inserts a run.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertRun(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, rec RunRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	actionJSON, err := json.Marshal(rec.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	signalJSON, err := json.Marshal(rec.Signal)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	var traceJSON interface{}
	if len(rec.Trace) > 0 {
		b, err := json.Marshal(rec.Trace)
		if err != nil {
			return fmt.Errorf("marshal trace: %w", err)
		}
		traceJSON = string(b)
	}
	var parentID interface{}
	if rec.ParentID != "" {
		parentID = rec.ParentID
	}
	var contextHash interface{}
	if rec.ContextHash != "" {
		contextHash = rec.ContextHash
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO search_runs (run_id, parent_id, context, context_hash, seed, phase, found, control,
		 template, action_json, signal_json, evaluations, oracle_calls, budget, trace_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, parentID, rec.Context, contextHash, strconv.FormatUint(rec.Seed, 10),
		string(rec.Phase), boolToInt(rec.Found), encodeControl(rec.Control),
		rec.Template, string(actionJSON), string(signalJSON),
		rec.Evaluations, rec.OracleCalls, rec.Budget, traceJSON,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `run_id, parent_id, context, context_hash, seed, phase, found, control,
	template, action_json, signal_json, evaluations, oracle_calls, budget, trace_json, created_at`

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM search_runs WHERE run_id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM search_runs ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Lineage walks parent links from id back to the first attempt. The result
// starts at id.
func (s *Store) Lineage(ctx context.Context, id string) ([]RunRecord, error) {
	var out []RunRecord
	seen := make(map[string]bool)
	for id != "" {
		if seen[id] {
			return nil, fmt.Errorf("lineage: cycle at %s", id)
		}
		seen[id] = true
		rec, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		id = rec.ParentID
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		rec                    RunRecord
		parentID, contextHash  sql.NullString
		template, traceJSON    sql.NullString
		seed, phase, createdAt string
		actionJSON, signalJSON string
		found                  int
		blob                   []byte
	)
	err := row.Scan(&rec.RunID, &parentID, &rec.Context, &contextHash, &seed, &phase, &found, &blob,
		&template, &actionJSON, &signalJSON, &rec.Evaluations, &rec.OracleCalls, &rec.Budget,
		&traceJSON, &createdAt)
	if err != nil {
		return RunRecord{}, err
	}

	rec.ParentID = parentID.String
	rec.ContextHash = contextHash.String
	rec.Template = template.String
	rec.Phase = search.Phase(phase)
	rec.Found = found != 0
	rec.Control = decodeControl(blob)
	rec.Seed, err = strconv.ParseUint(seed, 10, 64)
	if err != nil {
		return RunRecord{}, fmt.Errorf("parse seed: %w", err)
	}
	if err := json.Unmarshal([]byte(actionJSON), &rec.Action); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal action: %w", err)
	}
	if err := json.Unmarshal([]byte(signalJSON), &rec.Signal); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal signal: %w", err)
	}
	if traceJSON.Valid {
		if err := json.Unmarshal([]byte(traceJSON.String), &rec.Trace); err != nil {
			return RunRecord{}, fmt.Errorf("unmarshal trace: %w", err)
		}
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return rec, nil
}

// #endregion runs

// #region labels

// Emit stores a pseudo-label.
func (s *Store) Emit(ctx context.Context, label search.Label) error {
	actionJSON, err := json.Marshal(label.Action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pseudo_labels (context, control, template, action_json, seed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		label.Context, encodeControl(label.Control), label.Template, string(actionJSON),
		strconv.FormatUint(label.Seed, 10), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("emit label: %w", err)
	}
	return nil
}

// Proposal returns the control vector of the latest label for contextID.
func (s *Store) Proposal(ctx context.Context, contextID string) (control.Vector, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT control FROM pseudo_labels WHERE context = ? ORDER BY id DESC LIMIT 1`, contextID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("proposal %s: %w", contextID, err)
	}
	return decodeControl(blob), true, nil
}

// Labels returns up to limit labels for contextID, newest first.
func (s *Store) Labels(ctx context.Context, contextID string, limit int) ([]search.Label, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT context, control, template, action_json, seed FROM pseudo_labels
		 WHERE context = ? ORDER BY id DESC LIMIT ?`, contextID, limit)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	var out []search.Label
	for rows.Next() {
		var (
			l          search.Label
			blob       []byte
			template   sql.NullString
			actionJSON string
			seed       string
		)
		if err := rows.Scan(&l.Context, &blob, &template, &actionJSON, &seed); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		l.Control = decodeControl(blob)
		l.Template = template.String
		if err := json.Unmarshal([]byte(actionJSON), &l.Action); err != nil {
			return nil, fmt.Errorf("unmarshal action: %w", err)
		}
		if l.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
			return nil, fmt.Errorf("parse seed: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// #endregion labels

// #region encoding

// Control vectors are stored as little-endian uint32 coordinates; every
// coordinate lies in [0, modulus).
func encodeControl(v control.Vector) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(x))
	}
	return buf
}

func decodeControl(b []byte) control.Vector {
	v := make(control.Vector, len(b)/4)
	for i := range v {
		v[i] = int(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion encoding
