package orchestrator

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

var defineNarrowRoot = FrameClass{Lead: symbolic.ActionDefine, Breadth: BreadthNarrow, Scope: ScopeRoot}

func record(t *testing.T, mem *StrategyMemory, sid StrategyID, quality float64, accepted bool, at time.Time) {
	t.Helper()
	err := mem.RecordOutcome(context.Background(), OutcomeRecord{
		FrameID: "ctx#0", Lead: defineNarrowRoot.Lead, Breadth: defineNarrowRoot.Breadth,
		Scope: defineNarrowRoot.Scope, StrategyID: sid, AttemptNum: 0,
		Quality: quality, FailureType: FailureNone, Evaluations: 8,
		Accepted: accepted, CreatedAt: at,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStrategyMemory_RecordAndQuery(t *testing.T) {
	ctx := context.Background()
	mem, err := NewStrategyMemory(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}

	// No data → empty result
	sid, _, err := mem.BestStrategy(ctx, defineNarrowRoot)
	if err != nil {
		t.Fatal(err)
	}
	if sid != "" {
		t.Errorf("expected empty strategy, got %q", sid)
	}

	// 2 samples → still below threshold of 3
	for i := 0; i < 2; i++ {
		record(t, mem, StrategyWideBudget, 0.8, true, time.Now())
	}
	sid, _, err = mem.BestStrategy(ctx, defineNarrowRoot)
	if err != nil {
		t.Fatal(err)
	}
	if sid != "" {
		t.Errorf("expected empty (below threshold), got %q", sid)
	}

	// 3rd sample → wide_budget
	record(t, mem, StrategyWideBudget, 0.9, true, time.Now())
	sid, score, err := mem.BestStrategy(ctx, defineNarrowRoot)
	if err != nil {
		t.Fatal(err)
	}
	if sid != StrategyWideBudget {
		t.Errorf("expected %q, got %q", StrategyWideBudget, sid)
	}
	if score < 0.8 || score > 0.9 {
		t.Errorf("expected score in [0.8, 0.9], got %.3f", score)
	}
}

func TestStrategyMemory_BestStrategy_PicksHigherQuality(t *testing.T) {
	mem, err := NewStrategyMemory(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	for i := 0; i < 4; i++ {
		record(t, mem, StrategyBaseline, 0.4, true, now)
		record(t, mem, StrategyRotateBasis, 0.9, true, now)
	}

	sid, _, err := mem.BestStrategy(context.Background(), defineNarrowRoot)
	if err != nil {
		t.Fatal(err)
	}
	if sid != StrategyRotateBasis {
		t.Errorf("expected %q, got %q", StrategyRotateBasis, sid)
	}
}

func TestStrategyMemory_IgnoresRejectedAttempts(t *testing.T) {
	mem, err := NewStrategyMemory(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		record(t, mem, StrategyStochastic, 0.1, false, time.Now())
	}
	sid, _, err := mem.BestStrategy(context.Background(), defineNarrowRoot)
	if err != nil {
		t.Fatal(err)
	}
	if sid != "" {
		t.Errorf("rejected attempts must not count, got %q", sid)
	}
}

func TestStrategyMemory_SeparatesClasses(t *testing.T) {
	mem, err := NewStrategyMemory(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		record(t, mem, StrategyWideBudget, 0.7, true, time.Now())
	}
	other := FrameClass{Lead: symbolic.ActionDefine, Breadth: BreadthNarrow, Scope: ScopeCase}
	sid, _, err := mem.BestStrategy(context.Background(), other)
	if err != nil {
		t.Fatal(err)
	}
	if sid != "" {
		t.Errorf("case scope must not see root outcomes, got %q", sid)
	}
}

func TestStrategyMemory_DecayFavoursRecent(t *testing.T) {
	mem, err := NewStrategyMemory(newTestDB(t))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mem.now = func() time.Time { return now }

	// wide_budget: two old excellent results and one recent poor one
	record(t, mem, StrategyWideBudget, 1.0, true, now.Add(-60*24*time.Hour))
	record(t, mem, StrategyWideBudget, 1.0, true, now.Add(-60*24*time.Hour))
	record(t, mem, StrategyWideBudget, 0.2, true, now)
	// baseline: steady recent results
	for i := 0; i < 3; i++ {
		record(t, mem, StrategyBaseline, 0.5, true, now)
	}

	sid, score, err := mem.BestStrategy(context.Background(), defineNarrowRoot)
	if err != nil {
		t.Fatal(err)
	}
	if sid != StrategyBaseline {
		t.Errorf("expected %q, got %q (score %.3f)", StrategyBaseline, sid, score)
	}
}

func TestStrategyMemory_DefaultsCreatedAt(t *testing.T) {
	db := newTestDB(t)
	mem, err := NewStrategyMemory(db)
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mem.now = func() time.Time { return at }
	record(t, mem, StrategyBaseline, 0.5, true, time.Time{})

	var created string
	if err := db.QueryRow("SELECT created_at FROM strategy_outcomes").Scan(&created); err != nil {
		t.Fatal(err)
	}
	if created != at.Format(time.RFC3339Nano) {
		t.Errorf("created_at = %q, want %q", created, at.Format(time.RFC3339Nano))
	}
}

func TestStrategyMemory_ClosedDB(t *testing.T) {
	db := newTestDB(t)
	mem, err := NewStrategyMemory(db)
	if err != nil {
		t.Fatal(err)
	}
	db.Close()
	if _, _, err := mem.BestStrategy(context.Background(), defineNarrowRoot); err == nil {
		t.Error("expected error on closed db")
	}
	err = mem.RecordOutcome(context.Background(), OutcomeRecord{FrameID: "x", CreatedAt: time.Now()})
	if err == nil {
		t.Error("expected error on closed db")
	}
}
