package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/canon"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/decoder"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/energy"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/frame"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/projection"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/verifier"
)

const (
	vocab   = 16
	dim     = 4
	modulus = 8
)

var (
	defineA = symbolic.ActionTemplate{ID: "define-a", Action: symbolic.Action{Kind: symbolic.ActionDefine, Symbol: "a", Path: []string{"int", "odd"}}}
	closeT  = symbolic.ActionTemplate{ID: "close", Action: symbolic.Action{Kind: symbolic.ActionClose}}
)

type build struct {
	strategy StrategyID
	rotation uint64
}

type harness struct {
	db      *sql.DB
	checker *verifier.Checker
	orch    *Orchestrator

	mu     sync.Mutex
	builds []build
}

// newHarness wires an orchestrator over the parity checker. Every build
// gets a fresh engine whose projection seed is the rotation when non-zero.
func newHarness(t *testing.T, templates []symbolic.ActionTemplate, enabled bool, opts ...Option) *harness {
	t.Helper()
	cat, err := verifier.NewCatalog(vocab, 3, templates)
	if err != nil {
		t.Fatal(err)
	}
	flat := make([]float64, vocab)
	for i := range flat {
		flat[i] = 0.25
	}
	for _, tpl := range templates {
		if tpl.ID == defineA.ID {
			if err := cat.SetPrototype(defineA.ID, flat); err != nil {
				t.Fatal(err)
			}
		}
	}

	h := &harness{db: newTestDB(t), checker: verifier.NewChecker(cat)}
	base := search.DefaultConfig()
	base.Dim, base.Modulus, base.Budget = dim, modulus, 16

	builder := func(s StrategyConfig, rotation uint64) (*frame.Runner, error) {
		h.mu.Lock()
		h.builds = append(h.builds, build{s.ID, rotation})
		h.mu.Unlock()

		seed := uint64(21)
		if rotation != 0 {
			seed = rotation
		}
		proj, err := projection.New(projection.Config{Vocab: vocab, Dim: dim, Modulus: modulus, Seed: seed})
		if err != nil {
			return nil, err
		}
		dec := decoder.New(h.checker)
		model := energy.NewModel(h.checker, canon.New(canon.DefaultConfig()), energy.DefaultConfig())
		eng, err := search.NewEngine(s.SearchConfig(base), proj, dec, model)
		if err != nil {
			return nil, err
		}
		ctrl, err := frame.NewController(frame.Config{Steps: 2, Frames: 4}, eng, dec, model, nil)
		if err != nil {
			return nil, err
		}
		return frame.NewRunner(ctrl, h.checker, nil), nil
	}

	h.orch, err = NewOrchestrator(h.db, builder, h.checker, zaptest.NewLogger(t), enabled, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) outcomeRows(t *testing.T) (total, accepted int) {
	t.Helper()
	err := h.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(accepted), 0) FROM strategy_outcomes").Scan(&total, &accepted)
	if err != nil {
		t.Fatal(err)
	}
	return total, accepted
}

// zeroGen returns flat zero scores and discards biases.
type zeroGen struct{}

func (zeroGen) Scores(context.Context, int, int) ([]float64, error) {
	return make([]float64, vocab), nil
}

func (zeroGen) Apply(context.Context, int, int, []float64) error { return nil }

func boundA() symbolic.State {
	return verifier.NewStateWith(map[string]verifier.Parity{"a": verifier.Odd})
}

func TestOrchestrator_CommitsFirstAttempt(t *testing.T) {
	h := newHarness(t, []symbolic.ActionTemplate{defineA}, true)

	out, next, err := h.orch.RunFrame(context.Background(), zeroGen{}, 0, "ctx", 7, verifier.NewState(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Accepted != 0 || len(out.Attempts) != 1 {
		t.Fatalf("accepted=%d attempts=%d, want 0 and 1", out.Accepted, len(out.Attempts))
	}
	if got := out.Final().Strategy; got != StrategyBaseline {
		t.Errorf("strategy = %q, want %q", got, StrategyBaseline)
	}
	if out.Class.Breadth != BreadthSingle || out.Class.Lead != symbolic.ActionDefine {
		t.Errorf("class = %+v", out.Class)
	}
	if _, ok := next.(verifier.State).Lookup("a"); !ok {
		t.Error("committed define must bind a")
	}
	if total, accepted := h.outcomeRows(t); total != 1 || accepted != 1 {
		t.Errorf("outcome rows total=%d accepted=%d, want 1 and 1", total, accepted)
	}
}

func TestOrchestrator_RetriesRejectedFrame(t *testing.T) {
	h := newHarness(t, []symbolic.ActionTemplate{defineA}, true)
	state := boundA()

	out, next, err := h.orch.RunFrame(context.Background(), zeroGen{}, 1, "ctx", 7, state, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Accepted != -1 {
		t.Errorf("redefinition must never commit, accepted=%d", out.Accepted)
	}
	want := []StrategyID{StrategyBaseline, StrategyWideBudget, StrategyRotateBasis}
	if len(out.Attempts) != len(want) {
		t.Fatalf("got %d attempts, want %d", len(out.Attempts), len(want))
	}
	seeds := make(map[uint64]bool)
	for i, a := range out.Attempts {
		if a.Strategy != want[i] {
			t.Errorf("attempt %d strategy = %q, want %q", i, a.Strategy, want[i])
		}
		if a.Evaluation.FailureType != FailureExhausted {
			t.Errorf("attempt %d failure = %q, want %q", i, a.Evaluation.FailureType, FailureExhausted)
		}
		seeds[a.Seed] = true
	}
	if len(seeds) != len(want) {
		t.Error("each attempt should draw its own seed")
	}
	if out.Attempts[0].Rotation != 0 || out.Attempts[2].Rotation == 0 {
		t.Errorf("rotations = %d, %d; only rotate_basis rotates", out.Attempts[0].Rotation, out.Attempts[2].Rotation)
	}
	if next.Key() != state.Key() {
		t.Error("rejected frame must not advance the state")
	}
	if total, accepted := h.outcomeRows(t); total != 3 || accepted != 0 {
		t.Errorf("outcome rows total=%d accepted=%d, want 3 and 0", total, accepted)
	}
}

func TestOrchestrator_RetryLimit(t *testing.T) {
	h := newHarness(t, []symbolic.ActionTemplate{defineA}, true, WithMaxRetries(1))

	out, _, err := h.orch.RunFrame(context.Background(), zeroGen{}, 0, "ctx", 7, boundA(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Attempts) != 2 {
		t.Fatalf("got %d attempts, want 2", len(out.Attempts))
	}
	if out.Attempts[1].Strategy != StrategyWideBudget {
		t.Errorf("retry strategy = %q, want %q", out.Attempts[1].Strategy, StrategyWideBudget)
	}
}

func TestOrchestrator_DisabledRunsOnce(t *testing.T) {
	h := newHarness(t, []symbolic.ActionTemplate{defineA}, false)
	if h.orch.Enabled() {
		t.Fatal("orchestrator should be disabled")
	}

	out, _, err := h.orch.RunFrame(context.Background(), zeroGen{}, 0, "ctx", 7, boundA(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Attempts) != 1 || out.Attempts[0].Strategy != StrategyBaseline {
		t.Errorf("disabled orchestrator ran %d attempts", len(out.Attempts))
	}
}

func TestOrchestrator_NoAdmissibleNotRetried(t *testing.T) {
	h := newHarness(t, []symbolic.ActionTemplate{closeT}, true)

	out, _, err := h.orch.RunFrame(context.Background(), zeroGen{}, 0, "ctx", 7, verifier.NewState(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Attempts) != 1 {
		t.Fatalf("got %d attempts, want 1", len(out.Attempts))
	}
	if got := out.Final().Evaluation.FailureType; got != FailureNoAdmissible {
		t.Errorf("failure = %q, want %q", got, FailureNoAdmissible)
	}
	if out.Class.Breadth != BreadthNone {
		t.Errorf("breadth = %q, want %q", out.Class.Breadth, BreadthNone)
	}
}

func TestOrchestrator_LearnedInitialStrategy(t *testing.T) {
	h := newHarness(t, []symbolic.ActionTemplate{defineA}, true)
	class := FrameClass{Lead: symbolic.ActionDefine, Breadth: BreadthSingle, Scope: ScopeRoot}
	for i := 0; i < 3; i++ {
		err := h.orch.Memory().RecordOutcome(context.Background(), OutcomeRecord{
			FrameID: "old#0", Lead: class.Lead, Breadth: class.Breadth, Scope: class.Scope,
			StrategyID: StrategyStochastic, Quality: 0.9, FailureType: FailureNone,
			Accepted: true, CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	out, _, err := h.orch.RunFrame(context.Background(), zeroGen{}, 0, "ctx", 7, verifier.NewState(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Attempts[0].Strategy; got != StrategyStochastic {
		t.Errorf("initial strategy = %q, want learned %q", got, StrategyStochastic)
	}
}

func TestOrchestrator_Run(t *testing.T) {
	h := newHarness(t, []symbolic.ActionTemplate{defineA}, true)

	outs, st, err := h.orch.Run(context.Background(), zeroGen{}, frame.RunRequest{Context: "ctx", Seed: 3, State: verifier.NewState()})
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 2 {
		t.Fatalf("got %d frames, want 2", len(outs))
	}
	if outs[0].Accepted != 0 {
		t.Error("first frame should commit on its first attempt")
	}
	if outs[1].Accepted != -1 || len(outs[1].Attempts) != DefaultMaxRetries+1 {
		t.Errorf("second frame accepted=%d attempts=%d", outs[1].Accepted, len(outs[1].Attempts))
	}
	if _, ok := st.(verifier.State).Lookup("a"); !ok {
		t.Error("run state should keep the committed binding")
	}

	// baseline is built once and reused; the rotated runner is not cached
	baseline := 0
	for _, b := range h.builds {
		if b.strategy == StrategyBaseline {
			baseline++
		}
	}
	if baseline != 1 {
		t.Errorf("baseline built %d times, want 1", baseline)
	}
}

func TestOrchestrator_RunFoldsPath(t *testing.T) {
	h := newHarness(t, []symbolic.ActionTemplate{defineA}, true)
	prefix := []symbolic.Signal{symbolic.Scalar(1)}

	outs, _, err := h.orch.Run(context.Background(), zeroGen{}, frame.RunRequest{Context: "ctx", Seed: 3, State: verifier.NewState(), Path: prefix})
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 2 {
		t.Fatalf("got %d frames, want 2", len(outs))
	}
	first, second := outs[0].Final().Result, outs[1].Final().Result
	if first.Path.Cost != 1 {
		t.Errorf("committed frame path = %v, want the prefix cost 1", first.Path)
	}

	want, err := h.orch.PathCost([]symbolic.Signal{prefix[0], first.Signal, second.Signal})
	if err != nil {
		t.Fatal(err)
	}
	if !samePath(second.Path, want) {
		t.Errorf("rejected frame path = %v, want %v", second.Path, want)
	}
	if second.Path.Cost <= first.Path.Cost {
		t.Errorf("unresolved frame should add cost: %v after %v", second.Path, first.Path)
	}
	for _, a := range outs[1].Attempts {
		if !samePath(a.Result.Path, want) {
			t.Errorf("attempt %s path = %v, want %v", a.Strategy, a.Result.Path, want)
		}
	}
}

func samePath(a, b symbolic.Signal) bool {
	return a.Kind == b.Kind && a.Cost == b.Cost
}

func TestOrchestrator_RunCanceled(t *testing.T) {
	h := newHarness(t, []symbolic.ActionTemplate{defineA}, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := h.orch.Run(ctx, zeroGen{}, frame.RunRequest{Frames: 2, State: verifier.NewState()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestOrchestrator_BuilderError(t *testing.T) {
	boom := errors.New("no engine")
	orch, err := NewOrchestrator(newTestDB(t), func(StrategyConfig, uint64) (*frame.Runner, error) {
		return nil, boom
	}, newChecker(t, []symbolic.ActionTemplate{defineA}), nil, true)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = orch.RunFrame(context.Background(), zeroGen{}, 0, "ctx", 1, verifier.NewState(), nil)
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want %v", err, boom)
	}
}

func TestNewOrchestrator_NilBuilder(t *testing.T) {
	if _, err := NewOrchestrator(newTestDB(t), nil, nil, nil, true); err == nil {
		t.Error("expected error for nil builder")
	}
}

func TestOrchestrator_RunStopsAtSplit(t *testing.T) {
	split := verifier.DefaultTemplates()[6]
	h := newHarness(t, []symbolic.ActionTemplate{split}, true)

	outs, st, err := h.orch.Run(context.Background(), zeroGen{}, frame.RunRequest{Context: "ctx", Seed: 3, State: verifier.NewState()})
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 1 {
		t.Fatalf("got %d frames, want 1", len(outs))
	}
	final := outs[0].Final().Result
	if !final.Committed || final.Action.Kind != symbolic.ActionSplit {
		t.Fatalf("frame should commit the split, got %q committed=%v", final.Action.Kind, final.Committed)
	}

	// one generator per case is required
	_, err = h.orch.RunBranches(context.Background(), []frame.Generator{zeroGen{}}, frame.RunRequest{Context: "ctx", State: st}, final.Action)
	if err == nil {
		t.Error("expected error for a generator count that does not match the cases")
	}
}
