package replay

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/canon"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/decoder"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/energy"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/eval"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/projection"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/verifier"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

// #region types
// ReplayResult captures the outcome of replaying one fixture.
type ReplayResult struct {
	Name          string
	Result        search.Result
	Audit         eval.EvalResult
	Deterministic bool   // a second run produced the same trace
	Diff          string // trace diff when not deterministic
	Mismatches    []string
	OracleCalls   int64 // calls observed at the verifier during the first run
}

// Passed reports whether the replay reproduced every expectation.
func (r ReplayResult) Passed() bool {
	return r.Deterministic && r.Audit.Passed && len(r.Mismatches) == 0
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	Total  int
	Passed int
	Failed int
}

// #endregion types

// #region build

// Build wires a search engine over the parity verifier the fixture describes.
func Build(f *Fixture, logger *zap.Logger) (*search.Engine, *verifier.Checker, error) {
	templates := f.Catalog.Templates
	if len(templates) == 0 {
		templates = verifier.DefaultTemplates()
	}
	cat, err := verifier.NewCatalog(f.Catalog.Vocab, f.Catalog.Seed, templates)
	if err != nil {
		return nil, nil, fmt.Errorf("build catalog: %w", err)
	}
	for _, id := range f.Catalog.Flat {
		if err := cat.SetPrototype(id, flat(f.Catalog.Vocab)); err != nil {
			return nil, nil, fmt.Errorf("flatten %s: %w", id, err)
		}
	}

	cfg := f.Config.ToSearchConfig()
	proj, err := projection.New(projection.Config{
		Vocab:   f.Catalog.Vocab,
		Dim:     cfg.Dim,
		Modulus: cfg.Modulus,
		Seed:    f.Config.ProjectionSeed,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build projection: %w", err)
	}

	checker := verifier.NewChecker(cat)
	model := energy.NewModel(checker, canon.New(canon.DefaultConfig()), energy.DefaultConfig())
	eng, err := search.NewEngine(cfg, proj, decoder.New(checker), model, search.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("build engine: %w", err)
	}
	return eng, checker, nil
}

// flat is the uniform unit prototype. It is orthogonal to every
// perturbation, so its score never moves with the control vector.
func flat(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / math.Sqrt(float64(n))
	}
	return out
}

// #endregion build

// #region replay

// Replay runs the fixture twice on fresh engines, diffs the traces and checks
// the first result against the fixture's expectations.
func Replay(ctx context.Context, f *Fixture, logger *zap.Logger) (ReplayResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := ReplayResult{Name: f.Name}

	first, checker, err := runOnce(ctx, f, logger)
	if err != nil {
		return out, err
	}
	second, _, err := runOnce(ctx, f, logger)
	if err != nil {
		return out, err
	}

	out.Result = first
	out.OracleCalls = checker.Calls()
	out.Diff = cmp.Diff(first.Trace, second.Trace)
	out.Deterministic = out.Diff == "" && first.Control.Equal(second.Control) && first.Phase == second.Phase

	cfg := f.Config.ToSearchConfig()
	out.Audit = eval.NewEvalHarness(eval.EvalConfig{
		Dim:          cfg.Dim,
		Modulus:      cfg.Modulus,
		MaxMagnitude: 1,
	}).Run(first)

	out.Mismatches = check(f.Expected, first, out.OracleCalls)
	return out, nil
}

func runOnce(ctx context.Context, f *Fixture, logger *zap.Logger) (search.Result, *verifier.Checker, error) {
	eng, checker, err := Build(f, logger)
	if err != nil {
		return search.Result{}, nil, err
	}
	res, err := eng.Search(ctx, f.ToRequest(f.Catalog.Vocab))
	if err != nil {
		return search.Result{}, nil, fmt.Errorf("replay %s: %w", f.Name, err)
	}
	return res, checker, nil
}

func check(want FixtureExpected, got search.Result, calls int64) []string {
	var out []string
	if want.Phase != "" && got.Phase != want.Phase {
		out = append(out, fmt.Sprintf("phase: want %s, got %s", want.Phase, got.Phase))
	}
	if want.Found != nil && got.Found != *want.Found {
		out = append(out, fmt.Sprintf("found: want %v, got %v", *want.Found, got.Found))
	}
	if want.Template != "" && got.Template != want.Template {
		out = append(out, fmt.Sprintf("template: want %s, got %s", want.Template, got.Template))
	}
	if want.Evaluations != nil && got.Evaluations != *want.Evaluations {
		out = append(out, fmt.Sprintf("evaluations: want %d, got %d", *want.Evaluations, got.Evaluations))
	}
	if want.MaxOracleCalls != nil && calls > int64(*want.MaxOracleCalls) {
		out = append(out, fmt.Sprintf("oracle calls: want at most %d, got %d", *want.MaxOracleCalls, calls))
	}
	switch want.Cause {
	case "":
	case "no_admissible_action":
		if !errors.Is(got.Cause, symbolic.ErrNoAdmissibleAction) {
			out = append(out, fmt.Sprintf("cause: want %s, got %v", want.Cause, got.Cause))
		}
	default:
		out = append(out, fmt.Sprintf("cause: unknown expectation %q", want.Cause))
	}
	return out
}

// ReplayAll replays every fixture in order.
func ReplayAll(ctx context.Context, fixtures []*Fixture, logger *zap.Logger) ([]ReplayResult, error) {
	out := make([]ReplayResult, 0, len(fixtures))
	for _, f := range fixtures {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		r, err := Replay(ctx, f, logger)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{Total: len(results)}
	for _, r := range results {
		if r.Passed() {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

// #endregion replay
