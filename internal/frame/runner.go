package frame

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/gate"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region runner
// Runner drives frames against a generator: it plans every micro-step, lets
// the gate judge the finished frame and advances the verifier state only on
// commit.
type Runner struct {
	ctrl     *Controller
	verifier symbolic.Verifier
	gate     *gate.Gate
	recorder Recorder
	logger   *zap.Logger
}

// RunnerOption configures optional collaborators.
type RunnerOption func(*Runner)

// WithRecorder persists every finished frame.
func WithRecorder(r Recorder) RunnerOption {
	return func(rn *Runner) { rn.recorder = r }
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(rn *Runner) {
		if l != nil {
			rn.logger = l
		}
	}
}

// NewRunner creates a runner. A nil gate uses the strict default.
func NewRunner(ctrl *Controller, v symbolic.Verifier, g *gate.Gate, opts ...RunnerOption) *Runner {
	if g == nil {
		g = gate.NewGate(gate.DefaultGateConfig())
	}
	r := &Runner{ctrl: ctrl, verifier: v, gate: g, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Controller returns the frame controller.
func (r *Runner) Controller() *Controller { return r.ctrl }

// #endregion runner

// #region run-frame

// RunFrame executes one frame from state. path holds the signals of the steps
// committed before it and is folded with this frame's signal into the result's
// Path. The returned state is the verifier transition of the committed action,
// or state itself when the gate rejected.
func (r *Runner) RunFrame(ctx context.Context, gen Generator, frame int, contextID string, seed uint64, state symbolic.State, path []symbolic.Signal) (FrameResult, symbolic.State, error) {
	ctx, span := tracer.Start(ctx, "frame.RunFrame", trace.WithAttributes(
		attribute.String("context", contextID),
		attribute.Int("frame", frame),
	))
	defer span.End()

	steps := r.ctrl.config.Steps
	plan := NewPlan(contextID, seed)
	rows := make([][]float64, 0, steps)
	for step := 0; step < steps; step++ {
		scores, err := gen.Scores(ctx, frame, step)
		if err != nil {
			return r.fail(span, FrameResult{}, state, fmt.Errorf("frame %d step %d scores: %w", frame, step, err))
		}
		rows = append(rows, scores)

		bias, next, err := r.ctrl.Advance(ctx, step, rows, state, plan)
		if err != nil {
			return r.fail(span, FrameResult{}, state, fmt.Errorf("frame %d: %w", frame, err))
		}
		plan = next
		if err := gen.Apply(ctx, frame, step, bias); err != nil {
			return r.fail(span, FrameResult{}, state, fmt.Errorf("frame %d step %d apply: %w", frame, step, err))
		}
	}

	res, err := r.ctrl.Finish(ctx, frame, rows, state, plan)
	if err != nil {
		return r.fail(span, FrameResult{}, state, fmt.Errorf("frame %d: %w", frame, err))
	}

	res.Path = r.PathCost(append(path[:len(path):len(path)], res.Signal))
	res.Decision = r.gate.Evaluate(gate.FromResult(res.SearchResult(), r.ctrl.engine.Config().Modulus))
	res.Committed = res.Decision.Committed()

	next := state
	if res.Committed {
		next, err = r.verifier.Transition(ctx, state, res.Action)
		if err != nil {
			return r.fail(span, res, state, fmt.Errorf("frame %d transition: %w", frame, err))
		}
	}

	framesTotal.WithLabelValues(res.Decision.Action).Inc()
	span.SetAttributes(
		attribute.String("action", res.Decision.Action),
		attribute.String("template", res.Template),
		attribute.Int("evaluations", res.Evaluations),
	)
	r.logger.Info("frame finished",
		zap.String("context", contextID),
		zap.Int("frame", frame),
		zap.String("template", res.Template),
		zap.Stringer("signal", res.Signal),
		zap.Stringer("path", res.Path),
		zap.String("decision", res.Decision.Action),
		zap.String("reason", res.Decision.Reason),
		zap.Int("evaluations", res.Evaluations))

	if r.recorder != nil {
		if err := r.recorder.RecordFrame(ctx, res); err != nil {
			r.logger.Warn("frame record failed", zap.Int("frame", frame), zap.Error(err))
		}
	}
	return res, next, nil
}

func (r *Runner) fail(span trace.Span, res FrameResult, state symbolic.State, err error) (FrameResult, symbolic.State, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return res, state, err
}

// PathCost folds the signals of a derivation, oldest first, under the energy
// model's discount.
func (r *Runner) PathCost(steps []symbolic.Signal) symbolic.Signal {
	return r.ctrl.energy.Path(steps)
}

// #endregion run-frame

// #region run

// Run executes frames in sequence until one is rejected, a close commits or
// the frame limit is reached.
func (r *Runner) Run(ctx context.Context, gen Generator, req RunRequest) ([]FrameResult, symbolic.State, error) {
	limit := req.Frames
	if limit <= 0 {
		limit = r.ctrl.config.Frames
	}
	state := req.State
	path := slices.Clone(req.Path)
	var out []FrameResult
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return out, state, fmt.Errorf("run canceled at frame %d: %w", i, err)
		}
		res, next, err := r.RunFrame(ctx, gen, i, req.Context, DeriveSeed(req.Seed, uint64(i)), state, path)
		if err != nil {
			return out, state, err
		}
		out = append(out, res)
		state = next
		if res.Committed {
			path = append(path, res.Signal)
		}
		if !res.Committed || res.Action.Kind == symbolic.ActionClose {
			break
		}
	}
	return out, state, nil
}

// #endregion run

// #region branches

// RunBranches runs every case of split in parallel, one generator per case,
// each on its own scope entered from parent. Cases are joined in index order.
// A case that does not end with a committed close leaves the merge malformed:
// the result then carries ErrMalformedMerge and parent unchanged. Each case is
// a fresh derivation; the result's Cost is the worst of their path costs.
func (r *Runner) RunBranches(ctx context.Context, gens []Generator, req RunRequest, split symbolic.Action) (BranchResult, error) {
	br, ok := r.verifier.(symbolic.Brancher)
	if !ok {
		return BranchResult{}, fmt.Errorf("run branches: verifier %T cannot scope splits", r.verifier)
	}
	if split.Kind != symbolic.ActionSplit {
		return BranchResult{}, fmt.Errorf("run branches: action kind %q is not split", split.Kind)
	}
	if len(gens) != len(split.Cases) {
		return BranchResult{}, fmt.Errorf("run branches: %d generators for %d cases", len(gens), len(split.Cases))
	}

	ctx, span := tracer.Start(ctx, "frame.RunBranches", trace.WithAttributes(
		attribute.String("context", req.Context),
		attribute.Int("cases", len(split.Cases)),
	))
	defer span.End()

	n := len(split.Cases)
	frames := make([][]FrameResult, n)
	signals := make([]symbolic.Signal, n)
	costs := make([]symbolic.Signal, n)
	states := make([]symbolic.State, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := range split.Cases {
		g.Go(func() error {
			child, err := br.Enter(gctx, req.State, split, i)
			if err != nil {
				return fmt.Errorf("enter case %d: %w", i, err)
			}
			fr, st, err := r.Run(gctx, gens[i], RunRequest{
				Context: req.Context + "/" + split.Cases[i],
				Seed:    DeriveSeed(req.Seed, uint64(n+i)),
				State:   child,
				Frames:  req.Frames,
			})
			if err != nil {
				return fmt.Errorf("case %d: %w", i, err)
			}
			frames[i], states[i], signals[i], costs[i] = fr, st, caseSignal(fr), caseCost(fr)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return BranchResult{}, fmt.Errorf("run branches: %w", err)
	}

	out := BranchResult{
		Cases:   append([]string(nil), split.Cases...),
		Frames:  frames,
		Signals: signals,
		Cost:    r.ctrl.energy.Branch(costs),
		State:   req.State,
	}
	sig, err := r.ctrl.energy.Close(signals)
	out.Signal = sig
	if errors.Is(err, symbolic.ErrMalformedMerge) {
		out.Cause = err
		mergesTotal.WithLabelValues("malformed").Inc()
		r.logger.Info("split left unresolved",
			zap.String("context", req.Context),
			zap.Stringer("cost", out.Cost),
			zap.Error(err))
		return out, nil
	}
	if err != nil {
		return BranchResult{}, fmt.Errorf("run branches: %w", err)
	}

	joined, err := br.Join(ctx, req.State, states)
	if err != nil {
		return BranchResult{}, fmt.Errorf("run branches join: %w", err)
	}
	out.State = joined
	mergesTotal.WithLabelValues("joined").Inc()
	return out, nil
}

// caseSignal is Zero when a case ended with a committed close, otherwise the
// energy of the frame that stopped it.
func caseSignal(frames []FrameResult) symbolic.Signal {
	if len(frames) == 0 {
		return symbolic.Infinity("case ran no frames")
	}
	last := frames[len(frames)-1]
	if last.Committed && last.Action.Kind == symbolic.ActionClose {
		return symbolic.Zero()
	}
	if !last.Signal.IsZero() {
		return last.Signal
	}
	return symbolic.Infinity("case not closed")
}

// caseCost is the path cost of the last frame a case ran.
func caseCost(frames []FrameResult) symbolic.Signal {
	if len(frames) == 0 {
		return symbolic.Infinity("case ran no frames")
	}
	return frames[len(frames)-1].Path
}

// #endregion branches
