package orchestrator

// #region imports
import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/frame"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #endregion

// #region orchestrator-struct

// Orchestrator wraps a frame runner with classification, strategy selection
// and retries. A rejected frame is re-run from the same state under the next
// strategy of its failure's escalation chain.
type Orchestrator struct {
	builder  Builder
	verifier symbolic.Verifier
	selector *StrategySelector
	retry    *RetryEngine
	memory   *StrategyMemory
	enabled  bool
	logger   *zap.Logger

	mu      sync.Mutex
	runners map[StrategyID]*frame.Runner
}

// #endregion

// #region constructor

// Option configures an Orchestrator.
type Option func(*options)

type options struct {
	maxRetries int
}

// WithMaxRetries bounds the extra attempts per frame.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// NewOrchestrator creates a fully wired orchestrator. Outcomes persist in db.
// With enabled false every frame runs once under the baseline strategy.
func NewOrchestrator(db *sql.DB, builder Builder, v symbolic.Verifier, logger *zap.Logger, enabled bool, opts ...Option) (*Orchestrator, error) {
	if builder == nil {
		return nil, errors.New("new orchestrator: nil builder")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := options{maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(&cfg)
	}

	mem, err := NewStrategyMemory(db)
	if err != nil {
		return nil, fmt.Errorf("new orchestrator: %w", err)
	}

	selector := NewStrategySelector(mem)
	return &Orchestrator{
		builder:  builder,
		verifier: v,
		selector: selector,
		retry:    NewRetryEngine(selector, cfg.maxRetries),
		memory:   mem,
		enabled:  enabled,
		logger:   logger,
		runners:  make(map[StrategyID]*frame.Runner),
	}, nil
}

// Enabled returns whether retries and learned strategies are active.
func (o *Orchestrator) Enabled() bool {
	return o.enabled
}

// Memory returns the outcome store.
func (o *Orchestrator) Memory() *StrategyMemory {
	return o.memory
}

// runner returns a runner for a strategy and rotation. Runners on the
// configured basis are cached; rotated ones are built per attempt.
func (o *Orchestrator) runner(strategy StrategyConfig, rotation uint64) (*frame.Runner, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.runners[strategy.ID]; ok && rotation == 0 {
		return r, nil
	}
	r, err := o.builder(strategy, rotation)
	if err != nil {
		return nil, fmt.Errorf("build runner %s: %w", strategy.ID, err)
	}
	if rotation == 0 {
		o.runners[strategy.ID] = r
	}
	return r, nil
}

// #endregion

// #region run-frame

// RunFrame classifies the frame, runs it under the selected strategy and
// retries rejected attempts. path holds the signals committed before the
// frame. The returned state advances only when an attempt commits.
func (o *Orchestrator) RunFrame(ctx context.Context, gen frame.Generator, idx int, contextID string, seed uint64, state symbolic.State, path []symbolic.Signal) (Outcome, symbolic.State, error) {
	class, err := ClassifyFrame(ctx, o.verifier, state)
	if err != nil {
		return Outcome{}, state, fmt.Errorf("frame %d: %w", idx, err)
	}

	strategy := Strategies[StrategyBaseline]
	if o.enabled {
		strategy = o.selector.SelectInitial(ctx, class)
	}
	o.logger.Debug("frame classified",
		zap.String("context", contextID),
		zap.Int("frame", idx),
		zap.String("lead", string(class.Lead)),
		zap.String("breadth", string(class.Breadth)),
		zap.String("scope", string(class.Scope)),
		zap.String("strategy", string(strategy.ID)))

	out := Outcome{Class: class, Accepted: -1}
	next := state
	for {
		n := len(out.Attempts)
		attemptSeed := seed
		if n > 0 {
			attemptSeed = frame.DeriveSeed(seed, uint64(n))
		}
		var rotation uint64
		if strategy.RotateBasis {
			rotation = frame.DeriveSeed(attemptSeed, uint64(n)) | 1
		}

		r, err := o.runner(strategy, rotation)
		if err != nil {
			return out, state, fmt.Errorf("frame %d: %w", idx, err)
		}
		res, after, err := r.RunFrame(ctx, gen, idx, contextID, attemptSeed, state, path)
		if err != nil {
			return out, state, fmt.Errorf("frame %d attempt %d: %w", idx, n, err)
		}

		ev := EvaluateFrame(res)
		out.Attempts = append(out.Attempts, Attempt{
			Strategy:   strategy.ID,
			Rotation:   rotation,
			Seed:       attemptSeed,
			Result:     res,
			Evaluation: ev,
		})
		attemptsTotal.WithLabelValues(string(strategy.ID), string(ev.FailureType)).Inc()
		o.logger.Info("frame attempt evaluated",
			zap.Int("frame", idx),
			zap.Int("attempt", n),
			zap.String("strategy", string(strategy.ID)),
			zap.Float64("quality", ev.Quality),
			zap.String("failure", string(ev.FailureType)),
			zap.Bool("should_retry", ev.ShouldRetry))

		if res.Committed {
			out.Accepted = n
			next = after
			break
		}
		if !o.enabled {
			break
		}
		d := o.retry.Decide(out.Attempts)
		if !d.Retry {
			o.logger.Info("frame stays rejected", zap.Int("frame", idx), zap.String("reason", d.Reason))
			break
		}
		o.logger.Info("retrying frame",
			zap.Int("frame", idx),
			zap.String("strategy", string(d.Next.ID)),
			zap.String("after", d.Reason))
		strategy = *d.Next
	}

	o.RecordFinalOutcome(ctx, fmt.Sprintf("%s#%d", contextID, idx), out)
	return out, next, nil
}

// #endregion

// #region run

// Run executes orchestrated frames in sequence until a frame stays rejected,
// a close or split commits or the frame limit is reached. A committed split
// is left for the caller to run through RunBranches.
func (o *Orchestrator) Run(ctx context.Context, gen frame.Generator, req frame.RunRequest) ([]Outcome, symbolic.State, error) {
	limit := req.Frames
	if limit <= 0 {
		base, err := o.runner(Strategies[StrategyBaseline], 0)
		if err != nil {
			return nil, req.State, err
		}
		limit = base.Controller().Config().Frames
	}

	state := req.State
	path := slices.Clone(req.Path)
	var out []Outcome
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return out, state, fmt.Errorf("run canceled at frame %d: %w", i, err)
		}
		oc, next, err := o.RunFrame(ctx, gen, i, req.Context, frame.DeriveSeed(req.Seed, uint64(i)), state, path)
		if err != nil {
			return out, state, err
		}
		out = append(out, oc)
		state = next
		final := oc.Final().Result
		if final.Committed {
			path = append(path, final.Signal)
		}
		if !final.Committed || final.Action.Kind == symbolic.ActionClose || final.Action.Kind == symbolic.ActionSplit {
			break
		}
	}
	return out, state, nil
}

// RunBranches runs the cases of a committed split on the baseline runner.
func (o *Orchestrator) RunBranches(ctx context.Context, gens []frame.Generator, req frame.RunRequest, split symbolic.Action) (frame.BranchResult, error) {
	base, err := o.runner(Strategies[StrategyBaseline], 0)
	if err != nil {
		return frame.BranchResult{}, err
	}
	return base.RunBranches(ctx, gens, req, split)
}

// PathCost folds a derivation's committed signals under the baseline energy
// model.
func (o *Orchestrator) PathCost(steps []symbolic.Signal) (symbolic.Signal, error) {
	base, err := o.runner(Strategies[StrategyBaseline], 0)
	if err != nil {
		return symbolic.Signal{}, err
	}
	return base.PathCost(steps), nil
}

// #endregion

// #region record-final-outcome

// RecordFinalOutcome persists all attempts for a finished frame. Failures are
// logged and do not fail the frame.
func (o *Orchestrator) RecordFinalOutcome(ctx context.Context, frameID string, out Outcome) {
	now := time.Now()
	for i, a := range out.Attempts {
		rec := OutcomeRecord{
			FrameID:     frameID,
			Lead:        out.Class.Lead,
			Breadth:     out.Class.Breadth,
			Scope:       out.Class.Scope,
			StrategyID:  a.Strategy,
			AttemptNum:  i,
			Quality:     a.Evaluation.Quality,
			FailureType: a.Evaluation.FailureType,
			Evaluations: a.Result.Evaluations,
			SoftScore:   a.Result.Decision.SoftScore,
			Accepted:    i == out.Accepted,
			CreatedAt:   now,
		}
		if err := o.memory.RecordOutcome(ctx, rec); err != nil {
			o.logger.Warn("failed to record outcome", zap.String("frame_id", frameID), zap.Error(err))
		}
	}
	o.logger.Debug("recorded frame attempts",
		zap.String("frame_id", frameID),
		zap.Int("attempts", len(out.Attempts)),
		zap.Int("accepted_idx", out.Accepted))
}

// #endregion
