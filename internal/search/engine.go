package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/control"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/decoder"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/energy"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/projection"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// rngSalt separates the search stream from the projection stream of the same seed.
const rngSalt = 0x9E3779B97F4A7C15

// #region engine
// Engine runs budget-limited derivative-free searches over control vectors.
// An Engine holds no per-search state and may serve concurrent searches.
type Engine struct {
	config    Config
	proj      *projection.Matrix
	decoder   *decoder.Decoder
	energy    *energy.Model
	logger    *zap.Logger
	labels    LabelSink
	proposals ProposalSource
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithLabelSink sets the consumer of converged pseudo-labels.
func WithLabelSink(s LabelSink) Option {
	return func(e *Engine) { e.labels = s }
}

// WithProposalSource sets the source of warm-start control vectors.
func WithProposalSource(p ProposalSource) Option {
	return func(e *Engine) { e.proposals = p }
}

// NewEngine wires an engine. The projection must match the configured torus.
func NewEngine(config Config, proj *projection.Matrix, dec *decoder.Decoder, model *energy.Model, opts ...Option) (*Engine, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	if proj.Dim() != config.Dim || proj.Modulus() != config.Modulus {
		return nil, fmt.Errorf("new engine: projection is %dx[0,%d), config wants %dx[0,%d)",
			proj.Dim(), proj.Modulus(), config.Dim, config.Modulus)
	}
	e := &Engine{
		config:  config,
		proj:    proj,
		decoder: dec,
		energy:  model,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.config }

// Projection returns the shared projection matrix.
func (e *Engine) Projection() *projection.Matrix { return e.proj }

// #endregion engine

// #region search

// Search looks for a control vector whose perturbation decodes to an action
// the verifier scores Zero. It never fails on an exhausted budget or on
// per-candidate verifier failures; errors are reserved for cancellation and
// structural problems (score length, verifier admissibility or prototypes).
func (e *Engine) Search(ctx context.Context, req Request) (Result, error) {
	budget := req.Budget
	if budget < 0 {
		budget = e.config.Budget
	}

	ctx, span := tracer.Start(ctx, "search.Search", trace.WithAttributes(
		attribute.String("context", req.Context),
		attribute.Int("budget", budget),
		attribute.Int64("seed", int64(req.Seed)),
	))
	defer span.End()
	start := time.Now()

	if len(req.BaseScores) != e.proj.Vocab() {
		err := fmt.Errorf("search: base scores have %d entries, projection expects %d", len(req.BaseScores), e.proj.Vocab())
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	r := newRun(e, req, budget)
	res, err := r.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Info("search aborted",
			zap.String("context", req.Context),
			zap.Int("evaluations", r.evals),
			zap.Error(err))
		return Result{}, err
	}

	searchTotal.WithLabelValues(string(res.Phase)).Inc()
	searchEvaluations.Observe(float64(res.Evaluations))
	oracleCallsTotal.Add(float64(res.OracleCalls))
	searchDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("phase", string(res.Phase)),
		attribute.Int("evaluations", res.Evaluations),
		attribute.Int("oracle_calls", res.OracleCalls),
	)

	e.logger.Debug("search finished",
		zap.String("context", req.Context),
		zap.String("phase", string(res.Phase)),
		zap.String("template", res.Template),
		zap.Stringer("signal", res.Signal),
		zap.Int("evaluations", res.Evaluations),
		zap.Int("oracle_calls", res.OracleCalls))

	if res.Found && e.labels != nil {
		label := Label{
			Context:  req.Context,
			Control:  res.Control.Clone(),
			Template: res.Template,
			Action:   res.Action,
			Seed:     req.Seed,
		}
		if err := e.labels.Emit(ctx, label); err != nil {
			e.logger.Warn("pseudo-label emit failed", zap.String("context", req.Context), zap.Error(err))
		}
	}
	return res, nil
}

// initial picks the starting vector: the caller's, then a stored proposal,
// then the origin.
func (e *Engine) initial(ctx context.Context, req Request) control.Vector {
	if len(req.Initial) > 0 {
		return fit(req.Initial, e.config.Dim, e.config.Modulus)
	}
	if e.proposals != nil && req.Context != "" {
		v, ok, err := e.proposals.Proposal(ctx, req.Context)
		if err != nil {
			e.logger.Warn("proposal lookup failed", zap.String("context", req.Context), zap.Error(err))
		} else if ok {
			return fit(v, e.config.Dim, e.config.Modulus)
		}
	}
	return control.Zero(e.config.Dim)
}

func fit(v control.Vector, k, modulus int) control.Vector {
	out := control.Zero(k)
	copy(out, control.Normalize(v[:min(len(v), k)], modulus))
	return out
}

// #endregion search

// #region run-setup

func newRun(e *Engine, req Request, budget int) *run {
	sens := make([]float64, e.config.Dim)
	for i := range sens {
		sens[i] = 1
	}
	return &run{
		e:       e,
		req:     req,
		budget:  budget,
		rng:     rand.New(rand.NewPCG(req.Seed, req.Seed^rngSalt)),
		memo:    make(map[string]symbolic.Signal),
		known:   make(map[string]float64),
		visited: make(map[string]bool),
		sens:    sens,
	}
}

func (r *run) execute(ctx context.Context) (Result, error) {
	r.origin = r.e.initial(ctx, r.req)
	if r.budget == 0 {
		r.best = evaluation{control: r.origin, signal: symbolic.Infinity("not evaluated"), energy: inf, cost: inf}
		return r.finish(PhaseExhausted, nil), nil
	}

	fiber, err := r.e.decoder.Fiber(ctx, r.req.State, r.e.proj.Vocab())
	if errors.Is(err, symbolic.ErrNoAdmissibleAction) {
		r.best = evaluation{control: r.origin, signal: symbolic.Infinity(err.Error()), energy: inf, cost: inf}
		return r.finish(PhaseExhausted, symbolic.ErrNoAdmissibleAction), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("search fiber: %w", err)
	}
	r.fiber = fiber

	return r.loop(ctx)
}

// #endregion run-setup
