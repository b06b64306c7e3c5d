package frame

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/control"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/decoder"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/energy"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region controller
// Controller plans one frame at a time over F micro-steps. At each step it
// predicts the rest of the frame from what has been observed, searches for a
// control vector on that prediction, applies this step's share of the
// resulting bias and drops the rest of the plan.
type Controller struct {
	config  Config
	engine  *search.Engine
	decoder *decoder.Decoder
	energy  *energy.Model
	logger  *zap.Logger
}

// NewController wires a controller over a search engine and the decoder and
// energy model it shares.
func NewController(config Config, engine *search.Engine, dec *decoder.Decoder, model *energy.Model, logger *zap.Logger) (*Controller, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("new frame controller: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{config: config, engine: engine, decoder: dec, energy: model, logger: logger}, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() Config { return c.config }

// Engine returns the underlying search engine.
func (c *Controller) Engine() *search.Engine { return c.engine }

// #endregion controller

// #region advance

// Advance plans micro-step step of a frame. partial holds the base scores
// observed so far, one row per step, ending with the current one. The
// returned bias is for this step only; everything beyond it is re-planned.
func (c *Controller) Advance(ctx context.Context, step int, partial [][]float64, state symbolic.State, plan Plan) ([]float64, Plan, error) {
	f := c.config.Steps
	if step < 0 || step >= f {
		return nil, plan, fmt.Errorf("advance: step %d outside frame of %d", step, f)
	}
	if len(partial) != step+1 {
		return nil, plan, fmt.Errorf("advance: step %d needs %d observed rows, got %d", step, step+1, len(partial))
	}
	if len(plan.Applied) != step {
		return nil, plan, fmt.Errorf("advance: plan has %d applied biases at step %d", len(plan.Applied), step)
	}

	base, err := c.lookahead(step, partial, plan.Applied)
	if err != nil {
		return nil, plan, fmt.Errorf("advance: %w", err)
	}

	// Warm start from the previous head. Its bias is already part of base at
	// weight 1/F, so under a steady generator the first candidate overshoots
	// the converged frame mean by P(head)/F; the search corrects from there.
	res, err := c.engine.Search(ctx, search.Request{
		Context:    plan.Context,
		BaseScores: base,
		State:      state,
		Budget:     -1,
		Initial:    plan.Controls,
		Seed:       DeriveSeed(plan.Seed, uint64(step)),
	})
	if err != nil {
		return nil, plan, fmt.Errorf("advance step %d: %w", step, err)
	}

	// spread what is left of the frame-mean shift over the remaining steps
	delta := c.engine.Projection().Perturb(make([]float64, len(base)), res.Control)
	scale := float64(f) / float64(f-step)
	bias := make([]float64, len(delta))
	for i, d := range delta {
		bias[i] = d * scale
	}

	next := plan
	next.Step = step + 1
	next.Controls = res.Control.Clone()
	next.Applied = append(append([][]float64(nil), plan.Applied...), bias)
	next.Result = res
	next.evaluations += res.Evaluations
	next.oracleCalls += res.OracleCalls
	next.budget += res.Budget

	c.logger.Debug("micro-step planned",
		zap.String("context", plan.Context),
		zap.Int("step", step),
		zap.String("phase", string(res.Phase)),
		zap.String("template", res.Template),
		zap.Int("evaluations", res.Evaluations))
	return bias, next, nil
}

// lookahead predicts the frame-mean scores: observed steps keep the bias
// already applied to them and the unobserved ones repeat the latest row.
func (c *Controller) lookahead(step int, partial [][]float64, applied [][]float64) ([]float64, error) {
	f := c.config.Steps
	n := len(partial[step])
	out := make([]float64, n)
	for i := 0; i < step; i++ {
		if len(partial[i]) != n || len(applied[i]) != n {
			return nil, fmt.Errorf("row %d has %d scores and %d bias entries, want %d", i, len(partial[i]), len(applied[i]), n)
		}
		for j := range out {
			out[j] += partial[i][j] + applied[i][j]
		}
	}
	rest := float64(f - step)
	for j := range out {
		out[j] = (out[j] + rest*partial[step][j]) / float64(f)
	}
	return out, nil
}

// #endregion advance

// #region finish

// Finish decodes the full frame and scores the action it selects. Validity is
// decided here, never from a lookahead.
func (c *Controller) Finish(ctx context.Context, frame int, rows [][]float64, state symbolic.State, plan Plan) (FrameResult, error) {
	f := c.config.Steps
	if len(rows) != f || len(plan.Applied) != f {
		return FrameResult{}, fmt.Errorf("finish: frame has %d rows and %d biases, want %d", len(rows), len(plan.Applied), f)
	}
	n := len(rows[0])
	mean := make([]float64, n)
	for i := range rows {
		if len(rows[i]) != n || len(plan.Applied[i]) != n {
			return FrameResult{}, fmt.Errorf("finish: row %d has mismatched length", i)
		}
		for j := range mean {
			mean[j] += (rows[i][j] + plan.Applied[i][j]) / float64(f)
		}
	}

	out := FrameResult{
		Frame:       frame,
		Context:     plan.Context,
		Seed:        plan.Seed,
		Control:     plan.Controls.Clone(),
		Evaluations: plan.evaluations,
		OracleCalls: plan.oracleCalls,
		Budget:      plan.budget,
		Cause:       plan.Result.Cause,
	}
	if out.Control == nil {
		out.Control = control.Zero(c.engine.Config().Dim)
	}

	fiber, err := c.decoder.Fiber(ctx, state, n)
	if errors.Is(err, symbolic.ErrNoAdmissibleAction) {
		out.Signal = symbolic.Infinity(err.Error())
		out.Cause = symbolic.ErrNoAdmissibleAction
		return out, nil
	}
	if err != nil {
		return FrameResult{}, fmt.Errorf("finish: %w", err)
	}
	idx := decoder.Choose(fiber, mean, decoder.Deterministic(), nil)
	out.Template = fiber[idx].Template.ID
	out.Action = c.energy.Canonicalizer().Canonicalize(fiber[idx].Template.Action)

	sig, err := c.energy.Energy(ctx, state, out.Action)
	out.OracleCalls++
	if err != nil {
		if ctx.Err() != nil {
			return FrameResult{}, fmt.Errorf("finish: %w", ctx.Err())
		}
		out.Cause = err
	}
	out.Signal = sig

	sr := out.SearchResult()
	sr.Phase = plan.Result.Phase
	out.Bundle = search.NewBundle(search.Request{
		Context:    plan.Context,
		BaseScores: mean,
		State:      state,
		Seed:       plan.Seed,
	}, sr)
	return out, nil
}

// #endregion finish

// #region seeds

// DeriveSeed mixes n into seed with splitmix64 so neighbouring steps, frames
// and branches draw unrelated streams.
func DeriveSeed(seed, n uint64) uint64 {
	z := seed + (n+1)*0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// #endregion seeds
