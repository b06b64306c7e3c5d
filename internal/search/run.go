package search

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/control"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/decoder"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

var inf = math.Inf(1)

const (
	sensitivityMomentum = 0.9
	sensitivityFloor    = 0.05
)

// #region run
// run is the mutable state of a single search. It is never shared.
type run struct {
	e      *Engine
	req    Request
	budget int
	rng    *rand.Rand
	origin control.Vector

	fiber   []decoder.Candidate
	memo    map[string]symbolic.Signal // canonical action key -> signal
	known   map[string]float64         // template ID -> observed energy
	visited map[string]bool            // control vector keys already evaluated
	sens    []float64                  // per-coordinate tunneling sensitivity

	trace       Trace
	evals       int
	oracleCalls int
	best, curr  evaluation
	stall       int
}

type evaluation struct {
	control   control.Vector
	index     int
	template  string
	action    symbolic.Action
	signal    symbolic.Signal
	energy    float64
	cost      float64
	perturbed []float64
	oracle    bool
}

// #endregion run

// #region loop

func (r *run) loop(ctx context.Context) (Result, error) {
	first := r.evaluate(ctx, r.origin)
	r.best, r.curr = first, first
	r.record(first, MoveInitial, true)
	if first.signal.IsZero() {
		return r.finish(PhaseConverged, nil), nil
	}

	for r.evals < r.budget {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("search canceled after %d evaluations: %w", r.evals, err)
		}

		mode := r.policy()
		var next control.Vector
		var moved []int
		if mode == MoveDescent {
			var ok bool
			next, moved, ok = r.descend()
			if !ok {
				mode = MoveTunnel
			}
		}
		if mode == MoveTunnel {
			r.curr = r.best
			next, moved = r.tunnel()
		}

		ev := r.evaluate(ctx, next)
		accepted := ev.signal.IsZero() || ev.cost < r.best.cost
		r.reinforce(moved, accepted)
		switch {
		case accepted:
			r.best, r.curr = ev, ev
			r.stall = 0
		case mode == MoveDescent && ev.index == r.curr.index:
			// same decoded action: keep walking the surrogate direction
			r.curr = ev
			r.stall++
		default:
			r.stall++
		}
		r.record(ev, mode, accepted)

		if ev.signal.IsZero() {
			return r.finish(PhaseConverged, nil), nil
		}
	}
	return r.finish(PhaseExhausted, nil), nil
}

// policy chooses surrogate descent near a finite low-cost region and
// tunneling otherwise.
func (r *run) policy() MoveMode {
	cfg := r.e.config
	if r.stall >= cfg.StallThreshold || math.IsInf(r.curr.energy, 1) || r.curr.energy > cfg.HighCost {
		return MoveTunnel
	}
	return MoveDescent
}

// #endregion loop

// #region evaluate

// evaluate decodes v, scores the canonical action and charges one evaluation.
// The oracle is consulted only for actions not yet seen in this search.
func (r *run) evaluate(ctx context.Context, v control.Vector) evaluation {
	cfg := r.e.config
	perturbed := r.e.proj.Perturb(r.req.BaseScores, v)
	idx := decoder.Choose(r.fiber, perturbed, cfg.Decode, r.rng)
	cand := r.fiber[idx]

	c := r.e.energy.Canonicalizer()
	action := c.Canonicalize(cand.Template.Action)
	key := c.Key(action)

	sig, hit := r.memo[key]
	if !hit {
		var err error
		sig, err = r.e.energy.Energy(ctx, r.req.State, action)
		r.oracleCalls++
		if err != nil {
			r.e.logger.Debug("oracle failure absorbed",
				zap.String("template", cand.Template.ID),
				zap.Error(err))
		}
		r.memo[key] = sig
	}

	energyVal := r.e.energy.Scalarize(sig)
	r.known[cand.Template.ID] = energyVal
	r.visited[v.Key()] = true
	r.evals++

	return evaluation{
		control:   v,
		index:     idx,
		template:  cand.Template.ID,
		action:    action,
		signal:    sig,
		energy:    energyVal,
		cost:      energyVal + cfg.Lambda*control.Magnitude(v, cfg.Modulus),
		perturbed: perturbed,
		oracle:    !hit,
	}
}

func (r *run) record(ev evaluation, mode MoveMode, accepted bool) {
	r.trace = append(r.trace, Entry{
		Iteration:    len(r.trace),
		Mode:         mode,
		Control:      ev.control.Clone(),
		Template:     ev.template,
		Action:       ev.action,
		Signal:       ev.signal,
		Cost:         Cost(ev.cost),
		Accepted:     accepted,
		OracleCalled: ev.oracle,
	})
}

func (r *run) finish(phase Phase, cause error) Result {
	return Result{
		Phase:       phase,
		Found:       phase == PhaseConverged,
		Control:     r.best.control.Clone(),
		Template:    r.best.template,
		Action:      r.best.action,
		Signal:      r.best.signal,
		Cost:        Cost(r.best.cost),
		Evaluations: r.evals,
		OracleCalls: r.oracleCalls,
		Budget:      r.budget,
		Seed:        r.req.Seed,
		Trace:       r.trace,
		Cause:       cause,
	}
}

// #endregion evaluate

// #region descent

// descend proposes a single-coordinate move toward the best-scoring admissible
// candidate other than the current one that is not already known to be no
// better than the best. The prototype difference is pulled back into the
// torus embedding and turned into per-coordinate angular slopes; the steepest
// unvisited coordinate moves by DescentStep in the sign of its slope.
func (r *run) descend() (control.Vector, []int, bool) {
	cfg := r.e.config
	cur := r.curr
	scores := decoder.Scores(r.fiber, cur.perturbed)

	target := -1
	for i := range r.fiber {
		if i == cur.index {
			continue
		}
		if e, ok := r.known[r.fiber[i].Template.ID]; ok && e >= r.best.energy {
			continue
		}
		if target < 0 || scores[i] > scores[target] {
			target = i
		}
	}
	if target < 0 {
		return nil, nil, false
	}

	from, to := r.fiber[cur.index].Prototype, r.fiber[target].Prototype
	g := make([]float64, len(to))
	for i := range g {
		g[i] = to[i] - from[i]
	}
	d := r.e.proj.Pullback(g)

	type slope struct {
		coord int
		value float64
	}
	slopes := make([]slope, 0, cfg.Dim)
	for i := 0; i < cfg.Dim; i++ {
		theta := control.Angle(cur.control[i], cfg.Modulus)
		v := -d[2*i]*math.Sin(theta) + d[2*i+1]*math.Cos(theta)
		if v != 0 {
			slopes = append(slopes, slope{coord: i, value: v})
		}
	}
	sort.SliceStable(slopes, func(a, b int) bool {
		return math.Abs(slopes[a].value) > math.Abs(slopes[b].value)
	})

	for _, s := range slopes {
		step := cfg.DescentStep
		if s.value < 0 {
			step = -step
		}
		next := cur.control.Step(s.coord, step, cfg.Modulus)
		if !r.visited[next.Key()] {
			return next, []int{s.coord}, true
		}
	}
	return nil, nil, false
}

// #endregion descent

// #region tunnel

// tunnel perturbs 1+escalation coordinates of the best vector by uniform
// non-zero offsets. Escalation grows with the stall count and relaxes the
// preference for fine coordinates.
func (r *run) tunnel() (control.Vector, []int) {
	cfg := r.e.config
	esc := r.stall / cfg.StallThreshold
	count := min(cfg.Dim, 1+esc)

	var next control.Vector
	var picked []int
	for attempt := 0; attempt <= cfg.MaxResample; attempt++ {
		picked = r.pickCoordinates(count, esc)
		next = r.best.control.Clone()
		for _, i := range picked {
			next[i] = control.Wrap(next[i]+1+r.rng.IntN(cfg.Modulus-1), cfg.Modulus)
		}
		if !r.visited[next.Key()] {
			break
		}
	}
	return next, picked
}

// pickCoordinates draws count distinct coordinates, weighting each by its
// sensitivity and by a coarseness penalty that shrinks as escalation grows.
func (r *run) pickCoordinates(count, esc int) []int {
	cfg := r.e.config
	k := cfg.Dim
	span := float64(max(k-1, 1))
	weights := make([]float64, k)
	for i := range weights {
		coarseness := float64(k-1-control.Valuation(i, k)) / span
		weights[i] = r.sens[i] * math.Exp(-cfg.CoarsePenalty*coarseness/float64(1+esc))
	}

	picked := make([]int, 0, count)
	for len(picked) < count {
		var total float64
		last := -1
		for i, w := range weights {
			if w > 0 {
				total += w
				last = i
			}
		}
		if last < 0 {
			break
		}
		x := r.rng.Float64() * total
		choice := last
		for i, w := range weights {
			if w <= 0 {
				continue
			}
			x -= w
			if x < 0 {
				choice = i
				break
			}
		}
		picked = append(picked, choice)
		weights[choice] = 0
	}
	sort.Ints(picked)
	return picked
}

// reinforce moves the sensitivity of the touched coordinates toward 1 on
// improvement and toward the floor otherwise.
func (r *run) reinforce(coords []int, improved bool) {
	reward := 0.0
	if improved {
		reward = 1
	}
	for _, i := range coords {
		s := sensitivityMomentum*r.sens[i] + (1-sensitivityMomentum)*reward
		r.sens[i] = math.Max(s, sensitivityFloor)
	}
}

// #endregion tunnel
