package decoder

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region decoder
// Decoder restricts selection to the admissible fiber of a state. Prototype
// vectors are cached by template ID; the cache is safe for concurrent use.
type Decoder struct {
	verifier symbolic.Verifier

	mu     sync.RWMutex
	protos map[string][]float64
}

// New creates a decoder backed by the verifier's admissibility and prototypes.
func New(v symbolic.Verifier) *Decoder {
	return &Decoder{verifier: v, protos: make(map[string][]float64)}
}

// #endregion decoder

// #region fiber

// Fiber returns the admissible candidates at state with prototypes of length
// vocab. An empty fiber fails with ErrNoAdmissibleAction.
func (d *Decoder) Fiber(ctx context.Context, state symbolic.State, vocab int) ([]Candidate, error) {
	templates, err := d.verifier.Admissible(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("admissible actions: %w", err)
	}
	if len(templates) == 0 {
		return nil, symbolic.ErrNoAdmissibleAction
	}
	out := make([]Candidate, 0, len(templates))
	for _, t := range templates {
		proto, err := d.prototype(ctx, t)
		if err != nil {
			return nil, err
		}
		if len(proto) != vocab {
			return nil, fmt.Errorf("prototype %s has %d entries, want %d", t.ID, len(proto), vocab)
		}
		out = append(out, Candidate{Template: t, Prototype: proto})
	}
	return out, nil
}

func (d *Decoder) prototype(ctx context.Context, t symbolic.ActionTemplate) ([]float64, error) {
	d.mu.RLock()
	p, ok := d.protos[t.ID]
	d.mu.RUnlock()
	if ok {
		return p, nil
	}
	p, err := d.verifier.Verbalize(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("verbalize %s: %w", t.ID, err)
	}
	d.mu.Lock()
	d.protos[t.ID] = p
	d.mu.Unlock()
	return p, nil
}

// #endregion fiber

// #region decode

// Decode picks an admissible action for the perturbed scores at state. rng is
// consulted only in stochastic mode and may be nil otherwise.
func (d *Decoder) Decode(ctx context.Context, perturbed []float64, state symbolic.State, mode Mode, rng *rand.Rand) (symbolic.Action, error) {
	fiber, err := d.Fiber(ctx, state, len(perturbed))
	if err != nil {
		return symbolic.Action{}, err
	}
	i := Choose(fiber, perturbed, mode, rng)
	return fiber[i].Template.Action, nil
}

// Scores returns the inner product of perturbed with each candidate prototype.
func Scores(fiber []Candidate, perturbed []float64) []float64 {
	out := make([]float64, len(fiber))
	for i, c := range fiber {
		out[i] = dot(c.Prototype, perturbed)
	}
	return out
}

// Choose returns the index of the selected candidate. Deterministic mode takes
// the maximizer, breaking ties toward the lower index; stochastic mode samples
// softmax(score/T). A non-positive temperature or missing rng degrades to argmax.
func Choose(fiber []Candidate, perturbed []float64, mode Mode, rng *rand.Rand) int {
	scores := Scores(fiber, perturbed)
	if mode.Kind != ModeStochastic || mode.Temperature <= 0 || rng == nil {
		return argmax(scores)
	}
	return sample(scores, mode.Temperature, rng)
}

func argmax(scores []float64) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}

func sample(scores []float64, temperature float64, rng *rand.Rand) int {
	hi := scores[argmax(scores)]
	weights := make([]float64, len(scores))
	var total float64
	for i, s := range scores {
		weights[i] = math.Exp((s - hi) / temperature)
		total += weights[i]
	}
	r := rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r < 0 {
			return i
		}
	}
	return len(scores) - 1
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		if i < len(b) {
			s += a[i] * b[i]
		}
	}
	return s
}

// #endregion decode
