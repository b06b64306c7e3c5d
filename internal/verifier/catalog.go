package verifier

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region catalog
// Catalog is the fixed template list a Checker offers, with one prototype
// per template. A Catalog is read-only after construction.
type Catalog struct {
	vocab      int
	templates  []symbolic.ActionTemplate
	prototypes map[string][]float64
}

// NewCatalog assigns each template a unit-norm Gaussian prototype of length
// vocab, seeded by seed and the template ID.
func NewCatalog(vocab int, seed uint64, templates []symbolic.ActionTemplate) (*Catalog, error) {
	if vocab <= 0 {
		return nil, fmt.Errorf("new catalog: vocab %d must be positive", vocab)
	}
	c := &Catalog{
		vocab:      vocab,
		templates:  make([]symbolic.ActionTemplate, len(templates)),
		prototypes: make(map[string][]float64, len(templates)),
	}
	copy(c.templates, templates)
	for _, t := range templates {
		if t.ID == "" {
			return nil, fmt.Errorf("new catalog: template with empty id")
		}
		if _, dup := c.prototypes[t.ID]; dup {
			return nil, fmt.Errorf("new catalog: duplicate template id %s", t.ID)
		}
		c.prototypes[t.ID] = prototype(vocab, seed^hashID(t.ID))
	}
	return c, nil
}

// SetPrototype replaces the prototype for id.
func (c *Catalog) SetPrototype(id string, proto []float64) error {
	if _, ok := c.prototypes[id]; !ok {
		return fmt.Errorf("set prototype: unknown template %s", id)
	}
	if len(proto) != c.vocab {
		return fmt.Errorf("set prototype %s: length %d, want %d", id, len(proto), c.vocab)
	}
	c.prototypes[id] = append([]float64(nil), proto...)
	return nil
}

// Vocab is the prototype length.
func (c *Catalog) Vocab() int { return c.vocab }

// Templates returns a copy of the template list in catalog order.
func (c *Catalog) Templates() []symbolic.ActionTemplate {
	out := make([]symbolic.ActionTemplate, len(c.templates))
	copy(out, c.templates)
	return out
}

// Prototype returns a copy of the prototype for id.
func (c *Catalog) Prototype(id string) ([]float64, bool) {
	p, ok := c.prototypes[id]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), p...), true
}

func prototype(n int, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	p := make([]float64, n)
	var norm float64
	for i := range p {
		p[i] = rng.NormFloat64()
		norm += p[i] * p[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		p[0] = 1
		return p
	}
	for i := range p {
		p[i] /= norm
	}
	return p
}

func hashID(id string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}

// #endregion catalog

// #region defaults
// DefaultTemplates is a small parity derivation: two symbols, their sum and
// product, claims on each result, and a two-way split.
func DefaultTemplates() []symbolic.ActionTemplate {
	return []symbolic.ActionTemplate{
		{ID: "define-a", Action: symbolic.Action{Kind: symbolic.ActionDefine, Symbol: "a", Path: []string{"int", "odd"}}},
		{ID: "define-b", Action: symbolic.Action{Kind: symbolic.ActionDefine, Symbol: "b", Path: []string{"int", "even"}}},
		{ID: "sum-ab", Action: symbolic.Action{Kind: symbolic.ActionApply, Rule: RuleModAdd, Inputs: []string{"a", "b"}, Output: "c"}},
		{ID: "prod-ab", Action: symbolic.Action{Kind: symbolic.ActionApply, Rule: RuleModMul, Inputs: []string{"a", "b"}, Output: "d"}},
		{ID: "claim-c-odd", Action: symbolic.Action{Kind: symbolic.ActionAssert, Rule: string(Odd), Inputs: []string{"c"}}},
		{ID: "claim-d-odd", Action: symbolic.Action{Kind: symbolic.ActionAssert, Rule: string(Odd), Inputs: []string{"d"}}},
		{ID: "split-lr", Action: symbolic.Action{Kind: symbolic.ActionSplit, Cases: []string{"left", "right"}}},
		{ID: "close", Action: symbolic.Action{Kind: symbolic.ActionClose}},
	}
}

// #endregion defaults
