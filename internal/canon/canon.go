package canon

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region config
// Config lists the rewriting rules the canonicalizer applies.
type Config struct {
	Commutative []string // rules whose operand order is irrelevant
	BoundPrefix string   // prefix marking bound variables, e.g. "?x"
}

// DefaultConfig returns the rule set used by the parity verifier.
func DefaultConfig() Config {
	return Config{
		Commutative: []string{"modadd", "modmul", "and", "or", "eq"},
		BoundPrefix: "?",
	}
}

// #endregion config

// #region canonicalizer
// Canonicalizer maps actions to a deterministic representative of their
// equivalence class. It holds no mutable state and is safe to share.
type Canonicalizer struct {
	commutative map[string]bool
	bound       string
}

// New creates a canonicalizer.
func New(cfg Config) *Canonicalizer {
	c := &Canonicalizer{commutative: make(map[string]bool), bound: cfg.BoundPrefix}
	for _, r := range cfg.Commutative {
		c.commutative[normRule(r)] = true
	}
	return c
}

// Canonicalize returns the normal form of a. It is idempotent and never
// aliases the slices of a.
func (c *Canonicalizer) Canonicalize(a symbolic.Action) symbolic.Action {
	switch a.Kind {
	case symbolic.ActionDefine:
		out := symbolic.Action{Kind: a.Kind, Symbol: strings.TrimSpace(a.Symbol), Path: normPath(a.Path)}
		c.rename(&out)
		return out
	case symbolic.ActionApply:
		out := symbolic.Action{
			Kind:   a.Kind,
			Rule:   normRule(a.Rule),
			Inputs: trimAll(a.Inputs),
			Output: strings.TrimSpace(a.Output),
		}
		if c.commutative[out.Rule] {
			c.orderOperands(out.Inputs, out.Output)
		}
		c.rename(&out)
		return out
	case symbolic.ActionAssert:
		// a conjunction of claims: order and repetition are irrelevant
		out := symbolic.Action{Kind: a.Kind, Rule: normRule(a.Rule), Inputs: unique(trimAll(a.Inputs))}
		c.orderOperands(out.Inputs, "")
		c.rename(&out)
		return out
	case symbolic.ActionSplit:
		cases := trimAll(a.Cases)
		sort.Strings(cases)
		return symbolic.Action{Kind: a.Kind, Cases: dedupe(cases)}
	case symbolic.ActionClose:
		return symbolic.Action{Kind: a.Kind}
	}
	// unknown kinds are passed through untouched so the verifier can reject them
	out := a
	out.Path = trimAll(a.Path)
	out.Inputs = trimAll(a.Inputs)
	out.Cases = trimAll(a.Cases)
	return out
}

// Key returns a stable string for the canonical form of a.
func (c *Canonicalizer) Key(a symbolic.Action) string {
	b, err := json.Marshal(c.Canonicalize(a))
	if err != nil {
		// Action holds only strings and string slices
		panic("canon: marshal action: " + err.Error())
	}
	return string(b)
}

// #endregion canonicalizer

// #region operands

// orderOperands sorts operands in place. Free symbols sort by name after every
// bound variable; bound variables sort by a name-independent shape (whether
// they are also the output, how often they occur) so alpha-renamed inputs land
// in the same slots.
func (c *Canonicalizer) orderOperands(ops []string, output string) {
	counts := make(map[string]int, len(ops))
	for _, o := range ops {
		counts[o]++
	}
	sort.SliceStable(ops, func(i, j int) bool {
		a, b := ops[i], ops[j]
		ab, bb := c.isBound(a), c.isBound(b)
		if ab != bb {
			return ab
		}
		if !ab {
			return a < b
		}
		ao, bo := a == output, b == output
		if ao != bo {
			return !ao
		}
		return counts[a] > counts[b]
	})
}

// rename replaces bound variables with ?0, ?1, ... in order of first
// appearance across Symbol, Inputs and Output.
func (c *Canonicalizer) rename(a *symbolic.Action) {
	if c.bound == "" {
		return
	}
	names := make(map[string]string)
	sub := func(s string) string {
		if !c.isBound(s) {
			return s
		}
		if n, ok := names[s]; ok {
			return n
		}
		n := c.bound + strconv.Itoa(len(names))
		names[s] = n
		return n
	}
	a.Symbol = sub(a.Symbol)
	for i, in := range a.Inputs {
		a.Inputs[i] = sub(in)
	}
	a.Output = sub(a.Output)
}

func (c *Canonicalizer) isBound(s string) bool {
	return c.bound != "" && len(s) > len(c.bound) && strings.HasPrefix(s, c.bound)
}

// #endregion operands

// #region helpers

func normRule(r string) string {
	return strings.ToLower(strings.TrimSpace(r))
}

func normPath(p []string) []string {
	var out []string
	for _, seg := range p {
		seg = strings.ToLower(strings.TrimSpace(seg))
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

// unique drops repeated entries, keeping first occurrences in order.
func unique(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// dedupe drops adjacent duplicates.
func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// #endregion helpers
