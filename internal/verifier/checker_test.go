package verifier

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

func newChecker(t *testing.T) *Checker {
	t.Helper()
	cat, err := NewCatalog(32, 7, DefaultTemplates())
	require.NoError(t, err)
	return NewChecker(cat)
}

func ids(ts []symbolic.ActionTemplate) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func define(sym string, p Parity) symbolic.Action {
	return symbolic.Action{Kind: symbolic.ActionDefine, Symbol: sym, Path: []string{"int", string(p)}}
}

// #region admissible-tests
func TestAdmissibleEmptyState(t *testing.T) {
	c := newChecker(t)
	got, err := c.Admissible(context.Background(), NewState())
	require.NoError(t, err)
	assert.Equal(t, []string{"define-a", "define-b", "split-lr"}, ids(got))
}

func TestAdmissibleAfterBindings(t *testing.T) {
	c := newChecker(t)
	st := NewStateWith(map[string]Parity{"a": Odd, "b": Even, "c": Odd})
	got, err := c.Admissible(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, []string{"define-a", "define-b", "sum-ab", "prod-ab", "claim-c-odd", "split-lr"}, ids(got))
}

func TestAdmissibleCloseOnlyInCase(t *testing.T) {
	c := newChecker(t)
	split := DefaultTemplates()[6].Action
	child, err := c.Enter(context.Background(), NewState(), split, 0)
	require.NoError(t, err)
	got, err := c.Admissible(context.Background(), child)
	require.NoError(t, err)
	assert.Contains(t, ids(got), "close")
}

func TestAdmissibleRejectsForeignState(t *testing.T) {
	c := newChecker(t)
	_, err := c.Admissible(context.Background(), foreign("x"))
	assert.Error(t, err)
}

type foreign string

func (f foreign) Key() string { return string(f) }

// #endregion admissible-tests

// #region energy-tests
func TestEnergyDefine(t *testing.T) {
	c := newChecker(t)
	ctx := context.Background()
	st := NewStateWith(map[string]Parity{"a": Odd})

	sig, err := c.Energy(ctx, NewState(), define("a", Odd))
	require.NoError(t, err)
	assert.True(t, sig.IsZero())

	sig, err = c.Energy(ctx, st, define("a", Odd))
	require.NoError(t, err)
	assert.Equal(t, symbolic.SignalScalar, sig.Kind)

	sig, err = c.Energy(ctx, st, symbolic.Action{Kind: symbolic.ActionDefine, Symbol: "z", Path: []string{"int"}})
	require.NoError(t, err)
	assert.True(t, sig.IsInfinite())
}

func TestEnergyApply(t *testing.T) {
	c := newChecker(t)
	ctx := context.Background()
	st := NewStateWith(map[string]Parity{"a": Odd, "b": Even, "c": Even})

	sum := symbolic.Action{Kind: symbolic.ActionApply, Rule: RuleModAdd, Inputs: []string{"a", "b"}, Output: "e"}
	sig, err := c.Energy(ctx, st, sum)
	require.NoError(t, err)
	assert.True(t, sig.IsZero(), "unbound output is always consistent")

	sum.Output = "c"
	sig, err = c.Energy(ctx, st, sum)
	require.NoError(t, err)
	assert.Equal(t, symbolic.SignalScalar, sig.Kind, "odd+even bound as even")

	prod := symbolic.Action{Kind: symbolic.ActionApply, Rule: RuleModMul, Inputs: []string{"a", "b"}, Output: "c"}
	sig, err = c.Energy(ctx, st, prod)
	require.NoError(t, err)
	assert.True(t, sig.IsZero())

	for _, bad := range []symbolic.Action{
		{Kind: symbolic.ActionApply, Rule: "modpow", Inputs: []string{"a", "b"}, Output: "x"},
		{Kind: symbolic.ActionApply, Rule: RuleModAdd, Inputs: []string{"a"}, Output: "x"},
		{Kind: symbolic.ActionApply, Rule: RuleModAdd, Inputs: []string{"a", "q"}, Output: "x"},
		{Kind: symbolic.ActionApply, Rule: RuleModAdd, Inputs: []string{"a", "b"}},
	} {
		sig, err := c.Energy(ctx, st, bad)
		require.NoError(t, err)
		assert.True(t, sig.IsInfinite(), "%+v", bad)
	}
}

func TestEnergyAssertIsVector(t *testing.T) {
	c := newChecker(t)
	st := NewStateWith(map[string]Parity{"a": Odd, "b": Even})
	sig, err := c.Energy(context.Background(), st, symbolic.Action{
		Kind: symbolic.ActionAssert, Rule: string(Odd), Inputs: []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, symbolic.SignalVector, sig.Kind)
	assert.Equal(t, []float64{0, 1}, sig.Costs)

	sig, err = c.Energy(context.Background(), st, symbolic.Action{
		Kind: symbolic.ActionAssert, Rule: string(Odd), Inputs: []string{"a"},
	})
	require.NoError(t, err)
	assert.True(t, sig.IsZero())
}

func TestEnergyCloseOutsideCase(t *testing.T) {
	c := newChecker(t)
	sig, err := c.Energy(context.Background(), NewState(), symbolic.Action{Kind: symbolic.ActionClose})
	require.NoError(t, err)
	assert.True(t, sig.IsInfinite())
}

func TestEnergyCountsCalls(t *testing.T) {
	c := newChecker(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Energy(context.Background(), NewState(), define("a", Odd))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(8), c.Calls())
}

func TestEnergyCancelled(t *testing.T) {
	c := newChecker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Energy(ctx, NewState(), define("a", Odd))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Calls())
}

// #endregion energy-tests

// #region transition-tests
func TestTransitionBindsWithoutMutating(t *testing.T) {
	c := newChecker(t)
	ctx := context.Background()
	root := NewState()
	next, err := c.Transition(ctx, root, define("a", Odd))
	require.NoError(t, err)

	_, ok := root.Lookup("a")
	assert.False(t, ok, "original state unchanged")
	p, ok := next.(State).Lookup("a")
	require.True(t, ok)
	assert.Equal(t, Odd, p)
	assert.NotEqual(t, root.Key(), next.Key())
}

func TestTransitionApplyDerivesOutput(t *testing.T) {
	c := newChecker(t)
	st := NewStateWith(map[string]Parity{"a": Odd, "b": Odd})
	next, err := c.Transition(context.Background(), st, symbolic.Action{
		Kind: symbolic.ActionApply, Rule: RuleModAdd, Inputs: []string{"a", "b"}, Output: "c",
	})
	require.NoError(t, err)
	p, _ := next.(State).Lookup("c")
	assert.Equal(t, Even, p)
}

func TestTransitionCloseOutsideCase(t *testing.T) {
	c := newChecker(t)
	_, err := c.Transition(context.Background(), NewState(), symbolic.Action{Kind: symbolic.ActionClose})
	assert.ErrorIs(t, err, symbolic.ErrMalformedMerge)
}

func TestKeyIsOrderIndependent(t *testing.T) {
	c := newChecker(t)
	ctx := context.Background()
	s1, _ := c.Transition(ctx, NewState(), define("a", Odd))
	s1, _ = c.Transition(ctx, s1, define("b", Even))
	s2, _ := c.Transition(ctx, NewState(), define("b", Even))
	s2, _ = c.Transition(ctx, s2, define("a", Odd))
	assert.Equal(t, s1.Key(), s2.Key())
}

// #endregion transition-tests

// #region branching-tests
func TestEnterJoinPromotesAgreement(t *testing.T) {
	c := newChecker(t)
	ctx := context.Background()
	split := symbolic.Action{Kind: symbolic.ActionSplit, Cases: []string{"left", "right"}}
	parent := NewStateWith(map[string]Parity{"a": Odd})

	left, err := c.Enter(ctx, parent, split, 0)
	require.NoError(t, err)
	right, err := c.Enter(ctx, parent, split, 1)
	require.NoError(t, err)
	assert.NotEqual(t, left.Key(), right.Key())

	left, _ = c.Transition(ctx, left, define("x", Even))
	left, _ = c.Transition(ctx, left, define("y", Odd))
	right, _ = c.Transition(ctx, right, define("x", Even))
	right, _ = c.Transition(ctx, right, define("y", Even))

	left, err = c.Transition(ctx, left, symbolic.Action{Kind: symbolic.ActionClose})
	require.NoError(t, err)
	right, err = c.Transition(ctx, right, symbolic.Action{Kind: symbolic.ActionClose})
	require.NoError(t, err)

	joined, err := c.Join(ctx, parent, []symbolic.State{left, right})
	require.NoError(t, err)
	vis := joined.(State).Visible()
	assert.Equal(t, map[string]Parity{"a": Odd, "x": Even}, vis)
}

func TestEnterOutOfRange(t *testing.T) {
	c := newChecker(t)
	split := symbolic.Action{Kind: symbolic.ActionSplit, Cases: []string{"l", "r"}}
	_, err := c.Enter(context.Background(), NewState(), split, 2)
	assert.Error(t, err)
	_, err = c.Enter(context.Background(), NewState(), symbolic.Action{Kind: symbolic.ActionClose}, 0)
	assert.Error(t, err)
}

func TestJoinRejectsUnrelatedChild(t *testing.T) {
	c := newChecker(t)
	ctx := context.Background()
	split := symbolic.Action{Kind: symbolic.ActionSplit, Cases: []string{"l", "r"}}
	deep, _ := c.Enter(ctx, NewState(), split, 0)
	_, err := c.Join(ctx, deep, []symbolic.State{NewState()})
	assert.Error(t, err)
}

// #endregion branching-tests

// #region snapshot-tests
func TestSnapshotRoundTripPreservesKey(t *testing.T) {
	c := newChecker(t)
	ctx := context.Background()
	split := symbolic.Action{Kind: symbolic.ActionSplit, Cases: []string{"l", "r"}}
	st, _ := c.Transition(ctx, NewState(), define("a", Odd))
	st, _ = c.Enter(ctx, st, split, 1)
	st, _ = c.Transition(ctx, st, define("b", Even))

	back, err := Restore(st.(State).Snapshot())
	require.NoError(t, err)
	assert.Equal(t, st.Key(), back.Key())
}

func TestRestoreRejectsBadLinks(t *testing.T) {
	_, err := Restore(Snapshot{Frames: []FrameSnapshot{{Parent: -1}, {Parent: 3}}, Top: 1})
	assert.Error(t, err)
	_, err = Restore(Snapshot{Frames: []FrameSnapshot{{Parent: -1}}, Top: 4})
	assert.Error(t, err)
	_, err = Restore(Snapshot{Frames: []FrameSnapshot{{Parent: -1, Bindings: map[string]Parity{"a": "prime"}}}})
	assert.Error(t, err)
}

func TestSnapshotCodec(t *testing.T) {
	c := newChecker(t)
	ctx := context.Background()
	st, err := c.Transition(ctx, NewState(), define("a", Odd))
	require.NoError(t, err)

	var codec SnapshotCodec
	payload, err := codec.Encode(st)
	require.NoError(t, err)
	back, err := codec.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, st.Key(), back.Key())

	root, err := codec.Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, NewState().Key(), root.Key())

	_, err = codec.Decode([]byte(`{"frames":`))
	assert.Error(t, err)
}

// #endregion snapshot-tests

// #region catalog-tests
func TestCatalogPrototypesAreUnitAndSeeded(t *testing.T) {
	a, err := NewCatalog(16, 1, DefaultTemplates())
	require.NoError(t, err)
	b, err := NewCatalog(16, 1, DefaultTemplates())
	require.NoError(t, err)
	pa, ok := a.Prototype("sum-ab")
	require.True(t, ok)
	pb, _ := b.Prototype("sum-ab")
	assert.Equal(t, pa, pb)

	var norm float64
	for _, x := range pa {
		norm += x * x
	}
	assert.InDelta(t, 1.0, norm, 1e-9)

	other, _ := a.Prototype("prod-ab")
	assert.NotEqual(t, pa, other)
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	ts := DefaultTemplates()
	ts = append(ts, ts[0])
	_, err := NewCatalog(16, 1, ts)
	assert.Error(t, err)
}

func TestSetPrototype(t *testing.T) {
	cat, err := NewCatalog(4, 1, DefaultTemplates())
	require.NoError(t, err)
	require.NoError(t, cat.SetPrototype("close", []float64{1, 0, 0, 0}))
	assert.Error(t, cat.SetPrototype("close", []float64{1}))
	assert.Error(t, cat.SetPrototype("missing", []float64{1, 0, 0, 0}))

	got, err := NewChecker(cat).Verbalize(context.Background(), symbolic.ActionTemplate{ID: "close"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 0}, got)
}

// #endregion catalog-tests
