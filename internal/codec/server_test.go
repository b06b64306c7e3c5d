package codec

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/verifier"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T, v symbolic.Verifier) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	NewServer(v, verifier.SnapshotCodec{}, zaptest.NewLogger(t)).Register(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewClientWithConn(conn)
}

func newParityChecker(t *testing.T) *verifier.Checker {
	t.Helper()
	cat, err := verifier.NewCatalog(16, 3, verifier.DefaultTemplates())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return verifier.NewChecker(cat)
}

func templateByID(t *testing.T, ts []symbolic.ActionTemplate, id string) symbolic.ActionTemplate {
	t.Helper()
	for _, tpl := range ts {
		if tpl.ID == id {
			return tpl
		}
	}
	t.Fatalf("template %s not offered", id)
	return symbolic.ActionTemplate{}
}

func TestServerRoundTrip(t *testing.T) {
	checker := newParityChecker(t)
	c := startServer(t, checker)
	ctx := context.Background()

	root, err := c.Admissible(ctx, nil)
	if err != nil {
		t.Fatalf("Admissible: %v", err)
	}
	defineA := templateByID(t, root, "define-a")
	defineB := templateByID(t, root, "define-b")

	st, err := c.Transition(ctx, nil, defineA.Action)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	st, err = c.Transition(ctx, st, defineB.Action)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}

	local := verifier.NewStateWith(map[string]verifier.Parity{"a": verifier.Odd, "b": verifier.Even})
	if st.Key() != local.Key() {
		t.Errorf("expected remote key %q, got %q", local.Key(), st.Key())
	}

	next, err := c.Admissible(ctx, st)
	if err != nil {
		t.Fatalf("Admissible: %v", err)
	}
	sum := templateByID(t, next, "sum-ab")
	sig, err := c.Energy(ctx, st, sum.Action)
	if err != nil {
		t.Fatalf("Energy: %v", err)
	}
	if !sig.IsZero() {
		t.Errorf("expected zero energy for sum-ab, got %v", sig)
	}

	redefine, err := c.Energy(ctx, st, defineA.Action)
	if err != nil {
		t.Fatalf("Energy: %v", err)
	}
	if redefine.Kind != symbolic.SignalScalar {
		t.Errorf("expected scalar energy for redefinition, got %v", redefine)
	}

	proto, err := c.Verbalize(ctx, defineA)
	if err != nil {
		t.Fatalf("Verbalize: %v", err)
	}
	want, _ := checker.Catalog().Prototype("define-a")
	if len(proto) != len(want) || proto[0] != want[0] {
		t.Errorf("expected catalog prototype, got %v", proto)
	}
}

func TestServerBranchesAndMalformedClose(t *testing.T) {
	c := startServer(t, newParityChecker(t))
	ctx := context.Background()
	split := symbolic.Action{Kind: symbolic.ActionSplit, Cases: []string{"left", "right"}}
	defineA := symbolic.Action{Kind: symbolic.ActionDefine, Symbol: "a", Path: []string{"int", "odd"}}

	children := make([]symbolic.State, 2)
	for i := range children {
		st, err := c.Enter(ctx, nil, split, i)
		if err != nil {
			t.Fatalf("Enter: %v", err)
		}
		if children[i], err = c.Transition(ctx, st, defineA); err != nil {
			t.Fatalf("Transition: %v", err)
		}
		if children[i], err = c.Transition(ctx, children[i], symbolic.Action{Kind: symbolic.ActionClose}); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	merged, err := c.Join(ctx, nil, children)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	want := verifier.NewStateWith(map[string]verifier.Parity{"a": verifier.Odd})
	if merged.Key() != want.Key() {
		t.Errorf("expected merged key %q, got %q", want.Key(), merged.Key())
	}

	_, err = c.Transition(ctx, nil, symbolic.Action{Kind: symbolic.ActionClose})
	if !errors.Is(err, symbolic.ErrMalformedMerge) {
		t.Fatalf("expected ErrMalformedMerge for close at root, got %v", err)
	}
}

type plainVerifier struct{ symbolic.Verifier }

func TestServerWithoutBrancher(t *testing.T) {
	c := startServer(t, plainVerifier{newParityChecker(t)})
	split := symbolic.Action{Kind: symbolic.ActionSplit, Cases: []string{"left", "right"}}
	if _, err := c.Enter(context.Background(), nil, split, 0); err == nil {
		t.Fatal("expected unimplemented error")
	}
}

func TestServerRejectsBadPayload(t *testing.T) {
	c := startServer(t, newParityChecker(t))
	bad := &State{ID: "x", Payload: []byte(`{"frames":[{"parent":5}],"top":0}`)}
	if _, err := c.Admissible(context.Background(), bad); err == nil {
		t.Fatal("expected invalid argument error")
	}
}
