package codec

import (
	"context"
	"fmt"
	"time"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/frame"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region client-struct
// Client speaks the verifier and generator services over gRPC. It implements
// symbolic.Verifier and symbolic.Brancher; states it returns are *State
// values owned by the remote side.
type Client struct {
	conn  grpc.ClientConnInterface
	close func() error
}

var (
	_ symbolic.Verifier = (*Client)(nil)
	_ symbolic.Brancher = (*Client)(nil)
)

// #endregion client-struct

// #region constructor
// Dial connects to a remote oracle without transport security.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, close: conn.Close}, nil
}

// NewClientWithConn wraps an existing connection. Close is a no-op; the
// caller keeps ownership of conn.
func NewClientWithConn(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close shuts down a connection opened by Dial.
func (c *Client) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// #endregion constructor

// #region invoke
func (c *Client) invoke(ctx context.Context, method string, req, reply any) error {
	in, err := toStruct(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	out := &structpb.Struct{}
	start := time.Now()
	err = c.conn.Invoke(ctx, method, in, out)
	rpcSeconds.WithLabelValues(method).Observe(time.Since(start).Seconds())
	rpcTotal.WithLabelValues(method, status.Code(err).String()).Inc()
	if err != nil {
		return fromStatus(method, err)
	}
	if err := fromStruct(out, reply); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func wireState(s symbolic.State) State {
	switch st := s.(type) {
	case State:
		return st
	case *State:
		if st != nil {
			return *st
		}
		return State{}
	case nil:
		return State{}
	}
	return State{ID: s.Key()}
}

// #endregion invoke

// #region verifier

// Transition applies action remotely.
func (c *Client) Transition(ctx context.Context, state symbolic.State, action symbolic.Action) (symbolic.State, error) {
	var reply stateReply
	if err := c.invoke(ctx, MethodTransition, stateActionRequest{State: wireState(state), Action: action}, &reply); err != nil {
		return nil, err
	}
	return &reply.State, nil
}

// Energy asks the remote oracle to score action.
func (c *Client) Energy(ctx context.Context, state symbolic.State, action symbolic.Action) (symbolic.Signal, error) {
	var reply signalReply
	if err := c.invoke(ctx, MethodEnergy, stateActionRequest{State: wireState(state), Action: action}, &reply); err != nil {
		return symbolic.Signal{}, err
	}
	return reply.Signal, nil
}

// Admissible lists the remote templates available at state.
func (c *Client) Admissible(ctx context.Context, state symbolic.State) ([]symbolic.ActionTemplate, error) {
	var reply templatesReply
	if err := c.invoke(ctx, MethodAdmissible, stateRequest{State: wireState(state)}, &reply); err != nil {
		return nil, err
	}
	return reply.Templates, nil
}

// Verbalize fetches the prototype vector of template.
func (c *Client) Verbalize(ctx context.Context, template symbolic.ActionTemplate) ([]float64, error) {
	var reply prototypeReply
	if err := c.invoke(ctx, MethodVerbalize, verbalizeRequest{Template: template}, &reply); err != nil {
		return nil, err
	}
	return reply.Prototype, nil
}

// Enter opens case i of split remotely.
func (c *Client) Enter(ctx context.Context, parent symbolic.State, split symbolic.Action, i int) (symbolic.State, error) {
	var reply stateReply
	req := enterRequest{Parent: wireState(parent), Split: split, Case: i}
	if err := c.invoke(ctx, MethodEnter, req, &reply); err != nil {
		return nil, err
	}
	return &reply.State, nil
}

// Join merges finished case states remotely.
func (c *Client) Join(ctx context.Context, parent symbolic.State, children []symbolic.State) (symbolic.State, error) {
	req := joinRequest{Parent: wireState(parent), Children: make([]State, len(children))}
	for i, ch := range children {
		req.Children[i] = wireState(ch)
	}
	var reply stateReply
	if err := c.invoke(ctx, MethodJoin, req, &reply); err != nil {
		return nil, err
	}
	return &reply.State, nil
}

// #endregion verifier

// #region generator
// Generator drives a remote language model session one micro-step at a time.
type Generator struct {
	client  *Client
	session string
}

var _ frame.Generator = (*Generator)(nil)

// NewGenerator binds a generator to session.
func NewGenerator(c *Client, session string) *Generator {
	return &Generator{client: c, session: session}
}

// Scores fetches the base scores for a micro-step.
func (g *Generator) Scores(ctx context.Context, n, step int) ([]float64, error) {
	var reply scoresReply
	req := scoresRequest{Session: g.session, Frame: n, Step: step}
	if err := g.client.invoke(ctx, MethodScores, req, &reply); err != nil {
		return nil, err
	}
	return reply.Scores, nil
}

// Apply hands the chosen bias back to the generator.
func (g *Generator) Apply(ctx context.Context, n, step int, bias []float64) error {
	req := applyRequest{Session: g.session, Frame: n, Step: step, Bias: bias}
	return g.client.invoke(ctx, MethodApply, req, &emptyReply{})
}

// #endregion generator
