package codec

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region server
// Server exposes a local verifier as the vapo.Verifier service so that
// controllers in other processes can use it through Client.
type Server struct {
	verifier symbolic.Verifier
	brancher symbolic.Brancher // nil when the verifier does not scope splits
	codec    StateCodec
	logger   *zap.Logger
}

// NewServer wraps v. States cross the wire through sc.
func NewServer(v symbolic.Verifier, sc StateCodec, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	b, _ := v.(symbolic.Brancher)
	return &Server{verifier: v, brancher: b, codec: sc, logger: logger}
}

// Register attaches the service to r.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&verifierServiceDesc, s)
}

type verifierHandler interface {
	decodeState(w State) (symbolic.State, error)
}

var verifierServiceDesc = grpc.ServiceDesc{
	ServiceName: VerifierService,
	HandlerType: (*verifierHandler)(nil),
	Methods: []grpc.MethodDesc{
		unary("Transition", func(s *Server, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			return handle(ctx, in, s.transition)
		}),
		unary("Energy", func(s *Server, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			return handle(ctx, in, s.energy)
		}),
		unary("Admissible", func(s *Server, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			return handle(ctx, in, s.admissible)
		}),
		unary("Verbalize", func(s *Server, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			return handle(ctx, in, s.verbalize)
		}),
		unary("Enter", func(s *Server, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			return handle(ctx, in, s.enter)
		}),
		unary("Join", func(s *Server, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
			return handle(ctx, in, s.join)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vapo/verifier.proto",
}

func unary(name string, fn func(*Server, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	full := "/" + VerifierService + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := &structpb.Struct{}
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			call := func(ctx context.Context, req any) (any, error) {
				out, err := fn(s, ctx, req.(*structpb.Struct))
				if err != nil {
					s.logger.Warn("verifier rpc failed", zap.String("method", full), zap.Error(err))
				}
				return out, err
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, call)
		},
	}
}

func handle[Req, Rep any](ctx context.Context, in *structpb.Struct, fn func(context.Context, Req) (Rep, error)) (*structpb.Struct, error) {
	var req Req
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	rep, err := fn(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := toStruct(rep)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// #endregion server

// #region state-wire
func (s *Server) decodeState(w State) (symbolic.State, error) {
	st, err := s.codec.Decode(w.Payload)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("decode state %q: %v", w.ID, err))
	}
	return st, nil
}

func (s *Server) encodeState(st symbolic.State) (State, error) {
	payload, err := s.codec.Encode(st)
	if err != nil {
		return State{}, fmt.Errorf("encode state: %w", err)
	}
	return State{ID: st.Key(), Payload: payload}, nil
}

// #endregion state-wire

// #region handlers
func (s *Server) transition(ctx context.Context, req stateActionRequest) (stateReply, error) {
	st, err := s.decodeState(req.State)
	if err != nil {
		return stateReply{}, err
	}
	next, err := s.verifier.Transition(ctx, st, req.Action)
	if err != nil {
		return stateReply{}, err
	}
	w, err := s.encodeState(next)
	return stateReply{State: w}, err
}

func (s *Server) energy(ctx context.Context, req stateActionRequest) (signalReply, error) {
	st, err := s.decodeState(req.State)
	if err != nil {
		return signalReply{}, err
	}
	sig, err := s.verifier.Energy(ctx, st, req.Action)
	return signalReply{Signal: sig}, err
}

func (s *Server) admissible(ctx context.Context, req stateRequest) (templatesReply, error) {
	st, err := s.decodeState(req.State)
	if err != nil {
		return templatesReply{}, err
	}
	ts, err := s.verifier.Admissible(ctx, st)
	return templatesReply{Templates: ts}, err
}

func (s *Server) verbalize(ctx context.Context, req verbalizeRequest) (prototypeReply, error) {
	p, err := s.verifier.Verbalize(ctx, req.Template)
	return prototypeReply{Prototype: p}, err
}

func (s *Server) enter(ctx context.Context, req enterRequest) (stateReply, error) {
	if s.brancher == nil {
		return stateReply{}, status.Error(codes.Unimplemented, "verifier does not support splits")
	}
	parent, err := s.decodeState(req.Parent)
	if err != nil {
		return stateReply{}, err
	}
	child, err := s.brancher.Enter(ctx, parent, req.Split, req.Case)
	if err != nil {
		return stateReply{}, err
	}
	w, err := s.encodeState(child)
	return stateReply{State: w}, err
}

func (s *Server) join(ctx context.Context, req joinRequest) (stateReply, error) {
	if s.brancher == nil {
		return stateReply{}, status.Error(codes.Unimplemented, "verifier does not support splits")
	}
	parent, err := s.decodeState(req.Parent)
	if err != nil {
		return stateReply{}, err
	}
	children := make([]symbolic.State, len(req.Children))
	for i, c := range req.Children {
		if children[i], err = s.decodeState(c); err != nil {
			return stateReply{}, err
		}
	}
	merged, err := s.brancher.Join(ctx, parent, children)
	if err != nil {
		return stateReply{}, err
	}
	w, err := s.encodeState(merged)
	return stateReply{State: w}, err
}

// #endregion handlers
