package main

import (
	"context"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/canon"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/codec"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/config"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/decoder"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/energy"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/frame"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/gate"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/projection"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/store"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/verifier"
)

// #region oracle
// oracle is the verifier a run talks to, its root state and a generator
// factory. Remote oracles also serve the generator.
type oracle struct {
	verifier symbolic.Verifier
	root     symbolic.State
	newGen   func(session string, seed uint64) frame.Generator
	close    func() error
}

// dialOracle connects to the remote verifier when one is configured and
// falls back to the in-process parity checker.
func (a *app) dialOracle() (*oracle, error) {
	if addr := a.cfg.CodecAddr; addr != "" {
		client, err := codec.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("dial verifier: %w", err)
		}
		a.logger.Info("using remote verifier", zap.String("addr", addr))
		return &oracle{
			verifier: client,
			root:     codec.State{},
			newGen: func(session string, _ uint64) frame.Generator {
				return codec.NewGenerator(client, session)
			},
			close: client.Close,
		}, nil
	}

	checker, err := newChecker(a.cfg)
	if err != nil {
		return nil, err
	}
	vocab := a.cfg.Catalog.Vocab
	return &oracle{
		verifier: checker,
		root:     verifier.NewState(),
		newGen: func(_ string, seed uint64) frame.Generator {
			return noiseGen{vocab: vocab, seed: seed}
		},
		close: func() error { return nil },
	}, nil
}

func newChecker(cfg config.Config) (*verifier.Checker, error) {
	cat, err := verifier.NewCatalog(cfg.Catalog.Vocab, cfg.Catalog.Seed, verifier.DefaultTemplates())
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	return verifier.NewChecker(cat), nil
}

// #endregion oracle

// #region builder

// newBuilder returns the runner factory the orchestrator builds strategies
// with. Every runner shares the store for labels, proposals and frame records.
func newBuilder(cfg config.Config, v symbolic.Verifier, st *store.Store, rec frame.Recorder, logger *zap.Logger) orchestrator.Builder {
	return func(s orchestrator.StrategyConfig, rotation uint64) (*frame.Runner, error) {
		proj, err := projection.New(cfg.ProjectionConfig(rotation))
		if err != nil {
			return nil, fmt.Errorf("projection: %w", err)
		}
		dec := decoder.New(v)
		model := energy.NewModel(v, canon.New(canon.DefaultConfig()), cfg.EnergyConfig())
		eng, err := search.NewEngine(s.SearchConfig(cfg.SearchConfig()), proj, dec, model,
			search.WithLogger(logger.With(zap.String("strategy", string(s.ID)))),
			search.WithLabelSink(st),
			search.WithProposalSource(st))
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		ctrl, err := frame.NewController(cfg.FrameConfig(), eng, dec, model, logger)
		if err != nil {
			return nil, fmt.Errorf("controller: %w", err)
		}
		return frame.NewRunner(ctrl, v, gate.NewGate(cfg.GateConfig()),
			frame.WithRecorder(rec),
			frame.WithRunnerLogger(logger)), nil
	}
}

// #endregion builder

// #region noise-generator
// noiseGen stands in for a language model when no remote generator is
// configured. Scores are standard normal draws keyed by (frame, step), so a
// retried frame sees the rows it saw before.
type noiseGen struct {
	vocab int
	seed  uint64
}

func (g noiseGen) Scores(_ context.Context, n, step int) ([]float64, error) {
	dist := distuv.Normal{
		Mu:    0,
		Sigma: 1,
		Src:   rand.NewPCG(g.seed, uint64(n)<<32|uint64(step)),
	}
	row := make([]float64, g.vocab)
	for i := range row {
		row[i] = dist.Rand()
	}
	return row, nil
}

func (noiseGen) Apply(context.Context, int, int, []float64) error { return nil }

// #endregion noise-generator
