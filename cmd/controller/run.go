package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/frame"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/store"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/symbolic"
)

// #region run-cmd
func (a *app) runCmd() *cobra.Command {
	var (
		contextID   string
		seed        uint64
		frames      int
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run orchestrated frames against the verifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if metricsAddr != "" {
				a.cfg.MetricsAddr = metricsAddr
			}
			if contextID == "" {
				contextID = uuid.NewString()
			}
			return a.run(cmd.Context(), contextID, seed, frames)
		},
	}
	f := cmd.Flags()
	f.StringVar(&contextID, "context", "", "context ID (default: random UUID)")
	f.Uint64Var(&seed, "seed", 1, "run seed")
	f.IntVar(&frames, "frames", 0, "frame limit per scope (0 uses config)")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// #endregion run-cmd

// #region run
func (a *app) run(ctx context.Context, contextID string, seed uint64, frames int) error {
	st, err := store.NewStore(a.cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if a.cfg.MetricsAddr != "" {
		stop := serveMetrics(a.cfg.MetricsAddr, a.logger)
		defer stop()
	}

	orc, err := a.dialOracle()
	if err != nil {
		return err
	}
	defer orc.close()

	rec := store.NewFrameRecorder(st, a.cfg.Thresholds())
	orch, err := orchestrator.NewOrchestrator(st.DB(),
		newBuilder(a.cfg, orc.verifier, st, rec, a.logger),
		orc.verifier, a.logger, a.cfg.Orchestrator.Enabled,
		orchestrator.WithMaxRetries(a.cfg.Orchestrator.MaxRetries))
	if err != nil {
		return err
	}

	a.logger.Info("run started",
		zap.String("context", contextID),
		zap.Uint64("seed", seed),
		zap.String("db", a.cfg.DBPath),
		zap.Bool("orchestrator", orch.Enabled()))

	printFrameHeader(a)
	req := frame.RunRequest{Context: contextID, Seed: seed, State: orc.root, Frames: frames}
	committed, rejected := 0, 0
	for round := 0; round < a.cfg.Frame.Frames; round++ {
		gen := orc.newGen(fmt.Sprintf("%s#%d", contextID, round), frame.DeriveSeed(seed, uint64(round)))
		outs, next, err := orch.Run(ctx, gen, req)
		for _, oc := range outs {
			printOutcome(a, oc)
			if oc.Accepted >= 0 {
				committed++
				req.Path = append(req.Path, oc.Final().Result.Signal)
			} else {
				rejected++
			}
		}
		if err != nil {
			return err
		}
		req.State = next
		if len(outs) == 0 {
			break
		}
		last := outs[len(outs)-1].Final().Result
		if !last.Committed || last.Action.Kind != symbolic.ActionSplit {
			break
		}

		gens := make([]frame.Generator, len(last.Action.Cases))
		for i, c := range last.Action.Cases {
			gens[i] = orc.newGen(contextID+"/"+c, caseSeed(seed, round, i))
		}
		br, err := orch.RunBranches(ctx, gens, req, last.Action)
		if err != nil {
			return err
		}
		printBranches(a, br)
		if br.Cause != nil {
			rejected++
			break
		}
		req.State = br.State
		req.Path = append(req.Path, br.Cost)
		req.Seed = frame.DeriveSeed(seed, uint64(round+1))
	}

	cost, err := orch.PathCost(req.Path)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\nSummary: context %s, %d committed, %d rejected, path %s, state %s\n",
		contextID, committed, rejected, cost, req.State.Key())
	return nil
}

// caseSalt separates per-case generator seeds from the per-round stream.
const caseSalt = 0xC2B2AE3D27D4EB4F

// caseSeed seeds the generator of case i of the split closing round.
func caseSeed(seed uint64, round, i int) uint64 {
	return frame.DeriveSeed(frame.DeriveSeed(seed^caseSalt, uint64(round)), uint64(i))
}

// #endregion run

// #region output
func printFrameHeader(a *app) {
	fmt.Fprintf(a.out, "%-6s| %-14s| %-22s| %-13s| %-6s| %s\n",
		"Frame", "Template", "Signal", "Strategy", "Tries", "Decision")
	fmt.Fprintf(a.out, "%-6s+%-15s+%-23s+%-14s+%-7s+%s\n",
		"------", "---------------", "-----------------------", "--------------", "-------", "--------")
}

func printOutcome(a *app, oc orchestrator.Outcome) {
	final := oc.Final()
	res := final.Result
	tmpl := res.Template
	if tmpl == "" {
		tmpl = "-"
	}
	fmt.Fprintf(a.out, "%-6d| %-14s| %-22s| %-13s| %-6d| %s\n",
		res.Frame, tmpl, res.Signal, final.Strategy, len(oc.Attempts), res.Decision.Action)
}

func printBranches(a *app, br frame.BranchResult) {
	for i, c := range br.Cases {
		fmt.Fprintf(a.out, "  case %-8s %d frames, %s\n", c, len(br.Frames[i]), br.Signals[i])
	}
	merged := "joined"
	if br.Cause != nil {
		merged = br.Cause.Error()
	}
	fmt.Fprintf(a.out, "  merge: %s, cost %s (%s)\n", br.Signal, br.Cost, merged)
}

// #endregion output

// #region metrics
// serveMetrics exposes the default Prometheus registry and returns a stop
// function.
func serveMetrics(addr string, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// #endregion metrics
