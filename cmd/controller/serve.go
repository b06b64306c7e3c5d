package main

import (
	"context"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/codec"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/verifier"
)

// #region serve-cmd
func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the parity verifier over gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:50051", "listen address")
	return cmd
}

// #endregion serve-cmd

// #region serve
// serve blocks until ctx is done or the listener fails.
func (a *app) serve(ctx context.Context, addr string) error {
	checker, err := newChecker(a.cfg)
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	if a.cfg.MetricsAddr != "" {
		stop := serveMetrics(a.cfg.MetricsAddr, a.logger)
		defer stop()
	}

	srv := grpc.NewServer()
	codec.NewServer(checker, verifier.SnapshotCodec{}, a.logger).Register(srv)

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(lis) }()
	a.logger.Info("verifier serving",
		zap.String("addr", lis.Addr().String()),
		zap.Int("vocab", a.cfg.Catalog.Vocab))

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		<-errc
		a.logger.Info("verifier stopped", zap.Int64("calls", checker.Calls()))
		return nil
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	}
}

// #endregion serve
