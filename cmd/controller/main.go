package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/config"
	"github.com/danielpatrickdp/constrained-decoding/go-controller/internal/logging"
)

// #region main
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// #endregion main

// #region app
// app carries the state shared by every subcommand.
type app struct {
	configPath string
	dbPath     string
	logLevel   string

	cfg    config.Config
	logger *zap.Logger
	out    io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out, logger: zap.NewNop()}

	root := &cobra.Command{
		Use:           "controller",
		Short:         "Constrained decoding controller",
		Long:          "Steers a generator's scores with a torus-valued control searched against a symbolic verifier.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&a.dbPath, "db", "", "SQLite database path (overrides config)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (overrides config)")

	root.AddCommand(a.runCmd(), a.replayCmd(), a.inspectCmd(), a.serveCmd())
	return root
}

// setup loads configuration and builds the logger.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

// #endregion app

// #region exit-codes
// mismatchError reports replays that diverged from their fixtures.
type mismatchError struct{ failed int }

func (e mismatchError) Error() string { return fmt.Sprintf("%d fixtures diverged", e.failed) }

// exitCode maps an error to the process exit status: 1 for divergence,
// 2 for anything else.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var mm mismatchError
	if errors.As(err, &mm) {
		return 1
	}
	return 2
}

// #endregion exit-codes
