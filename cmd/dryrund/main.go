package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cosmossdk.io/log"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iosh/dryrun/config"
	"github.com/iosh/dryrun/server"
	"github.com/iosh/dryrun/simulation"
)

func main() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.OutOrStderr(), err)
		os.Exit(1)
	}
}

// NewRootCmd builds the dryrund root command.
func NewRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "dryrund",
		Short:         "Stateless EVM transaction dry-run JSON-RPC service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
}

func run(ctx context.Context) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Tracing)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := simulation.Dial(ctx, cfg.Evm.RpcURL, logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	service := simulation.NewService(provider, cfg.Abi.LookupURL, logger)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return server.StartMetricsServer(ctx, logger, cfg.Metrics.ListenAddress)
		})
	}

	if _, err := server.StartJSONRPC(ctx, logger, g, cfg, service); err != nil {
		return err
	}

	return g.Wait()
}

func newLogger(cfg config.TracingConfig) (log.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid tracing.level %q: %w", cfg.Level, err)
	}
	opts := []log.Option{log.LevelOption(level)}
	switch cfg.Format {
	case "json":
		opts = append(opts, log.OutputJSONOption())
	case "pretty", "":
	default:
		return nil, fmt.Errorf("invalid tracing.format %q: want pretty or json", cfg.Format)
	}
	return log.NewLogger(os.Stderr, opts...), nil
}
