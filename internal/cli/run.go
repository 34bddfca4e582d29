package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tidewatch/internal/engine"
	"github.com/roach88/tidewatch/internal/logbook"
	"github.com/roach88/tidewatch/internal/metrics"
	"github.com/roach88/tidewatch/internal/observation"
	"github.com/roach88/tidewatch/internal/reconcile"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gateway loop",
		Long: `Run the gateway: read live records from the logger, forward them to the
store, keep the local daily log, and repair gaps from the logger's card.

The loop runs until interrupted (SIGINT/SIGTERM) or until the serial link
cannot be reopened within device.reopen_attempts.

Example:
  tidewatch run --config /etc/tidewatch/config.yaml
  TIDEWATCH_STORE_URL=none tidewatch run -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(rootOpts, cmd)
		},
	}

	return cmd
}

func runGateway(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := setupLogging(cmd.ErrOrStderr(), opts)

	g, err := opts.openGateway(formatter, logger)
	if err != nil {
		return err
	}
	defer g.close()

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	if addr := g.cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, logger); err != nil {
				logger.Error("metrics endpoint failed", "addr", addr, "error", err)
			}
		}()
	}

	con, err := opts.openConsole(ctx, g)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return formatter.Fail(ExitCommandError, ErrCodeDevice, "failed to open device", err)
	}

	codec := observation.NewCodec(g.loc)
	eng := engine.New(engine.Deps{
		Console:    con,
		Syncer:     g.newSyncer(con, opts.launcher(g)),
		Reconciler: reconcile.New(g.sink, g.fs, codec, reconcile.WithSlack(g.cfg.Anchor.Slack), reconcile.WithLogger(logger)),
		Publisher:  g.sink,
		Book:       logbook.New(g.fs, g.cfg.Dirs.Logged),
		Remote:     reconcile.RemoteFiles{Fs: g.fs, Dir: g.cfg.Dirs.Downloaded},
		Codec:      codec,
		Clock:      g.clock,
		Logger:     logger,
	}, g.engineConfig())

	logger.Info("gateway starting",
		"device", g.cfg.Device.Path,
		"site_id", g.cfg.Site.ID,
		"store", g.cfg.Store.Kind(),
	)
	fmt.Fprintln(cmd.OutOrStdout(), "Gateway started. Press Ctrl-C to stop.")

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "gateway stopped", err)
	}

	logger.Info("gateway stopped gracefully")
	return nil
}
