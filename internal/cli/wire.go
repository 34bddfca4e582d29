package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roach88/tidewatch/internal/archive"
	"github.com/roach88/tidewatch/internal/clock"
	"github.com/roach88/tidewatch/internal/config"
	"github.com/roach88/tidewatch/internal/engine"
	"github.com/roach88/tidewatch/internal/launcher"
	"github.com/roach88/tidewatch/internal/store"
	"github.com/roach88/tidewatch/internal/transport"
	"github.com/roach88/tidewatch/internal/tsdb"
)

// gateway bundles what every command builds from the config.
type gateway struct {
	cfg    config.Config
	loc    *time.Location
	fs     afero.Fs
	clock  clock.Clock
	logger *slog.Logger

	store      tsdb.Store
	closeStore func() error
	sink       *tsdb.Sink
}

func (o *RootOptions) filesystem() afero.Fs {
	if o.Fs != nil {
		return o.Fs
	}
	return afero.NewOsFs()
}

func (o *RootOptions) clock() clock.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return clock.System{}
}

// setupLogging installs the default logger on w.
func setupLogging(w io.Writer, opts *RootOptions) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewTextHandler(w, handlerOpts)
	if opts.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// openGateway loads and validates the config and opens the store. Errors
// are already reported through f.
func (o *RootOptions) openGateway(f *OutputFormatter, logger *slog.Logger) (*gateway, error) {
	fsys := o.filesystem()
	cfg, err := config.Load(fsys, o.ConfigPath)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, f.Fail(ExitFailure, ErrCodeConfig, "invalid config", err)
	}
	loc, err := cfg.Site.Location()
	if err != nil {
		return nil, f.Fail(ExitFailure, ErrCodeConfig, "invalid config", err)
	}

	g := &gateway{cfg: cfg, loc: loc, fs: fsys, clock: o.clock(), logger: logger}
	if err := g.openStore(); err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	g.sink = tsdb.NewSink(g.store, cfg.Site.Place, cfg.Site.ID,
		tsdb.Calibration{Offset: cfg.Calibration.Offset, TempFactor: cfg.Calibration.TempFactor},
		loc,
	)
	return g, nil
}

func (g *gateway) openStore() error {
	g.closeStore = func() error { return nil }
	sc := g.cfg.Store
	switch sc.Kind() {
	case config.StoreDiscard:
		g.logger.Warn("publishing disabled", "store_url", sc.URL)
		g.store = tsdb.Discard{Clock: g.clock}
	case config.StoreSQLite:
		st, err := store.Open(sc.SQLitePath())
		if err != nil {
			return err
		}
		g.logger.Info("sqlite store ready", "path", sc.SQLitePath())
		g.store, g.closeStore = st, st.Close
	default:
		g.store = tsdb.NewHTTPStore(sc.URL,
			tsdb.WithBasicAuth(sc.User, sc.Password),
			tsdb.WithMaxTries(sc.MaxTries),
			tsdb.WithHTTPTimeout(sc.Timeout),
			tsdb.WithHTTPLogger(g.logger),
		)
		g.logger.Info("http store configured", "url", sc.URL)
	}
	return nil
}

func (g *gateway) close() {
	if err := g.closeStore(); err != nil {
		g.logger.Error("error closing store", "error", err)
	}
}

// archiveMenu maps the menu config onto the sync automaton's.
func (g *gateway) archiveMenu() archive.Menu {
	m := g.cfg.Menu
	return archive.Menu{
		MainBanner:      m.MainBanner,
		FileBanner:      m.FileBanner,
		ListingEnd:      m.ListingEnd,
		Noop:            m.Noop,
		FileMode:        m.FileMode,
		List:            m.List,
		Send:            m.Send,
		Exit:            m.Exit,
		ProbeTimeout:    m.ProbeTimeout,
		FileModeTimeout: m.FileModeTimeout,
		ListingTimeout:  m.ListingTimeout,
		ExitTimeout:     m.ExitTimeout,
		SeekTimeout:     m.SeekTimeout,
		Settle:          m.Settle,
		ListingAttempts: m.ListingAttempts,
		ExitAttempts:    m.ExitAttempts,
	}
}

func (g *gateway) engineConfig() engine.Config {
	return engine.Config{
		ReadTimeout:    g.cfg.Device.ReadTimeout,
		PollFast:       g.cfg.Loop.PollFast,
		PollSlow:       g.cfg.Loop.PollSlow,
		MaxDataDelay:   g.cfg.Loop.MaxDataDelay,
		ReopenDelay:    g.cfg.Device.ReopenDelay,
		ReopenAttempts: g.cfg.Device.ReopenAttempts,
		SyncOnStart:    g.cfg.Loop.SyncOnStart,
		Slack:          g.cfg.Anchor.Slack,
	}
}

func (o *RootOptions) launcher(g *gateway) archive.Launcher {
	if o.Launcher != nil {
		return o.Launcher
	}
	return launcher.Shell{Dir: g.cfg.Dirs.Downloaded, Logger: g.logger}
}

func (g *gateway) newSyncer(con *transport.Console, l archive.Launcher) *archive.Syncer {
	return archive.NewSyncer(con, l, g.fs, g.cfg.Dirs.Downloaded, g.clock,
		archive.WithMenu(g.archiveMenu()),
		archive.WithTransferCommand(g.cfg.Transfer.Command),
		archive.WithLocation(g.loc),
		archive.WithLogger(g.logger),
	)
}

// openConsole opens the serial link. With the real device it first waits
// for the device node and lets the link settle; the open itself is retried
// with exponential backoff, bounded by device.reopen_attempts.
func (o *RootOptions) openConsole(ctx context.Context, g *gateway) (*transport.Console, error) {
	dc := g.cfg.Device
	opener := o.Opener
	if opener == nil {
		opener = transport.Serial{Path: dc.Path, Baud: dc.Baud}
		g.logger.Info("waiting for device", "path", dc.Path)
		if err := transport.WaitForDevice(ctx, g.clock, dc.Path, dc.ReopenDelay); err != nil {
			return nil, err
		}
		if err := g.clock.Sleep(ctx, dc.OpenSettle); err != nil {
			return nil, err
		}
	}

	con := transport.NewConsole(opener, g.clock,
		transport.WithReadTimeout(dc.ReadTimeout),
		transport.WithLogger(g.logger),
	)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = max(dc.ReopenDelay, 10*time.Millisecond)
	eb.MaxInterval = time.Minute
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = eb
	if dc.ReopenAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(dc.ReopenAttempts))
	}
	err := backoff.RetryNotify(func() error {
		return con.Open(ctx)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		g.logger.Warn("open failed, retrying", "path", dc.Path, "error", err, "wait", wait.String())
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dc.Path, err)
	}
	return con, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or when the
// command's own context ends.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan) // Prevent signal handler leak
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()
	return ctx, cancel
}
