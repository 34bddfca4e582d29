package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/tidewatch/internal/archive"
	"github.com/roach88/tidewatch/internal/clock"
	"github.com/roach88/tidewatch/internal/logbook"
	"github.com/roach88/tidewatch/internal/metrics"
	"github.com/roach88/tidewatch/internal/observation"
	"github.com/roach88/tidewatch/internal/reconcile"
)

// Console is the serial link as the loop uses it. *transport.Console
// implements it.
type Console interface {
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool
	Pending() (int, error)
	ReadLine(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// Syncer fetches card files. *archive.Syncer implements it.
type Syncer interface {
	Sync(ctx context.Context) (archive.Result, error)
	ExitMenu(ctx context.Context) error
}

// CatchUpper replays a source into the store. *reconcile.Reconciler
// implements it.
type CatchUpper interface {
	CatchUp(ctx context.Context, src reconcile.Source) (reconcile.Report, error)
}

// Config holds loop timing.
type Config struct {
	// ReadTimeout bounds reading one live line.
	ReadTimeout time.Duration

	// PollFast is the idle sleep while a download is wanted, short enough
	// to catch the logger's brief wake window.
	PollFast time.Duration

	// PollSlow is the idle sleep otherwise.
	PollSlow time.Duration

	// MaxDataDelay is the watchdog limit; zero disables it.
	MaxDataDelay time.Duration

	// ReopenDelay is the pause after closing and after reopening the link.
	ReopenDelay time.Duration

	// ReopenAttempts bounds consecutive failed reopens; zero is unlimited.
	ReopenAttempts int

	// SyncOnStart requests a card sync as soon as the logger is heard.
	SyncOnStart bool

	// Slack widens the dedupe boundary when deciding whether a catch-up
	// pass already published the current record.
	Slack time.Duration
}

// DefaultConfig returns production timing.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:  3 * time.Second,
		PollFast:     200 * time.Microsecond,
		PollSlow:     time.Second,
		MaxDataDelay: 15 * time.Minute,
		ReopenDelay:  3 * time.Second,
		SyncOnStart:  true,
	}
}

// Deps are the collaborators the loop drives.
type Deps struct {
	Console    Console
	Syncer     Syncer
	Reconciler CatchUpper
	Publisher  reconcile.Publisher
	Book       *logbook.Book

	// Remote is the catch-up source holding downloaded card files.
	Remote reconcile.Source

	Codec  observation.Codec
	Clock  clock.Clock
	Logger *slog.Logger
}

// Engine is the ingestion loop.
//
// CRITICAL: Step and Run must be called from exactly one goroutine.
type Engine struct {
	console    Console
	syncer     Syncer
	reconciler CatchUpper
	publisher  reconcile.Publisher
	book       *logbook.Book
	local      reconcile.Source
	remote     reconcile.Source
	codec      observation.Codec
	clock      clock.Clock
	logger     *slog.Logger
	cfg        Config

	state         State
	failedReopens int
}

// New returns an engine in its start-of-process state. The console may be
// open already; if not, the first Step opens it.
func New(d Deps, cfg Config) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		console:    d.Console,
		syncer:     d.Syncer,
		reconciler: d.Reconciler,
		publisher:  d.Publisher,
		book:       d.Book,
		local:      reconcile.LocalLog{Book: d.Book},
		remote:     d.Remote,
		codec:      d.Codec,
		clock:      d.Clock,
		logger:     logger,
		cfg:        cfg,
		state:      NewState(d.Clock.Now(), cfg.SyncOnStart),
	}
	e.state.TransportUp = d.Console.IsOpen()
	metrics.SetBool(metrics.TransportUp, e.state.TransportUp)
	metrics.SetBool(metrics.OutOfSync, false)
	return e
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	return e.state
}

// Run steps until ctx is done or the link is lost for good. The console is
// closed on return.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "sync_on_start", e.cfg.SyncOnStart)
	defer e.console.Close()

	for {
		if err := ctx.Err(); err != nil {
			e.logger.Info("engine stopping: context cancelled")
			return err
		}
		if err := e.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				e.logger.Info("engine stopping: context cancelled")
			} else {
				e.logger.Error("engine stopping", "error", err)
			}
			return err
		}
	}
}

// Step runs one iteration of the loop. It returns an error only for
// cancellation or ErrTransportLost; everything else is handled by state.
func (e *Engine) Step(ctx context.Context) error {
	if !e.console.IsOpen() {
		return e.reopen(ctx)
	}

	n, err := e.console.Pending()
	if err != nil {
		return e.linkDown(ctx, err)
	}

	switch {
	case n > 0 && e.state.WantDownload:
		return e.syncRemote(ctx)
	case n > 0:
		return e.ingest(ctx)
	default:
		return e.idle(ctx)
	}
}

func (e *Engine) reopen(ctx context.Context) error {
	if err := e.console.Open(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.failedReopens++
		e.logger.Debug("reopen failed", "attempt", e.failedReopens, "error", err)
		if e.cfg.ReopenAttempts > 0 && e.failedReopens >= e.cfg.ReopenAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrTransportLost, e.failedReopens, err)
		}
		e.state.MarkTransportDown(e.clock.Now())
		return e.clock.Sleep(ctx, e.cfg.ReopenDelay)
	}

	e.failedReopens = 0
	e.logger.Info("serial link restored")
	if err := e.clock.Sleep(ctx, e.cfg.ReopenDelay); err != nil {
		return err
	}
	e.state.MarkTransportUp(e.clock.Now())
	metrics.SetBool(metrics.TransportUp, true)
	return nil
}

func (e *Engine) linkDown(ctx context.Context, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	e.logger.Warn("serial link down, waiting for device", "error", cause)
	_ = e.console.Close()
	e.state.MarkTransportDown(e.clock.Now())
	metrics.SetBool(metrics.TransportUp, false)
	return e.clock.Sleep(ctx, e.cfg.ReopenDelay)
}

func (e *Engine) syncRemote(ctx context.Context) error {
	res, err := e.syncer.Sync(ctx)
	metrics.SyncCycles.WithLabelValues(res.State).Inc()
	metrics.FilesDownloaded.Add(float64(len(res.Downloaded)))
	if res.ArchiveDir != "" {
		metrics.CardResets.Inc()
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.state.SyncFailed(e.clock.Now())
		if isLinkError(err) {
			return e.linkDown(ctx, err)
		}
		return nil
	}

	rep, err := e.reconciler.CatchUp(ctx, e.remote)
	metrics.CatchUpRecords.WithLabelValues(rep.Source).Add(float64(rep.Published))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Warn("remote-file catch-up failed; will sync again", "error", err, "published", rep.Published)
		e.state.SyncFailed(e.clock.Now())
		return nil
	}
	e.state.SyncCompleted(rep.Newest, rep.HasNewest, e.clock.Now())
	e.logger.Info("caught up from card files",
		"published", rep.Published,
		"last_seq", e.state.LastAccepted.Seq,
	)
	return nil
}

// isLinkError reports whether a failed sync points at the link rather than
// at the logger's menu.
func isLinkError(err error) bool {
	var te *archive.TransferError
	switch {
	case errors.Is(err, archive.ErrMenuTimeout),
		errors.Is(err, archive.ErrListingUnstable),
		errors.As(err, &te):
		return false
	}
	return true
}

func (e *Engine) ingest(ctx context.Context) error {
	raw, err := e.console.ReadLine(ctx, e.cfg.ReadTimeout)
	if err != nil {
		return e.linkDown(ctx, err)
	}
	now := e.clock.Now()
	line := observation.Sanitize(raw)
	if strings.TrimSpace(string(line)) == "" {
		e.state.Touch(now)
		return nil
	}
	metrics.LinesReceived.Inc()

	res := e.codec.Decode(line)
	class := Classify(res, e.state.LastAccepted, e.state.HasLast)
	switch class {
	case Unparsable:
		metrics.RecordsUnparsable.Inc()
		e.state.FlagUnparsable(now)
		e.logger.Warn("unparsable line", "line", strings.TrimSpace(string(line)))
		return nil
	case Gap:
		metrics.Gaps.Inc()
		e.state.FlagGap(now)
		e.logger.Warn("sequence gap, card sync requested",
			"last_seq", e.state.LastAccepted.Seq,
			"seq", res.Observation.Seq,
		)
		return nil
	}

	o := res.Observation
	e.state.Accept(o, now)
	metrics.RecordsAccepted.Inc()
	e.logger.Debug("record accepted", "seq", o.Seq, "time", o.Timestamp)

	if err := e.book.Append(e.codec.Serialize(o), o.Date()); err != nil {
		e.logger.Error("local log append failed", "seq", o.Seq, "error", err)
	}
	return e.publish(ctx, o)
}

func (e *Engine) publish(ctx context.Context, o observation.Observation) error {
	if e.state.DBOutOfSync {
		rep, err := e.reconciler.CatchUp(ctx, e.local)
		metrics.CatchUpRecords.WithLabelValues(rep.Source).Add(float64(rep.Published))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("local-log catch-up failed, still out of sync", "seq", o.Seq, "error", err)
			return nil
		}
		e.state.MarkInSync()
		metrics.SetBool(metrics.OutOfSync, false)
		if rep.End.Covers(o, e.cfg.Slack) {
			return nil
		}
	}

	if err := e.publisher.Publish(ctx, o); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.Publishes.WithLabelValues(metrics.ResultFailed).Inc()
		e.state.MarkPublishFailed()
		metrics.SetBool(metrics.OutOfSync, true)
		e.logger.Warn("publish failed, store out of sync", "seq", o.Seq, "error", err)
		return nil
	}
	metrics.Publishes.WithLabelValues(metrics.ResultOK).Inc()
	return nil
}

func (e *Engine) idle(ctx context.Context) error {
	poll := e.cfg.PollSlow
	if e.state.WantDownload {
		poll = e.cfg.PollFast
	}
	if err := e.clock.Sleep(ctx, poll); err != nil {
		return err
	}

	now := e.clock.Now()
	if !e.state.WatchdogExpired(now, e.cfg.MaxDataDelay) {
		return nil
	}
	e.logger.Warn("no data from logger, forcing menu exit",
		"silent_for", now.Sub(e.state.LastDataAt).Round(time.Second).String(),
	)
	metrics.WatchdogExits.Inc()
	if err := e.syncer.ExitMenu(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Debug("watchdog menu exit unconfirmed", "error", err)
	}
	e.state.Touch(e.clock.Now())
	return nil
}
