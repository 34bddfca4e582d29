package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/looplab/fsm"
	"github.com/spf13/afero"

	"github.com/roach88/tidewatch/internal/clock"
	"github.com/roach88/tidewatch/internal/transport"
)

// Sync cycle states.
const (
	StateSeekMenu      = "seek_menu"
	StateEnterFileMode = "enter_file_mode"
	StateListFiles     = "list_files"
	StateDiff          = "diff"
	StateResetCheck    = "reset_check"
	StateDownload      = "download"
	StateExitMenu      = "exit_menu"
	StateDone          = "done"
	StateFailed        = "failed"
)

// Sync cycle events.
const (
	EventMenuFound       = "menu_found"
	EventFileModeEntered = "file_mode_entered"
	EventListingTrusted  = "listing_trusted"
	EventDiffed          = "diffed"
	EventChecked         = "checked"
	EventDownloaded      = "downloaded"
	EventAbort           = "abort"
	EventExited          = "exited"
	EventFail            = "fail"
)

// Terminal is the console view the automaton needs. *transport.Console
// implements it.
type Terminal interface {
	Expect(ctx context.Context, timeout time.Duration, patterns ...string) (int, []byte, error)
	Send(s string) error
	SendLine(s string) error
	Discard() error
}

// Launcher runs the external transfer command and reports its exit status.
type Launcher interface {
	Run(ctx context.Context, command string) (int, error)
}

// Result describes one finished sync cycle.
type Result struct {
	Cycle string

	// State is StateDone or StateFailed.
	State string

	// Listing is the trusted remote listing (or the requested range).
	Listing []Entry

	// Downloaded names the files fetched this cycle, in fetch order.
	Downloaded []string

	// ArchiveDir is set when a card reset moved local files aside.
	ArchiveDir string

	Err error
}

// OK reports whether the cycle reached StateDone.
func (r Result) OK() bool {
	return r.State == StateDone
}

// Syncer runs sync cycles against one logger.
//
// A Syncer owns the terminal for the duration of a cycle; callers must not
// read from it concurrently.
type Syncer struct {
	term     Terminal
	launcher Launcher
	fs       afero.Fs
	dir      string
	clock    clock.Clock
	menu     Menu
	command  string
	loc      *time.Location
	ids      IDGenerator
	logger   *slog.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithMenu replaces DefaultMenu.
func WithMenu(m Menu) Option {
	return func(s *Syncer) { s.menu = m }
}

// WithTransferCommand replaces DefaultTransferCommand.
func WithTransferCommand(cmd string) Option {
	return func(s *Syncer) {
		if cmd != "" {
			s.command = cmd
		}
	}
}

// WithLocation sets the zone the logger prints listing times in.
func WithLocation(loc *time.Location) Option {
	return func(s *Syncer) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithIDGenerator replaces the UUIDv7 cycle ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Syncer) { s.ids = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// NewSyncer returns a Syncer that downloads into dir on fs.
func NewSyncer(term Terminal, launcher Launcher, fs afero.Fs, dir string, clk clock.Clock, opts ...Option) *Syncer {
	s := &Syncer{
		term:     term,
		launcher: launcher,
		fs:       fs,
		dir:      dir,
		clock:    clk,
		menu:     DefaultMenu(),
		command:  DefaultTransferCommand,
		loc:      time.Local,
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the download directory.
func (s *Syncer) Dir() string {
	return s.dir
}

// cycle is the per-run scratch state threaded through the handlers.
type cycle struct {
	id      string
	rng     *Range
	listing []Entry
	pending []Entry
	result  Result
	err     error
}

// Sync runs one full cycle: list, diff, download what is missing.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	return s.run(ctx, nil)
}

// SyncRange runs one cycle that fetches the files in r without listing,
// diffing, or reset detection. Each file is retried up to r.Attempts times.
func (s *Syncer) SyncRange(ctx context.Context, r Range) (Result, error) {
	return s.run(ctx, &r)
}

func (s *Syncer) run(ctx context.Context, rng *Range) (Result, error) {
	c := &cycle{id: s.ids.Generate(), rng: rng}
	c.result.Cycle = c.id
	log := s.logger.With("cycle", c.id)
	log.Info("sync cycle started", "dir", s.dir)

	machine := s.newMachine(c)
	handlers := map[string]func(context.Context, *cycle) string{
		StateSeekMenu:      s.seekMenu,
		StateEnterFileMode: s.enterFileMode,
		StateListFiles:     s.listFiles,
		StateDiff:          s.diff,
		StateResetCheck:    s.resetCheck,
		StateDownload:      s.download,
		StateExitMenu:      s.exitMenu,
	}

	for {
		state := machine.Current()
		if state == StateDone || state == StateFailed {
			break
		}
		event := handlers[state](ctx, c)
		if err := machine.Event(ctx, event); err != nil {
			c.fail(fmt.Errorf("%s from %s: %w", event, state, err))
			machine.SetState(StateFailed)
		}
	}

	c.result.State = machine.Current()
	c.result.Err = c.err
	if c.err != nil {
		log.Warn("sync cycle failed", "error", c.err, "downloaded", len(c.result.Downloaded))
		return c.result, c.err
	}
	log.Info("sync cycle done", "downloaded", len(c.result.Downloaded), "listed", len(c.result.Listing))
	return c.result, nil
}

func (s *Syncer) newMachine(c *cycle) *fsm.FSM {
	inMenu := []string{StateEnterFileMode, StateListFiles, StateDiff, StateResetCheck, StateDownload}
	return fsm.NewFSM(
		StateSeekMenu,
		fsm.Events{
			{Name: EventMenuFound, Src: []string{StateSeekMenu}, Dst: StateEnterFileMode},
			{Name: EventFileModeEntered, Src: []string{StateEnterFileMode}, Dst: StateListFiles},
			{Name: EventListingTrusted, Src: []string{StateListFiles}, Dst: StateDiff},
			{Name: EventDiffed, Src: []string{StateDiff}, Dst: StateResetCheck},
			{Name: EventChecked, Src: []string{StateResetCheck}, Dst: StateDownload},
			{Name: EventDownloaded, Src: []string{StateDownload}, Dst: StateExitMenu},
			{Name: EventAbort, Src: inMenu, Dst: StateExitMenu},
			{Name: EventExited, Src: []string{StateExitMenu}, Dst: StateDone},
			{Name: EventFail, Src: []string{StateSeekMenu, StateExitMenu}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debug("sync transition",
					"from", e.Src,
					"to", e.Dst,
					"event", e.Event,
					"cycle", c.id,
				)
			},
		},
	)
}

func (c *cycle) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// abort records err and routes the cycle out through exit_menu.
func (c *cycle) abort(err error) string {
	c.fail(err)
	return EventAbort
}

func (s *Syncer) seekMenu(ctx context.Context, c *cycle) string {
	start := s.clock.Now()
	probes := 0
	for {
		if err := ctx.Err(); err != nil {
			c.fail(err)
			return EventFail
		}
		if s.menu.SeekTimeout > 0 && s.clock.Now().Sub(start) >= s.menu.SeekTimeout {
			c.fail(fmt.Errorf("%w: no main menu after %d probes", ErrMenuTimeout, probes))
			return EventFail
		}
		probes++
		if err := s.term.SendLine(s.menu.Noop); err != nil {
			c.fail(fmt.Errorf("probe menu: %w", err))
			return EventFail
		}
		_, _, err := s.term.Expect(ctx, s.menu.ProbeTimeout, s.menu.MainBanner)
		if err == nil {
			break
		}
		if !errors.Is(err, transport.ErrTimeout) {
			c.fail(fmt.Errorf("probe menu: %w", err))
			return EventFail
		}
	}
	s.logger.Debug("main menu found", "cycle", c.id, "probes", probes)
	if err := s.clock.Sleep(ctx, s.menu.Settle); err != nil {
		c.fail(err)
		return EventFail
	}
	return EventMenuFound
}

func (s *Syncer) enterFileMode(ctx context.Context, c *cycle) string {
	if err := s.term.Send(s.menu.FileMode); err != nil {
		return c.abort(fmt.Errorf("enter file mode: %w", err))
	}
	if _, _, err := s.term.Expect(ctx, s.menu.FileModeTimeout, s.menu.FileBanner); err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrMenuTimeout, err)
		}
		return c.abort(fmt.Errorf("enter file mode: %w", err))
	}
	if err := s.clock.Sleep(ctx, s.menu.Settle); err != nil {
		return c.abort(err)
	}
	return EventFileModeEntered
}

func (s *Syncer) listFiles(ctx context.Context, c *cycle) string {
	if c.rng != nil {
		c.listing = c.rng.Entries()
		c.result.Listing = c.listing
		return EventListingTrusted
	}

	prev, prevErr := s.fetchListing(ctx)
	if prevErr != nil && !isGarbled(prevErr) {
		return c.abort(prevErr)
	}
	for attempt := 1; attempt <= s.menu.ListingAttempts; attempt++ {
		cur, err := s.fetchListing(ctx)
		if err != nil && !isGarbled(err) {
			return c.abort(err)
		}
		if err == nil && prevErr == nil && SameListing(prev, cur) {
			c.listing = cur
			c.result.Listing = cur
			s.logger.Debug("listing trusted", "cycle", c.id, "files", len(cur), "attempt", attempt)
			return EventListingTrusted
		}
		s.logger.Debug("listing not confirmed", "cycle", c.id, "attempt", attempt, "error", err)
		prev, prevErr = cur, err
	}
	return c.abort(fmt.Errorf("%w after %d attempts", ErrListingUnstable, s.menu.ListingAttempts))
}

// garbledError marks a listing that arrived but did not parse.
type garbledError struct{ err error }

func (e garbledError) Error() string { return "garbled listing: " + e.err.Error() }
func (e garbledError) Unwrap() error { return e.err }

func isGarbled(err error) bool {
	var g garbledError
	return errors.As(err, &g)
}

func (s *Syncer) fetchListing(ctx context.Context) ([]Entry, error) {
	if err := s.term.SendLine(s.menu.List); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	_, before, err := s.term.Expect(ctx, s.menu.ListingTimeout, s.menu.ListingEnd)
	if err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrMenuTimeout, err)
		}
		return nil, fmt.Errorf("list files: %w", err)
	}
	entries, err := ParseListing(before, s.loc)
	if err != nil {
		return nil, garbledError{err: err}
	}
	return entries, nil
}

func (s *Syncer) diff(ctx context.Context, c *cycle) string {
	if c.rng != nil {
		c.pending = c.listing
		return EventDiffed
	}
	local, err := LocalFiles(s.fs, s.dir)
	if err != nil {
		return c.abort(err)
	}
	c.pending = Diff(c.listing, local)
	s.logger.Debug("listing diffed",
		"cycle", c.id,
		"remote", len(c.listing),
		"local", len(local),
		"pending", len(c.pending),
	)
	return EventDiffed
}

func (s *Syncer) resetCheck(ctx context.Context, c *cycle) string {
	if c.rng != nil {
		return EventChecked
	}
	local, err := LocalFiles(s.fs, s.dir)
	if err != nil {
		return c.abort(err)
	}
	if IsReset(c.pending, local) {
		dst, err := ArchiveAll(s.fs, s.dir, s.clock.Now())
		if err != nil {
			return c.abort(err)
		}
		c.result.ArchiveDir = dst
		s.logger.Warn("file numbering went backwards, archived local files",
			"cycle", c.id,
			"archive_dir", dst,
			"first_pending", c.pending[0].Name,
		)
		// Nothing is on disk any more, so every listed file is pending.
		c.pending = Diff(c.listing, nil)
	}
	c.pending = TrimBeyondNewest(c.pending)
	return EventChecked
}

func (s *Syncer) download(ctx context.Context, c *cycle) string {
	attempts := 1
	if c.rng != nil {
		attempts = c.rng.attempts()
	}
	for _, e := range c.pending {
		if err := s.fetch(ctx, c, e.Name, attempts); err != nil {
			return c.abort(err)
		}
		c.result.Downloaded = append(c.result.Downloaded, e.Name)
	}
	return EventDownloaded
}

func (s *Syncer) fetch(ctx context.Context, c *cycle, name string, attempts int) error {
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		s.logger.Info("requesting file", "cycle", c.id, "file", name, "attempt", attempt)
		if err := s.clock.Sleep(ctx, s.menu.Settle); err != nil {
			return err
		}
		if err := s.term.SendLine(s.menu.Send + " " + name); err != nil {
			return fmt.Errorf("request %s: %w", name, err)
		}
		if err := s.clock.Sleep(ctx, s.menu.Settle); err != nil {
			return err
		}
		code, err := s.launcher.Run(ctx, s.command)
		if err != nil {
			return fmt.Errorf("transfer %s: %w", name, err)
		}
		if code == 0 {
			return nil
		}
		last = &TransferError{File: name, ExitCode: code}
		s.logger.Warn("transfer failed", "cycle", c.id, "file", name, "exit_code", code, "attempt", attempt)
	}
	return last
}

func (s *Syncer) exitMenu(ctx context.Context, c *cycle) string {
	if err := s.ExitMenu(ctx); err != nil {
		s.logger.Warn("could not confirm menu exit", "cycle", c.id, "error", err)
	}
	if c.err != nil {
		return EventFail
	}
	return EventExited
}

// ExitMenu backs out of the file menu and the main menu, then drops any
// menu text still buffered so it is not mistaken for telemetry. Failures
// are retried up to the configured attempts; the last error is returned.
func (s *Syncer) ExitMenu(ctx context.Context) error {
	var last error
	for attempt := 1; attempt <= max(s.menu.ExitAttempts, 1); attempt++ {
		last = s.exitOnce(ctx)
		if last == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		s.logger.Debug("menu exit attempt failed", "attempt", attempt, "error", last)
	}
	if err := s.term.Discard(); err != nil && last == nil {
		last = err
	}
	return last
}

func (s *Syncer) exitOnce(ctx context.Context) error {
	if err := s.clock.Sleep(ctx, s.menu.Settle); err != nil {
		return err
	}
	if err := s.term.SendLine(s.menu.Exit); err != nil {
		return fmt.Errorf("exit file menu: %w", err)
	}
	if _, _, err := s.term.Expect(ctx, s.menu.ExitTimeout, s.menu.MainBanner); err != nil {
		if errors.Is(err, transport.ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrMenuTimeout, err)
		}
		return fmt.Errorf("exit file menu: %w", err)
	}
	if err := s.clock.Sleep(ctx, s.menu.Settle); err != nil {
		return err
	}
	if err := s.term.SendLine(s.menu.Exit); err != nil {
		return fmt.Errorf("exit main menu: %w", err)
	}
	if err := s.term.Discard(); err != nil {
		return fmt.Errorf("flush menu text: %w", err)
	}
	return nil
}
