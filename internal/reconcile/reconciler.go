package reconcile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/roach88/tidewatch/internal/observation"
	"github.com/roach88/tidewatch/internal/tsdb"
)

// MaxLineLength bounds one replayed line. Longer lines are counted as
// invalid and skipped.
const MaxLineLength = 4096

// Publisher is the store as seen by a pass.
type Publisher interface {
	Publish(ctx context.Context, o observation.Observation) error
	Anchor(ctx context.Context) (observation.Anchor, error)
}

// Report summarizes one pass.
type Report struct {
	Source string

	// Start is the anchor the pass began from; End is where it stopped.
	Start observation.Anchor
	End   observation.Anchor

	Files     int
	Records   int
	Invalid   int
	Covered   int
	Published int

	// Newest is the latest valid record read, published or not.
	Newest    observation.Observation
	HasNewest bool
}

// Reconciler runs catch-up passes.
type Reconciler struct {
	pub    Publisher
	fs     afero.Fs
	codec  observation.Codec
	slack  time.Duration
	offset time.Duration
	fixed  *observation.Anchor
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithSlack widens the dedupe boundary: records up to anchor+d count as
// already stored.
func WithSlack(d time.Duration) Option {
	return func(r *Reconciler) { r.slack = d }
}

// WithClockOffset adds d to every replayed timestamp, for a logger whose
// clock is known to be off.
func WithClockOffset(d time.Duration) Option {
	return func(r *Reconciler) { r.offset = d }
}

// WithFixedAnchor starts every pass from a instead of asking the store.
func WithFixedAnchor(a observation.Anchor) Option {
	return func(r *Reconciler) { r.fixed = &a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// New returns a Reconciler reading files from fs.
func New(pub Publisher, fs afero.Fs, codec observation.Codec, opts ...Option) *Reconciler {
	r := &Reconciler{
		pub:    pub,
		fs:     fs,
		codec:  codec,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CatchUp replays src against the store's anchor. An empty store
// (tsdb.ErrNoData) has no anchor and every valid record is published. It
// returns a *PublishError at the first rejected record, or an error
// wrapping ErrAnchorUnavailable if the anchor cannot be fetched.
func (r *Reconciler) CatchUp(ctx context.Context, src Source) (Report, error) {
	rep := Report{Source: src.Name()}

	anchor, err := r.anchor(ctx)
	if err != nil {
		return rep, err
	}
	anchor.Timestamp = anchor.Timestamp.In(r.codec.Location())
	rep.Start, rep.End = anchor, anchor

	paths, err := src.Files(anchor.Timestamp)
	if err != nil {
		return rep, fmt.Errorf("list %s files: %w", src.Name(), err)
	}
	rep.Files = len(paths)
	r.logger.Debug("catch-up started",
		"source", src.Name(),
		"anchor_seq", anchor.Seq,
		"anchor_time", anchor.Timestamp,
		"files", len(paths),
	)

	for _, path := range paths {
		if err := r.replayFile(ctx, path, &rep); err != nil {
			r.logger.Warn("catch-up stopped",
				"source", src.Name(),
				"file", path,
				"published", rep.Published,
				"error", err,
			)
			return rep, err
		}
	}

	r.logger.Info("catch-up complete",
		"source", src.Name(),
		"files", rep.Files,
		"published", rep.Published,
		"covered", rep.Covered,
		"invalid", rep.Invalid,
		"anchor_seq", rep.End.Seq,
	)
	return rep, nil
}

func (r *Reconciler) anchor(ctx context.Context) (observation.Anchor, error) {
	if r.fixed != nil {
		return *r.fixed, nil
	}
	a, err := r.pub.Anchor(ctx)
	if errors.Is(err, tsdb.ErrNoData) {
		r.logger.Info("store is empty, replaying without an anchor", "error", err)
		return observation.Anchor{}, nil
	}
	if err != nil {
		return observation.Anchor{}, fmt.Errorf("%w: %w", ErrAnchorUnavailable, err)
	}
	return a, nil
}

func (r *Reconciler) replayFile(ctx context.Context, path string, rep *Report) error {
	f, err := r.fs.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, MaxLineLength)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			// Card damage can leave long runs without a newline.
			rep.Invalid++
			err = skipLine(br)
		} else if len(line) > 0 {
			if perr := r.replayLine(ctx, bytes.TrimRight(line, "\r\n"), rep); perr != nil {
				return perr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
}

func (r *Reconciler) replayLine(ctx context.Context, raw []byte, rep *Report) error {
	res := r.codec.Decode(observation.Sanitize(raw))
	if !res.Valid {
		rep.Invalid++
		return nil
	}
	rep.Records++
	o := res.Observation.Shift(r.offset)
	if !rep.HasNewest || o.Timestamp.After(rep.Newest.Timestamp) {
		rep.Newest, rep.HasNewest = o, true
	}
	if rep.End.Covers(o, r.slack) {
		rep.Covered++
		return nil
	}
	if err := r.pub.Publish(ctx, o); err != nil {
		return &PublishError{Seq: o.Seq, Err: err}
	}
	rep.Published++
	rep.End = rep.End.Advance(o)
	return nil
}

// skipLine discards input up to and including the next newline.
func skipLine(br *bufio.Reader) error {
	for {
		_, err := br.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}
