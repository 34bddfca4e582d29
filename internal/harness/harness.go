package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/roach88/tidewatch/internal/archive"
	"github.com/roach88/tidewatch/internal/engine"
	"github.com/roach88/tidewatch/internal/logbook"
	"github.com/roach88/tidewatch/internal/observation"
	"github.com/roach88/tidewatch/internal/reconcile"
	"github.com/roach88/tidewatch/internal/testutil"
	"github.com/roach88/tidewatch/internal/transport"
)

const (
	logDir      = "/data/logged"
	downloadDir = "/data/downloaded"
	readTimeout = 100 * time.Millisecond
)

// Epoch is the timestamp of record 0. Record n is n minutes later.
var Epoch = time.Date(2024, 7, 28, 9, 0, 0, 250000000, time.UTC)

// SeqTime returns the device timestamp of record seq.
func SeqTime(seq int64) time.Time {
	return Epoch.Add(time.Duration(seq) * time.Minute)
}

// Harness is one wired engine with its fakes.
type Harness struct {
	engine    *engine.Engine
	publisher *testutil.Publisher
	trace     *testutil.Trace
}

// New wires an engine to fakes scripted by scenario.
func New(scenario *Scenario) *Harness {
	clk := testutil.NewFakeClock(SeqTime(0))
	trace := &testutil.Trace{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dev := testutil.NewDevice(clk, trace, streamLines(scenario.Stream)...)
	for _, f := range scenario.Card {
		first, last := f.Records[0], f.Records[1]
		dev.Files = append(dev.Files, testutil.RemoteFile{
			Name:     f.Name,
			Content:  testutil.File(testutil.Series(SeqTime(first), time.Minute, first, last)...),
			Modified: SeqTime(last),
		})
	}

	pub := testutil.NewPublisher(trace, observation.Anchor{Timestamp: SeqTime(scenario.Anchor), Seq: scenario.Anchor})
	for _, f := range scenario.PublishFailures {
		pub.FailNext(f.Seq, f.Times)
	}

	fs := afero.NewMemMapFs()
	codec := observation.NewCodec(time.UTC)
	con := transport.NewConsole(dev, clk,
		transport.WithReadTimeout(readTimeout),
		transport.WithLogger(logger),
	)
	syncer := archive.NewSyncer(con,
		&testutil.Launcher{Device: dev, Fs: fs, Dir: downloadDir, Trace: trace},
		fs, downloadDir, clk,
		archive.WithIDGenerator(&testutil.SequentialIDs{}),
		archive.WithLocation(time.UTC),
		archive.WithLogger(logger),
	)

	cfg := engine.DefaultConfig()
	cfg.SyncOnStart = scenario.SyncOnStart

	eng := engine.New(engine.Deps{
		Console:    con,
		Syncer:     syncer,
		Reconciler: reconcile.New(pub, fs, codec, reconcile.WithLogger(logger)),
		Publisher:  pub,
		Book:       logbook.New(fs, logDir),
		Remote:     reconcile.RemoteFiles{Fs: fs, Dir: downloadDir},
		Codec:      codec,
		Clock:      clk,
		Logger:     logger,
	}, cfg)

	return &Harness{engine: eng, publisher: pub, trace: trace}
}

// Run executes scenario and evaluates its assertions. An error means the
// run itself broke (engine error, stop condition never reached); failed
// assertions are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	h := New(scenario)
	result := NewResult()

	limit := scenario.Until.MaxSteps
	if limit == 0 {
		limit = DefaultMaxSteps
	}

	ctx := context.Background()
	for !h.done(scenario.Until) {
		if result.Steps == limit {
			return nil, fmt.Errorf("scenario %s: stop condition not reached after %d steps", scenario.Name, limit)
		}
		if err := h.engine.Step(ctx); err != nil {
			return nil, fmt.Errorf("scenario %s: step %d: %w", scenario.Name, result.Steps, err)
		}
		result.Steps++
	}

	result.Trace = append(result.Trace, h.trace.Lines()...)
	result.Published = append(result.Published, h.publisher.PublishedSeqs()...)
	result.State = h.engine.Snapshot()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) done(u Until) bool {
	if u.Published != nil {
		seqs := h.publisher.PublishedSeqs()
		return len(seqs) > 0 && seqs[len(seqs)-1] == *u.Published
	}
	s := h.engine.Snapshot()
	return s.HasLast && s.LastAccepted.Seq == *u.Accepted
}

func streamLines(entries []StreamEntry) []string {
	var lines []string
	for _, e := range entries {
		switch {
		case e.Record != nil:
			lines = append(lines, testutil.Record(SeqTime(*e.Record), *e.Record))
		case e.Records != nil:
			first, last := e.Records[0], e.Records[1]
			lines = append(lines, testutil.Series(SeqTime(first), time.Minute, first, last)...)
		default:
			line := e.Line
			if !strings.HasSuffix(line, "\n") {
				line += "\r\n"
			}
			lines = append(lines, line)
		}
	}
	return lines
}
