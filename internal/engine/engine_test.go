package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tidewatch/internal/archive"
	"github.com/roach88/tidewatch/internal/logbook"
	"github.com/roach88/tidewatch/internal/metrics"
	"github.com/roach88/tidewatch/internal/observation"
	"github.com/roach88/tidewatch/internal/reconcile"
	"github.com/roach88/tidewatch/internal/testutil"
	"github.com/roach88/tidewatch/internal/transport"
)

const (
	logDir      = "/data/logged"
	downloadDir = "/data/downloaded"
	maxSteps    = 200
)

// seqTime is the device time of seq: one record a minute.
func seqTime(seq int64) time.Time {
	return time.Date(2024, 7, 28, 9, 0, 0, 250000000, time.UTC).Add(time.Duration(seq) * time.Minute)
}

func rec(seq int64) string {
	return testutil.Record(seqTime(seq), seq)
}

func recs(first, last int64) []string {
	return testutil.Series(seqTime(first), time.Minute, first, last)
}

func anchorAt(seq int64) observation.Anchor {
	return observation.Anchor{Timestamp: seqTime(seq), Seq: seq}
}

type rig struct {
	engine   *Engine
	device   *testutil.Device
	launcher *testutil.Launcher
	pub      *testutil.Publisher
	book     *logbook.Book
	fs       afero.Fs
	trace    *testutil.Trace
	clock    *testutil.FakeClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SyncOnStart = false
	return cfg
}

func newRig(t *testing.T, cfg Config, anchor observation.Anchor, stream ...string) *rig {
	t.Helper()
	return newRigWith(t, cfg, func(trace *testutil.Trace) *testutil.Publisher {
		return testutil.NewPublisher(trace, anchor)
	}, stream...)
}

func newRigWith(t *testing.T, cfg Config, newPublisher func(*testutil.Trace) *testutil.Publisher, stream ...string) *rig {
	t.Helper()
	clk := testutil.NewFakeClock(seqTime(0))
	trace := &testutil.Trace{}
	dev := testutil.NewDevice(clk, trace, stream...)
	fs := afero.NewMemMapFs()
	pub := newPublisher(trace)
	book := logbook.New(fs, logDir)
	codec := observation.NewCodec(time.UTC)

	con := transport.NewConsole(dev, clk, transport.WithReadTimeout(100*time.Millisecond))
	l := &testutil.Launcher{Device: dev, Fs: fs, Dir: downloadDir, Trace: trace}
	syncer := archive.NewSyncer(con, l, fs, downloadDir, clk,
		archive.WithIDGenerator(&testutil.SequentialIDs{}),
		archive.WithLocation(time.UTC),
	)

	e := New(Deps{
		Console:    con,
		Syncer:     syncer,
		Reconciler: reconcile.New(pub, fs, codec),
		Publisher:  pub,
		Book:       book,
		Remote:     reconcile.RemoteFiles{Fs: fs, Dir: downloadDir},
		Codec:      codec,
		Clock:      clk,
	}, cfg)

	return &rig{
		engine:   e,
		device:   dev,
		launcher: l,
		pub:      pub,
		book:     book,
		fs:       fs,
		trace:    trace,
		clock:    clk,
	}
}

// runUntil steps the engine until done reports true.
func (r *rig) runUntil(t *testing.T, done func() bool) {
	t.Helper()
	for i := 0; i < maxSteps; i++ {
		if done() {
			return
		}
		require.NoError(t, r.engine.Step(context.Background()))
	}
	require.True(t, done(), "condition not reached after %d steps", maxSteps)
}

func (r *rig) publishedUpTo(seq int64) func() bool {
	return func() bool {
		seqs := r.pub.PublishedSeqs()
		return len(seqs) > 0 && seqs[len(seqs)-1] == seq
	}
}

func (r *rig) logged(t *testing.T) string {
	t.Helper()
	b, err := afero.ReadFile(r.fs, logDir+"/"+logbook.FileName(seqTime(0)))
	require.NoError(t, err)
	return string(b)
}

func TestEngine_InOrderRecordsArePublishedAndLogged(t *testing.T) {
	r := newRig(t, testConfig(), anchorAt(40), recs(41, 43)...)

	r.runUntil(t, r.publishedUpTo(43))

	assert.Equal(t, []int64{41, 42, 43}, r.pub.PublishedSeqs())
	s := r.engine.Snapshot()
	assert.True(t, s.HasLast)
	assert.Equal(t, int64(43), s.LastAccepted.Seq)
	assert.False(t, s.WantDownload)
	assert.False(t, s.DBOutOfSync)
	assert.True(t, s.TransportUp)

	assert.Equal(t, stripCR(testutil.File(recs(41, 43)...)), r.logged(t))
	assert.Empty(t, r.device.Requested(), "no card sync without a gap")
}

func TestEngine_PublishFailureCatchesUpFromLocalLog(t *testing.T) {
	r := newRig(t, testConfig(), anchorAt(42), recs(43, 45)...)
	r.pub.FailNext(44, 1)

	r.runUntil(t, r.publishedUpTo(45))

	assert.Equal(t, []int64{43, 44, 45}, r.pub.PublishedSeqs(), "45 must not be published twice")
	assert.Equal(t, []string{
		"publish: seq 43",
		"publish: seq 44 failed",
		"publish: seq 44",
		"publish: seq 45",
	}, r.trace.Lines())
	assert.False(t, r.engine.Snapshot().DBOutOfSync)
}

func TestEngine_StaysOutOfSyncWhileStoreUnreachable(t *testing.T) {
	r := newRig(t, testConfig(), anchorAt(42), recs(43, 45)...)
	r.pub.FailNext(44, 1)

	r.runUntil(t, func() bool { return r.engine.Snapshot().DBOutOfSync })
	r.pub.AnchorDown = true
	r.runUntil(t, func() bool { return r.engine.Snapshot().LastAccepted.Seq == 45 })

	assert.Equal(t, []int64{43}, r.pub.PublishedSeqs())
	assert.True(t, r.engine.Snapshot().DBOutOfSync)

	r.pub.AnchorDown = false
	r.device.Stream = append(r.device.Stream, rec(46))
	r.runUntil(t, r.publishedUpTo(46))

	assert.Equal(t, []int64{43, 44, 45, 46}, r.pub.PublishedSeqs())
	assert.False(t, r.engine.Snapshot().DBOutOfSync)
}

func TestEngine_GapTriggersCardSync(t *testing.T) {
	// 44 and 45 never arrive live; 47 is swallowed while the menu opens.
	stream := []string{rec(43), rec(46), rec(47), rec(48)}
	r := newRig(t, testConfig(), anchorAt(42), stream...)
	r.device.Files = []testutil.RemoteFile{{
		Name:     archive.FileName(1),
		Content:  testutil.File(recs(41, 47)...),
		Modified: seqTime(47),
	}}

	r.runUntil(t, func() bool { return r.engine.Snapshot().WantDownload })

	s := r.engine.Snapshot()
	assert.Equal(t, int64(43), s.LastAccepted.Seq, "the record after the gap is not accepted")
	assert.True(t, s.KeepPrevious)
	assert.Equal(t, stripCR(rec(43)), r.logged(t), "the record after the gap is not logged")
	assert.Equal(t, []int64{43}, r.pub.PublishedSeqs())

	r.runUntil(t, r.publishedUpTo(48))

	assert.Equal(t, []int64{43, 44, 45, 46, 47, 48}, r.pub.PublishedSeqs())
	assert.Equal(t, []string{
		"publish: seq 43",
		"device: menu",
		"device: file mode",
		"device: dir",
		"device: dir",
		"device: send dataLog00001.TXT",
		"transfer: dataLog00001.TXT",
		"device: logging",
		"publish: seq 44",
		"publish: seq 45",
		"publish: seq 46",
		"publish: seq 47",
		"publish: seq 48",
	}, r.trace.Lines())

	s = r.engine.Snapshot()
	assert.False(t, s.WantDownload)
	assert.Equal(t, int64(48), s.LastAccepted.Seq)
	assert.Equal(t, stripCR(rec(43)+rec(48)), r.logged(t), "catch-up publishes from the card without relogging")
}

func TestEngine_SyncOnStart(t *testing.T) {
	cfg := testConfig()
	cfg.SyncOnStart = true
	r := newRig(t, cfg, anchorAt(40), rec(44), rec(45))
	r.device.Files = []testutil.RemoteFile{{
		Name:     archive.FileName(1),
		Content:  testutil.File(recs(41, 44)...),
		Modified: seqTime(44),
	}}

	r.runUntil(t, r.publishedUpTo(45))

	assert.Equal(t, []int64{41, 42, 43, 44, 45}, r.pub.PublishedSeqs())
	assert.Equal(t, []string{archive.FileName(1)}, r.device.Requested())
}

func TestEngine_EmptyStoreSyncOnStart(t *testing.T) {
	cfg := testConfig()
	cfg.SyncOnStart = true
	r := newRigWith(t, cfg, testutil.NewEmptyPublisher, recs(4, 8)...)
	r.device.Files = []testutil.RemoteFile{{
		Name:     archive.FileName(1),
		Content:  testutil.File(recs(1, 4)...),
		Modified: seqTime(4),
	}}

	r.runUntil(t, r.publishedUpTo(8))

	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, r.pub.PublishedSeqs())
	assert.Equal(t, []string{archive.FileName(1)}, r.device.Requested(), "one card sync")
	assert.False(t, r.engine.Snapshot().WantDownload)
}

func TestEngine_EmptyStoreRecoversFromFirstPublishFailure(t *testing.T) {
	r := newRigWith(t, testConfig(), testutil.NewEmptyPublisher, recs(1, 20)...)
	r.pub.FailNext(1, 1)

	r.runUntil(t, r.publishedUpTo(20))

	assert.Equal(t, []string{
		"publish: seq 1 failed",
		"publish: seq 1",
		"publish: seq 2",
	}, r.trace.Lines()[:3])
	want := make([]int64, 0, 20)
	for seq := int64(1); seq <= 20; seq++ {
		want = append(want, seq)
	}
	assert.Equal(t, want, r.pub.PublishedSeqs())
	assert.False(t, r.engine.Snapshot().DBOutOfSync)
}

func TestEngine_FailedSyncIsRetried(t *testing.T) {
	cfg := testConfig()
	cfg.SyncOnStart = true
	r := newRig(t, cfg, anchorAt(40), rec(41), rec(42))
	r.device.NoFileBanner = true

	before := promtest.ToFloat64(metrics.SyncCycles.WithLabelValues(archive.StateFailed))
	r.runUntil(t, func() bool {
		return promtest.ToFloat64(metrics.SyncCycles.WithLabelValues(archive.StateFailed)) > before
	})

	s := r.engine.Snapshot()
	assert.True(t, s.WantDownload)
	assert.True(t, s.TransportUp, "a menu timeout does not drop the link")
	assert.Empty(t, r.pub.PublishedSeqs())
	assert.Equal(t, 1, r.device.Opens())
}

func TestEngine_UnparsableLineRequestsSync(t *testing.T) {
	r := newRig(t, testConfig(), anchorAt(40), rec(41), "41,garbled\r\n")

	r.runUntil(t, func() bool { return r.engine.Snapshot().WantDownload })

	s := r.engine.Snapshot()
	assert.True(t, s.KeepPrevious)
	assert.Equal(t, int64(41), s.LastAccepted.Seq)
	assert.Equal(t, []int64{41}, r.pub.PublishedSeqs())
	assert.Equal(t, stripCR(rec(41)), r.logged(t), "rejected lines are not logged")
}

func TestEngine_BlankLinesAreIgnored(t *testing.T) {
	r := newRig(t, testConfig(), anchorAt(40), "\r\n", "\x00\xff\r\n", rec(41))

	r.runUntil(t, r.publishedUpTo(41))

	s := r.engine.Snapshot()
	assert.False(t, s.WantDownload)
	assert.False(t, s.KeepPrevious)
}

func TestEngine_ReopensAfterLinkLoss(t *testing.T) {
	r := newRig(t, testConfig(), anchorAt(40), recs(41, 42)...)
	r.device.FailReads = 1
	r.device.FailOpens = 2

	require.NoError(t, r.engine.Step(context.Background())) // fails to open
	require.NoError(t, r.engine.Step(context.Background())) // fails to open
	assert.False(t, r.engine.Snapshot().TransportUp)

	require.NoError(t, r.engine.Step(context.Background())) // opens
	assert.True(t, r.engine.Snapshot().TransportUp)

	require.NoError(t, r.engine.Step(context.Background())) // read fails
	assert.False(t, r.engine.Snapshot().TransportUp)

	r.runUntil(t, r.publishedUpTo(42))
	assert.Equal(t, 2, r.device.Opens())
	assert.Equal(t, []int64{41, 42}, r.pub.PublishedSeqs())
}

func TestEngine_GivesUpAfterReopenBudget(t *testing.T) {
	cfg := testConfig()
	cfg.ReopenAttempts = 3
	r := newRig(t, cfg, anchorAt(40))
	r.device.FailOpens = 10

	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = r.engine.Step(context.Background())
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransportLost))
	assert.True(t, errors.Is(err, transport.ErrDeviceMissing))
	assert.Zero(t, r.device.Opens())
}

func TestEngine_WatchdogForcesMenuExit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDataDelay = 5 * time.Second
	r := newRig(t, cfg, anchorAt(40))

	before := promtest.ToFloat64(metrics.WatchdogExits)
	r.runUntil(t, func() bool { return promtest.ToFloat64(metrics.WatchdogExits) > before })

	assert.GreaterOrEqual(t, r.device.Resets(), 1, "menu exit flushes the console")
	assert.Equal(t, r.clock.Now(), r.engine.Snapshot().LastDataAt, "watchdog restarts after firing")
	assert.True(t, r.device.InLoggingMode())
}

func TestEngine_IdlePollIsAdaptive(t *testing.T) {
	cfg := testConfig()
	cfg.PollFast = time.Millisecond
	cfg.PollSlow = time.Second
	r := newRig(t, cfg, anchorAt(40))
	ctx := context.Background()

	require.NoError(t, r.engine.Step(ctx)) // open
	slept := r.clock.Slept()
	require.NoError(t, r.engine.Step(ctx))
	assert.Equal(t, time.Second, r.clock.Slept()-slept)

	r.engine.state.FlagGap(r.clock.Now())
	slept = r.clock.Slept()
	require.NoError(t, r.engine.Step(ctx))
	assert.Equal(t, time.Millisecond, r.clock.Slept()-slept)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	r := newRig(t, testConfig(), anchorAt(40), recs(41, 42)...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.engine.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.pub.PublishedSeqs())
}

func TestEngine_RunReturnsTransportLost(t *testing.T) {
	cfg := testConfig()
	cfg.ReopenAttempts = 2
	r := newRig(t, cfg, anchorAt(40))
	r.device.FailOpens = 5

	err := r.engine.Run(context.Background())
	require.ErrorIs(t, err, ErrTransportLost)
}

// stripCR turns logger line endings into the local log's.
func stripCR(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
