package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tidewatch/internal/logbook"
	"github.com/roach88/tidewatch/internal/observation"
	"github.com/roach88/tidewatch/internal/testutil"
)

var (
	edt   = time.FixedZone("EDT", -4*3600)
	start = time.Date(2024, 7, 27, 23, 55, 0, 120000000, edt)
)

// seqTime returns the device time of seq in the test series (one record a minute from seq 40).
func seqTime(seq int64) time.Time {
	return start.Add(time.Duration(seq-40) * time.Minute)
}

func anchorAt(seq int64) observation.Anchor {
	return observation.Anchor{Timestamp: seqTime(seq), Seq: seq}
}

// writeLog appends records first..last to the daily log. Seq 45 is the first
// record after midnight, so 40..46 spans two files.
func writeLog(t *testing.T, book *logbook.Book, first, last int64) {
	t.Helper()
	for seq := first; seq <= last; seq++ {
		ts := seqTime(seq)
		require.NoError(t, book.Append(testutil.Record(ts, seq), ts))
	}
}

func newReconciler(pub Publisher, fs afero.Fs, opts ...Option) *Reconciler {
	return New(pub, fs, observation.NewCodec(edt), opts...)
}

func TestCatchUp_LocalLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	book := logbook.New(fs, "/data/logged")
	writeLog(t, book, 40, 46)
	pub := testutil.NewPublisher(nil, anchorAt(43))

	rep, err := newReconciler(pub, fs).CatchUp(context.Background(), LocalLog{Book: book})
	require.NoError(t, err)

	assert.Equal(t, []int64{44, 45, 46}, pub.PublishedSeqs())
	assert.Equal(t, SourceLocalLog, rep.Source)
	assert.Equal(t, 2, rep.Files)
	assert.Equal(t, 7, rep.Records)
	assert.Equal(t, 4, rep.Covered)
	assert.Equal(t, 3, rep.Published)
	assert.Equal(t, int64(43), rep.Start.Seq)
	assert.Equal(t, int64(46), rep.End.Seq)
	assert.True(t, rep.HasNewest)
	assert.Equal(t, int64(46), rep.Newest.Seq)
}

func TestCatchUp_LocalLogStartsAtAnchorDay(t *testing.T) {
	fs := afero.NewMemMapFs()
	book := logbook.New(fs, "/data/logged")
	writeLog(t, book, 40, 46)
	pub := testutil.NewPublisher(nil, anchorAt(45)) // 28 July

	rep, err := newReconciler(pub, fs).CatchUp(context.Background(), LocalLog{Book: book})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Files)
	assert.Equal(t, []int64{46}, pub.PublishedSeqs())
}

func TestCatchUp_AllCoveredPublishesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	book := logbook.New(fs, "/data/logged")
	writeLog(t, book, 40, 46)
	pub := testutil.NewPublisher(nil, anchorAt(46))
	r := newReconciler(pub, fs)

	for i := 0; i < 2; i++ {
		rep, err := r.CatchUp(context.Background(), LocalLog{Book: book})
		require.NoError(t, err)
		assert.Zero(t, rep.Published)
	}
	assert.Empty(t, pub.PublishedSeqs())
}

func TestCatchUp_StopsAtFirstFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	book := logbook.New(fs, "/data/logged")
	writeLog(t, book, 40, 46)
	pub := testutil.NewPublisher(nil, anchorAt(43))
	pub.FailNext(45, 1)
	r := newReconciler(pub, fs)

	rep, err := r.CatchUp(context.Background(), LocalLog{Book: book})
	require.Error(t, err)
	var pe *PublishError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, int64(45), pe.Seq)
	assert.True(t, errors.Is(err, testutil.ErrRejected))
	assert.Equal(t, []int64{44}, pub.PublishedSeqs(), "46 is not attempted after 45 fails")
	assert.Equal(t, int64(44), rep.End.Seq)

	rep, err = r.CatchUp(context.Background(), LocalLog{Book: book})
	require.NoError(t, err)
	assert.Equal(t, int64(44), rep.Start.Seq, "next pass resumes from the store's anchor")
	assert.Equal(t, []int64{44, 45, 46}, pub.PublishedSeqs())
}

func TestCatchUp_AnchorUnavailable(t *testing.T) {
	fs := afero.NewMemMapFs()
	book := logbook.New(fs, "/data/logged")
	writeLog(t, book, 40, 46)
	pub := testutil.NewPublisher(nil, anchorAt(43))
	pub.AnchorDown = true

	_, err := newReconciler(pub, fs).CatchUp(context.Background(), LocalLog{Book: book})
	assert.True(t, errors.Is(err, ErrAnchorUnavailable))
	assert.True(t, errors.Is(err, testutil.ErrStoreDown))
	assert.Empty(t, pub.PublishedSeqs())
}

func TestCatchUp_SkipsInvalidRecords(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := testutil.File(
		testutil.Record(seqTime(44), 44),
		"07/27/2024,23:58:30.0,4.1,garbage\r\n",
		"\x00\xff"+testutil.Record(seqTime(45), 45),
		"\r\n",
		testutil.Record(seqTime(46), 46),
	)
	require.NoError(t, afero.WriteFile(fs, "/dl/dataLog00001.TXT", []byte(content), 0o644))
	pub := testutil.NewPublisher(nil, anchorAt(43))

	rep, err := newReconciler(pub, fs).CatchUp(context.Background(), RemoteFiles{Fs: fs, Dir: "/dl"})
	require.NoError(t, err)
	assert.Equal(t, []int64{44, 45, 46}, pub.PublishedSeqs())
	assert.Equal(t, 2, rep.Invalid)
}

func TestCatchUp_RemoteFilesInNameOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	write := func(name string, first, last int64) {
		var recs []string
		for seq := first; seq <= last; seq++ {
			recs = append(recs, testutil.Record(seqTime(seq), seq))
		}
		require.NoError(t, afero.WriteFile(fs, "/dl/"+name, []byte(testutil.File(recs...)), 0o644))
	}
	write("dataLog00002.TXT", 45, 47)
	write("dataLog00001.TXT", 40, 44)
	require.NoError(t, afero.WriteFile(fs, "/dl/Archived-20240101000000/dataLog00003.TXT",
		[]byte(testutil.Record(seqTime(90), 90)), 0o644))
	pub := testutil.NewPublisher(nil, anchorAt(43))

	rep, err := newReconciler(pub, fs).CatchUp(context.Background(), RemoteFiles{Fs: fs, Dir: "/dl"})
	require.NoError(t, err)
	assert.Equal(t, SourceRemoteFiles, rep.Source)
	assert.Equal(t, []int64{44, 45, 46, 47}, pub.PublishedSeqs())
	assert.Equal(t, int64(47), rep.Newest.Seq)
}

func TestCatchUp_WholeSecondAnchorInUTC(t *testing.T) {
	fs := afero.NewMemMapFs()
	book := logbook.New(fs, "/data/logged")
	writeLog(t, book, 40, 46)

	// The store drops sub-second precision and answers in UTC.
	stored := observation.Anchor{Timestamp: seqTime(43).Truncate(time.Second).UTC(), Seq: 43}
	pub := testutil.NewPublisher(nil, stored)

	_, err := newReconciler(pub, fs).CatchUp(context.Background(), LocalLog{Book: book})
	require.NoError(t, err)
	assert.Equal(t, []int64{44, 45, 46}, pub.PublishedSeqs())
}

func TestCatchUp_FixedAnchorAndClockOffset(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := testutil.File(testutil.Series(seqTime(40), time.Minute, 40, 42)...)
	require.NoError(t, afero.WriteFile(fs, "/dl/dataLog00001.TXT", []byte(content), 0o644))
	pub := testutil.NewPublisher(nil, anchorAt(46))
	pub.AnchorDown = true

	offset := 24 * time.Hour
	r := newReconciler(pub, fs,
		WithFixedAnchor(observation.Anchor{Timestamp: seqTime(40).Add(offset)}),
		WithClockOffset(offset),
	)

	rep, err := r.CatchUp(context.Background(), RemoteFiles{Fs: fs, Dir: "/dl"})
	require.NoError(t, err)
	assert.Equal(t, []int64{41, 42}, pub.PublishedSeqs())
	published := pub.Published()
	assert.True(t, published[0].Timestamp.Equal(seqTime(41).Add(offset)))
	assert.Equal(t, 1, rep.Covered)
}

func TestCatchUp_Cancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	book := logbook.New(fs, "/data/logged")
	writeLog(t, book, 40, 46)
	pub := testutil.NewPublisher(nil, anchorAt(43))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newReconciler(pub, fs).CatchUp(ctx, LocalLog{Book: book})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, pub.PublishedSeqs())
}

func TestCatchUp_EmptyStorePublishesEverything(t *testing.T) {
	fs := afero.NewMemMapFs()
	book := logbook.New(fs, "/data/logged")
	writeLog(t, book, 40, 46)
	pub := testutil.NewEmptyPublisher(nil)

	rep, err := newReconciler(pub, fs).CatchUp(context.Background(), LocalLog{Book: book})
	require.NoError(t, err)
	assert.Equal(t, []int64{40, 41, 42, 43, 44, 45, 46}, pub.PublishedSeqs())
	assert.Zero(t, rep.Covered)
	assert.Equal(t, int64(46), rep.End.Seq)

	rep, err = newReconciler(pub, fs).CatchUp(context.Background(), LocalLog{Book: book})
	require.NoError(t, err)
	assert.Zero(t, rep.Published, "second pass sees the anchor left by the first")
}

func TestCatchUp_SkipsOverlongLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := strings.Repeat("\x00", 70*1024) + "\n" +
		testutil.File(testutil.Series(seqTime(41), time.Minute, 41, 45)...) +
		strings.Repeat("#", MaxLineLength+1)
	require.NoError(t, afero.WriteFile(fs, "/dl/dataLog00001.TXT", []byte(content), 0o644))
	pub := testutil.NewPublisher(nil, anchorAt(40))

	rep, err := newReconciler(pub, fs).CatchUp(context.Background(), RemoteFiles{Fs: fs, Dir: "/dl"})
	require.NoError(t, err)
	assert.Equal(t, []int64{41, 42, 43, 44, 45}, pub.PublishedSeqs())
	assert.Equal(t, 2, rep.Invalid)
	assert.Equal(t, 5, rep.Records)
}

func TestCatchUp_LastLineWithoutNewline(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := testutil.Record(seqTime(41), 41) + strings.TrimSuffix(testutil.Record(seqTime(42), 42), "\r\n")
	require.NoError(t, afero.WriteFile(fs, "/dl/dataLog00001.TXT", []byte(content), 0o644))
	pub := testutil.NewPublisher(nil, anchorAt(40))

	_, err := newReconciler(pub, fs).CatchUp(context.Background(), RemoteFiles{Fs: fs, Dir: "/dl"})
	require.NoError(t, err)
	assert.Equal(t, []int64{41, 42}, pub.PublishedSeqs())
}
