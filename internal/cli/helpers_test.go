package cli

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tidewatch/internal/observation"
	"github.com/roach88/tidewatch/internal/store"
	"github.com/roach88/tidewatch/internal/testutil"
	"github.com/roach88/tidewatch/internal/tsdb"
)

const (
	configPath  = "/etc/tidewatch/test.yaml"
	siteID      = "tide-01"
	downloadDir = "/data/downloaded"
	logDir      = "/data/logged"
)

// seqTime is the device time of seq: one record a minute, on the fake
// clock's day and before its start.
func seqTime(seq int64) time.Time {
	return time.Date(2024, 7, 28, 9, 0, 0, 500000000, time.UTC).Add(time.Duration(seq) * time.Minute)
}

func recs(first, last int64) []string {
	return testutil.Series(seqTime(first), time.Minute, first, last)
}

type cliRig struct {
	opts     *RootOptions
	fs       afero.Fs
	device   *testutil.Device
	launcher *testutil.Launcher
	trace    *testutil.Trace
	clock    *testutil.FakeClock
	dbPath   string
}

// newCLIRig writes a config using a SQLite store in a temp dir. extra is
// appended to the YAML and must not repeat the site, store or dirs sections.
func newCLIRig(t *testing.T, extra string, stream ...string) *cliRig {
	t.Helper()
	fsys := afero.NewMemMapFs()
	clk := testutil.NewFakeClock(time.Time{})
	trace := &testutil.Trace{}
	dev := testutil.NewDevice(clk, trace, stream...)
	l := &testutil.Launcher{Device: dev, Fs: fsys, Dir: downloadDir, Trace: trace}
	dbPath := filepath.Join(t.TempDir(), "tide.db")

	cfg := fmt.Sprintf(`
site:
  place: Harbour
  id: %s
  timezone: UTC
store:
  url: "sqlite:%s"
dirs:
  logged: %s
  downloaded: %s
%s`, siteID, dbPath, logDir, downloadDir, extra)
	require.NoError(t, afero.WriteFile(fsys, configPath, []byte(cfg), 0o644))

	return &cliRig{
		opts: &RootOptions{
			Format:     "text",
			ConfigPath: configPath,
			Fs:         fsys,
			Opener:     dev,
			Launcher:   l,
			Clock:      clk,
		},
		fs:       fsys,
		device:   dev,
		launcher: l,
		trace:    trace,
		clock:    clk,
		dbPath:   dbPath,
	}
}

// execute runs the root command with args and returns stdout.
func (r *cliRig) execute(ctx context.Context, args ...string) (string, error) {
	out := &bytes.Buffer{}
	cmd := NewRootCommandWith(r.opts)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// seed stores seq so the store's anchor starts there.
func (r *cliRig) seed(t *testing.T, seq int64) {
	t.Helper()
	st, err := store.Open(r.dbPath)
	require.NoError(t, err)
	defer st.Close()
	o := observation.Observation{Timestamp: seqTime(seq), Seq: seq}
	require.NoError(t, st.Write(context.Background(), tsdb.NewMeasurement(o, "Harbour", siteID, tsdb.Calibration{})))
}

func (r *cliRig) stored(t *testing.T) []tsdb.Measurement {
	t.Helper()
	st, err := store.Open(r.dbPath)
	require.NoError(t, err)
	defer st.Close()
	ms, err := st.Measurements(context.Background(), siteID)
	require.NoError(t, err)
	return ms
}

func seqs(ms []tsdb.Measurement) []int64 {
	out := make([]int64, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Seq)
	}
	return out
}
