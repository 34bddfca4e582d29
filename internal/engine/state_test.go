package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/tidewatch/internal/observation"
)

var t0 = time.Date(2024, 7, 28, 10, 0, 0, 0, time.UTC)

func obs(seq int64) observation.Observation {
	return observation.Observation{Timestamp: t0.Add(time.Duration(seq) * time.Minute), Seq: seq}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		cur     observation.Result
		last    observation.Observation
		hasLast bool
		want    Class
	}{
		{"first record", observation.Valid(obs(7)), observation.Observation{}, false, Sequential},
		{"next in sequence", observation.Valid(obs(43)), obs(42), true, Sequential},
		{"skipped ahead", observation.Valid(obs(46)), obs(43), true, Gap},
		{"repeated", observation.Valid(obs(43)), obs(43), true, Gap},
		{"went backwards", observation.Valid(obs(1)), obs(43), true, Gap},
		{"invalid", observation.Invalid, obs(43), true, Unparsable},
		{"invalid first", observation.Invalid, observation.Observation{}, false, Unparsable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.cur, tt.last, tt.hasLast))
		})
	}
}

func TestClass_String(t *testing.T) {
	assert.Equal(t, "sequential", Sequential.String())
	assert.Equal(t, "gap", Gap.String())
	assert.Equal(t, "unparsable", Unparsable.String())
	assert.Equal(t, "unknown", Class(9).String())
}

func TestState_Transitions(t *testing.T) {
	s := NewState(t0, true)
	assert.True(t, s.WantDownload)
	assert.False(t, s.HasLast)

	s.Accept(obs(43), t0.Add(time.Second))
	assert.True(t, s.HasLast)
	assert.False(t, s.WantDownload)
	assert.False(t, s.KeepPrevious)
	assert.Equal(t, int64(43), s.LastAccepted.Seq)

	s.FlagGap(t0.Add(2 * time.Second))
	assert.True(t, s.WantDownload)
	assert.True(t, s.KeepPrevious)
	assert.Equal(t, int64(43), s.LastAccepted.Seq, "gap keeps the last good record")

	s.SyncFailed(t0.Add(3 * time.Second))
	assert.True(t, s.WantDownload)

	s.SyncCompleted(obs(47), true, t0.Add(4*time.Second))
	assert.False(t, s.WantDownload)
	assert.True(t, s.KeepPrevious)
	assert.Equal(t, int64(47), s.LastAccepted.Seq)
	assert.Equal(t, t0.Add(4*time.Second), s.LastDataAt)
}

func TestState_SyncCompletedKeepsNewerLiveRecord(t *testing.T) {
	s := NewState(t0, false)
	s.Accept(obs(50), t0)

	s.SyncCompleted(obs(47), true, t0)
	assert.Equal(t, int64(50), s.LastAccepted.Seq)

	s.SyncCompleted(observation.Observation{}, false, t0)
	assert.Equal(t, int64(50), s.LastAccepted.Seq)
}

func TestState_OutOfSync(t *testing.T) {
	s := NewState(t0, false)
	s.MarkPublishFailed()
	assert.True(t, s.DBOutOfSync)
	s.MarkInSync()
	assert.False(t, s.DBOutOfSync)
}

func TestState_Watchdog(t *testing.T) {
	limit := 15 * time.Minute
	s := NewState(t0, false)

	assert.False(t, s.WatchdogExpired(t0.Add(limit), limit))
	assert.True(t, s.WatchdogExpired(t0.Add(limit+time.Second), limit))
	assert.False(t, s.WatchdogExpired(t0.Add(time.Hour), 0), "zero limit disables the watchdog")

	s.MarkTransportDown(t0.Add(time.Hour))
	assert.False(t, s.TransportUp)
	assert.False(t, s.WatchdogExpired(t0.Add(time.Hour+limit), limit))

	s.MarkTransportUp(t0.Add(2 * time.Hour))
	assert.True(t, s.TransportUp)
	assert.False(t, s.WatchdogExpired(t0.Add(2*time.Hour+limit), limit))

	s.Touch(t0.Add(3 * time.Hour))
	assert.Equal(t, t0.Add(3*time.Hour), s.LastDataAt)
}
