package engine

import (
	"time"

	"github.com/roach88/tidewatch/internal/observation"
)

// State is the engine's process-local state. It is reinitialized on every
// start; nothing here is persisted.
//
// Fields are exported for inspection (Snapshot, tests); mutate only through
// the transition methods.
type State struct {
	// LastAccepted is the last record accepted in sequence.
	LastAccepted observation.Observation
	HasLast      bool

	// KeepPrevious is set while LastAccepted did not come from the most
	// recent live line (it was rejected, or a card sync intervened).
	KeepPrevious bool

	// WantDownload requests a card sync at the next sign of life.
	WantDownload bool

	// DBOutOfSync is set when a direct publish failed.
	DBOutOfSync bool

	TransportUp bool

	// LastDataAt feeds the stuck-menu watchdog.
	LastDataAt time.Time
}

// NewState returns the start-of-process state.
func NewState(now time.Time, syncOnStart bool) State {
	return State{WantDownload: syncOnStart, LastDataAt: now}
}

// Accept records o as the new last-known-good record.
func (s *State) Accept(o observation.Observation, now time.Time) {
	s.LastAccepted, s.HasLast = o, true
	s.KeepPrevious = false
	s.WantDownload = false
	s.LastDataAt = now
}

// FlagGap keeps LastAccepted and asks for a card sync.
func (s *State) FlagGap(now time.Time) {
	s.KeepPrevious = true
	s.WantDownload = true
	s.LastDataAt = now
}

// FlagUnparsable keeps LastAccepted and asks for a card sync.
func (s *State) FlagUnparsable(now time.Time) {
	s.KeepPrevious = true
	s.WantDownload = true
	s.LastDataAt = now
}

// MarkPublishFailed records that the store missed a record.
func (s *State) MarkPublishFailed() {
	s.DBOutOfSync = true
}

// MarkInSync records a completed local-log catch-up.
func (s *State) MarkInSync() {
	s.DBOutOfSync = false
}

// MarkTransportDown records a lost link. The watchdog is held while down.
func (s *State) MarkTransportDown(now time.Time) {
	s.TransportUp = false
	s.LastDataAt = now
}

// MarkTransportUp records a (re)opened link and restarts the watchdog.
func (s *State) MarkTransportUp(now time.Time) {
	s.TransportUp = true
	s.LastDataAt = now
}

// Touch restarts the watchdog.
func (s *State) Touch(now time.Time) {
	s.LastDataAt = now
}

// WatchdogExpired reports whether no data arrived for longer than limit.
// A non-positive limit disables the watchdog.
func (s *State) WatchdogExpired(now time.Time, limit time.Duration) bool {
	return limit > 0 && now.Sub(s.LastDataAt) > limit
}

// SyncCompleted records a finished card sync. If the replayed files held
// a newer record than LastAccepted, it becomes the comparison point for
// the next live record.
func (s *State) SyncCompleted(newest observation.Observation, hasNewest bool, now time.Time) {
	s.WantDownload = false
	s.KeepPrevious = true
	if hasNewest && (!s.HasLast || newest.Timestamp.After(s.LastAccepted.Timestamp)) {
		s.LastAccepted, s.HasLast = newest, true
	}
	s.LastDataAt = now
}

// SyncFailed keeps the download request for the next attempt.
func (s *State) SyncFailed(now time.Time) {
	s.WantDownload = true
	s.LastDataAt = now
}
