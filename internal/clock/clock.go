// Package clock abstracts wall time so the ingestion loop, the menu
// automaton, and their timeouts can be driven deterministically in tests.
package clock

import (
	"context"
	"time"
)

// Clock supplies the current time and context-aware sleeping.
//
// All timeouts in the engine are computed from Now, never from time.Now
// directly, so a fake clock controls every deadline.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time {
	return time.Now()
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func (System) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
