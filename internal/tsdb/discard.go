package tsdb

import (
	"context"
	"time"

	"github.com/roach88/tidewatch/internal/clock"
	"github.com/roach88/tidewatch/internal/observation"
)

// Discard accepts every write and keeps nothing. Its anchor trails the
// clock by Lookback, so catch-up passes replay only recent data.
type Discard struct {
	Clock    clock.Clock
	Lookback time.Duration
}

// DefaultLookback is how far behind now the discard anchor sits.
const DefaultLookback = 24 * time.Hour

// Write does nothing.
func (Discard) Write(context.Context, Measurement) error {
	return nil
}

// Latest returns now minus Lookback.
func (d Discard) Latest(context.Context, string) (observation.Anchor, error) {
	var clk clock.Clock = clock.System{}
	if d.Clock != nil {
		clk = d.Clock
	}
	lookback := d.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return observation.Anchor{Timestamp: clk.Now().Add(-lookback)}, nil
}
