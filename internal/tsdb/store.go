package tsdb

import (
	"context"
	"errors"

	"github.com/roach88/tidewatch/internal/observation"
)

// ErrNoData is returned by Latest when the store holds nothing for the site.
var ErrNoData = errors.New("no measurements for site")

// Store is a remote time-series store.
type Store interface {
	// Write durably records one measurement.
	Write(ctx context.Context, m Measurement) error

	// Latest returns the newest timestamp and sequence number recorded
	// for siteID.
	Latest(ctx context.Context, siteID string) (observation.Anchor, error)
}
