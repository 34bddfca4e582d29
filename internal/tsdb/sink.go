package tsdb

import (
	"context"
	"time"

	"github.com/roach88/tidewatch/internal/observation"
)

// Sink publishes observations for one site into a Store.
type Sink struct {
	store  Store
	place  string
	siteID string
	cal    Calibration
	loc    *time.Location
}

// NewSink returns a Sink. Anchors read back from the store are converted to
// loc, the zone of the device clock, so that dates line up with log files.
func NewSink(store Store, place, siteID string, cal Calibration, loc *time.Location) *Sink {
	if loc == nil {
		loc = time.Local
	}
	return &Sink{store: store, place: place, siteID: siteID, cal: cal, loc: loc}
}

// Publish writes o to the store.
func (s *Sink) Publish(ctx context.Context, o observation.Observation) error {
	return s.store.Write(ctx, NewMeasurement(o, s.place, s.siteID, s.cal))
}

// Anchor returns the newest record the store holds for the site.
func (s *Sink) Anchor(ctx context.Context) (observation.Anchor, error) {
	a, err := s.store.Latest(ctx, s.siteID)
	if err != nil {
		return observation.Anchor{}, err
	}
	a.Timestamp = a.Timestamp.In(s.loc)
	return a, nil
}

// SiteID returns the site the sink publishes for.
func (s *Sink) SiteID() string {
	return s.siteID
}
