package observation

import (
	"fmt"
	"time"
)

// Observation is one parsed telemetry record. It is never mutated after
// parsing; Shift returns a copy.
type Observation struct {
	Timestamp        time.Time
	Seq              int64
	BatteryVolts     float64
	AccelX           float64
	AccelY           float64
	AccelZ           float64
	Temperature      float64
	PressureRaw      float64
	WaterTemperature float64

	// RawText is the record exactly as received, including line ending.
	RawText string
}

// Date returns the calendar day of the observation in its own location.
func (o Observation) Date() time.Time {
	y, m, d := o.Timestamp.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, o.Timestamp.Location())
}

// Shift returns a copy with the timestamp moved by d. Used when a device
// clock is known to be off by a fixed amount.
func (o Observation) Shift(d time.Duration) Observation {
	o.Timestamp = o.Timestamp.Add(d)
	return o
}

func (o Observation) String() string {
	return fmt.Sprintf("seq=%d at %s", o.Seq, o.Timestamp.Format(time.RFC3339Nano))
}

// Anchor is the newest record the store confirms it holds.
type Anchor struct {
	Timestamp time.Time
	Seq       int64
}

// Covers reports whether o is already held by the store and must not be
// published again. A record is covered when its timestamp is not after the
// anchor (plus slack). Stores that report whole seconds are handled by
// treating the anchor's own sequence number within the same second as covered.
func (a Anchor) Covers(o Observation, slack time.Duration) bool {
	if !o.Timestamp.After(a.Timestamp.Add(slack)) {
		return true
	}
	return o.Seq == a.Seq && o.Timestamp.Truncate(time.Second).Equal(a.Timestamp.Truncate(time.Second))
}

// Advance returns the anchor that results from publishing o.
func (a Anchor) Advance(o Observation) Anchor {
	return Anchor{Timestamp: o.Timestamp, Seq: o.Seq}
}

func (a Anchor) String() string {
	return fmt.Sprintf("seq=%d at %s", a.Seq, a.Timestamp.Format(time.RFC3339Nano))
}
