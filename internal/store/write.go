package store

import (
	"context"
	"fmt"

	"github.com/roach88/tidewatch/internal/tsdb"
)

// Write inserts a measurement.
// Uses ON CONFLICT DO NOTHING for idempotency - a record already stored for
// the same (site, time, seq) is silently ignored.
func (s *Store) Write(ctx context.Context, m tsdb.Measurement) error {
	if m.Timestamp.IsZero() {
		return fmt.Errorf("write measurement seq %d: missing timestamp", m.Seq)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO measurements
		(site_id, observed_at, seq, date, place, pressure, raw_pressure, voltage,
		 accel_x, accel_y, accel_z, water_temp, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		m.SiteID,
		m.Timestamp.UnixMicro(),
		m.Seq,
		m.Date,
		m.Place,
		m.Pressure,
		m.RawPressure,
		m.Voltage,
		m.AX,
		m.AY,
		m.AZ,
		m.WaterTemp,
		m.Notes,
	)
	if err != nil {
		return fmt.Errorf("write measurement seq %d: %w", m.Seq, err)
	}

	return nil
}
