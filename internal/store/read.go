package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/tidewatch/internal/observation"
	"github.com/roach88/tidewatch/internal/tsdb"
)

// Latest returns the newest (observed_at, seq) recorded for siteID, or
// tsdb.ErrNoData if the site has no rows.
func (s *Store) Latest(ctx context.Context, siteID string) (observation.Anchor, error) {
	var micros, seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT observed_at, seq
		FROM measurements
		WHERE site_id = ?
		ORDER BY observed_at DESC, seq DESC
		LIMIT 1
	`, siteID).Scan(&micros, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return observation.Anchor{}, fmt.Errorf("%w: %s", tsdb.ErrNoData, siteID)
	}
	if err != nil {
		return observation.Anchor{}, fmt.Errorf("query latest: %w", err)
	}
	return observation.Anchor{Timestamp: time.UnixMicro(micros).UTC(), Seq: seq}, nil
}

// Measurements returns every measurement for siteID in time order.
// Returns an empty slice (not nil) if the site has no rows.
func (s *Store) Measurements(ctx context.Context, siteID string) ([]tsdb.Measurement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site_id, observed_at, seq, date, place, pressure, raw_pressure, voltage,
		       accel_x, accel_y, accel_z, water_temp, notes
		FROM measurements
		WHERE site_id = ?
		ORDER BY observed_at ASC, seq ASC
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	out := []tsdb.Measurement{}
	for rows.Next() {
		var m tsdb.Measurement
		var micros int64
		if err := rows.Scan(&m.SiteID, &micros, &m.Seq, &m.Date, &m.Place, &m.Pressure,
			&m.RawPressure, &m.Voltage, &m.AX, &m.AY, &m.AZ, &m.WaterTemp, &m.Notes); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		m.Timestamp = time.UnixMicro(micros).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate measurements: %w", err)
	}
	return out, nil
}

// Count returns the number of measurements stored for siteID.
func (s *Store) Count(ctx context.Context, siteID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM measurements WHERE site_id = ?`, siteID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count measurements: %w", err)
	}
	return n, nil
}
