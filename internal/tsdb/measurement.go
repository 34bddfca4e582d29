package tsdb

import (
	"time"

	"github.com/roach88/tidewatch/internal/observation"
)

// isoLayout matches the store's expected ISO-8601 form with microseconds
// and a numeric offset.
const isoLayout = "2006-01-02T15:04:05.000000-07:00"

// Measurement is the publish payload.
type Measurement struct {
	Place       string  `json:"place"`
	SiteID      string  `json:"sensor_ID"`
	Date        string  `json:"date"`
	Pressure    float64 `json:"pressure"`
	RawPressure float64 `json:"raw_pressure"`
	Voltage     float64 `json:"voltage"`
	Seq         int64   `json:"seqNum"`
	AX          float64 `json:"aX"`
	AY          float64 `json:"aY"`
	AZ          float64 `json:"aZ"`
	WaterTemp   float64 `json:"wtemp"`
	Notes       string  `json:"notes"`

	// Timestamp is Date as a time, for stores that index natively.
	Timestamp time.Time `json:"-"`
}

// Calibration converts raw pressure into the published value.
type Calibration struct {
	Offset     float64
	TempFactor float64
}

// Pressure returns raw − offset − tempFactor·waterTemp.
func (c Calibration) Pressure(raw, waterTemp float64) float64 {
	return raw - c.Offset - c.TempFactor*waterTemp
}

// NewMeasurement builds the payload for o.
func NewMeasurement(o observation.Observation, place, siteID string, cal Calibration) Measurement {
	return Measurement{
		Place:       place,
		SiteID:      siteID,
		Date:        o.Timestamp.Format(isoLayout),
		Pressure:    cal.Pressure(o.PressureRaw, o.WaterTemperature),
		RawPressure: o.PressureRaw,
		Voltage:     o.BatteryVolts,
		Seq:         o.Seq,
		AX:          o.AccelX,
		AY:          o.AccelY,
		AZ:          o.AccelZ,
		WaterTemp:   o.WaterTemperature,
		Notes:       " ",
		Timestamp:   o.Timestamp,
	}
}
