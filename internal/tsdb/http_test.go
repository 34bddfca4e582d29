package tsdb

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tidewatch/internal/observation"
)

const testURL = "http://store.test"

func newTestStore(t *testing.T, opts ...HTTPOption) *HTTPStore {
	t.Helper()
	client := &http.Client{}
	gock.InterceptClient(client)
	t.Cleanup(func() {
		gock.RestoreClient(client)
		gock.Off()
	})
	opts = append([]HTTPOption{WithHTTPClient(client), WithBasicAuth("gw", "secret")}, opts...)
	return NewHTTPStore(testURL+"/", opts...)
}

func testObservation(t *testing.T) observation.Observation {
	t.Helper()
	loc := time.FixedZone("EDT", -4*3600)
	return observation.Observation{
		Timestamp:        time.Date(2024, 7, 28, 7, 41, 35, 120000000, loc),
		Seq:              43,
		BatteryVolts:     4.125,
		AccelX:           0.5,
		AccelY:           -0.25,
		AccelZ:           1,
		Temperature:      21.5,
		PressureRaw:      1013.25,
		WaterTemperature: 19.75,
	}
}

func TestHTTPStore_Write(t *testing.T) {
	s := newTestStore(t)

	gock.New(testURL).
		Post("/write_measurement").
		BasicAuth("gw", "secret").
		MatchType("json").
		JSON(map[string]any{
			"place":        "Cape Harbor",
			"sensor_ID":    "CB_02",
			"date":         "2024-07-28T07:41:35.120000-04:00",
			"pressure":     993.375,
			"raw_pressure": 1013.25,
			"voltage":      4.125,
			"seqNum":       43,
			"aX":           0.5,
			"aY":           -0.25,
			"aZ":           1,
			"wtemp":        19.75,
			"notes":        " ",
		}).
		Reply(200)

	m := NewMeasurement(testObservation(t), "Cape Harbor", "CB_02", Calibration{Offset: 10, TempFactor: 0.5})
	require.NoError(t, s.Write(context.Background(), m))
	assert.True(t, gock.IsDone())
}

func TestHTTPStore_WriteRetries(t *testing.T) {
	s := newTestStore(t, WithMaxTries(2))

	gock.New(testURL).Post("/write_measurement").Reply(503)
	gock.New(testURL).Post("/write_measurement").Reply(200)

	m := NewMeasurement(testObservation(t), "p", "CB_02", Calibration{})
	require.NoError(t, s.Write(context.Background(), m))
	assert.True(t, gock.IsDone())
}

func TestHTTPStore_WriteGivesUp(t *testing.T) {
	s := newTestStore(t, WithMaxTries(2))

	gock.New(testURL).Post("/write_measurement").Times(2).Reply(500)

	m := NewMeasurement(testObservation(t), "p", "CB_02", Calibration{})
	err := s.Write(context.Background(), m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seq 43")
	assert.Contains(t, err.Error(), "2 attempts")
	assert.True(t, gock.IsDone())
}

func TestHTTPStore_Latest(t *testing.T) {
	s := newTestStore(t)

	gock.New(testURL).
		Get("/get_latest_measurement").
		MatchParam("sensor_ID", "CB_02").
		BasicAuth("gw", "secret").
		Reply(200).
		JSON([]map[string]any{{"date": "2024-07-28T11:41:35+00:00", "seqNum": 43}})

	a, err := s.Latest(context.Background(), "CB_02")
	require.NoError(t, err)
	assert.Equal(t, int64(43), a.Seq)
	assert.True(t, a.Timestamp.Equal(time.Date(2024, 7, 28, 11, 41, 35, 0, time.UTC)))
}

func TestHTTPStore_LatestEmpty(t *testing.T) {
	s := newTestStore(t)

	gock.New(testURL).Get("/get_latest_measurement").Reply(200).JSON([]any{})

	_, err := s.Latest(context.Background(), "CB_02")
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestHTTPStore_LatestServerError(t *testing.T) {
	s := newTestStore(t)

	gock.New(testURL).Get("/get_latest_measurement").Reply(502)

	_, err := s.Latest(context.Background(), "CB_02")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoData))
}
