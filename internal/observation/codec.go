package observation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldCount is the number of tokens a record splits into, including the
// empty token after the trailing delimiter.
const FieldCount = 11

const (
	delimiter   = ","
	dateLayout  = "01/02/2006"
	clockLayout = "15:04:05"
)

// ErrInvalid is returned for records that cannot be parsed.
var ErrInvalid = errors.New("invalid record")

// Result is the outcome of decoding one record. The zero value is Invalid.
type Result struct {
	Observation Observation
	Valid       bool
}

// Invalid is the result for a malformed or short record.
var Invalid = Result{}

// Valid wraps a successfully parsed observation.
func Valid(o Observation) Result {
	return Result{Observation: o, Valid: true}
}

// Codec parses and serializes records. Device timestamps carry no zone, so
// they are interpreted in the codec's location.
type Codec struct {
	loc *time.Location
}

// NewCodec returns a codec interpreting device timestamps in loc.
// A nil loc means time.Local.
func NewCodec(loc *time.Location) Codec {
	if loc == nil {
		loc = time.Local
	}
	return Codec{loc: loc}
}

// Location returns the zone used for device timestamps.
func (c Codec) Location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

// Decode parses raw into a Result, discarding the error detail.
func (c Codec) Decode(raw []byte) Result {
	o, err := c.Parse(raw)
	if err != nil {
		return Invalid
	}
	return Valid(o)
}

// Parse converts one raw record into an Observation. Any field-count
// mismatch or conversion failure yields an error wrapping ErrInvalid;
// partial results are never returned.
func (c Codec) Parse(raw []byte) (Observation, error) {
	text := string(raw)
	fields := strings.Split(text, delimiter)
	if len(fields) != FieldCount {
		return Observation{}, fmt.Errorf("%w: %d fields, want %d", ErrInvalid, len(fields), FieldCount)
	}

	ts, err := time.ParseInLocation(dateLayout+" "+clockLayout, fields[0]+" "+fields[1], c.Location())
	if err != nil {
		return Observation{}, fmt.Errorf("%w: timestamp: %v", ErrInvalid, err)
	}

	var nums [7]float64
	for i := range nums {
		v, err := strconv.ParseFloat(fields[2+i], 64)
		if err != nil {
			return Observation{}, fmt.Errorf("%w: field %d: %v", ErrInvalid, 2+i, err)
		}
		nums[i] = v
	}

	seq, err := strconv.ParseInt(fields[9], 10, 64)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: sequence number: %v", ErrInvalid, err)
	}

	return Observation{
		Timestamp:        ts,
		Seq:              seq,
		BatteryVolts:     nums[0],
		AccelX:           nums[1],
		AccelY:           nums[2],
		AccelZ:           nums[3],
		Temperature:      nums[4],
		PressureRaw:      nums[5],
		WaterTemperature: nums[6],
		RawText:          text,
	}, nil
}

// Serialize returns the record text for o. For parsed observations this is
// the original record with trailing whitespace removed; observations built
// in code are formatted field by field.
func (c Codec) Serialize(o Observation) string {
	if o.RawText != "" {
		return strings.TrimRight(o.RawText, " \t\r\n")
	}
	ts := o.Timestamp.In(c.Location())
	fields := []string{
		ts.Format(dateLayout),
		ts.Format(clockLayout + ".000000"),
		formatFloat(o.BatteryVolts),
		formatFloat(o.AccelX),
		formatFloat(o.AccelY),
		formatFloat(o.AccelZ),
		formatFloat(o.Temperature),
		formatFloat(o.PressureRaw),
		formatFloat(o.WaterTemperature),
		strconv.FormatInt(o.Seq, 10),
		"",
	}
	return strings.Join(fields, delimiter)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
