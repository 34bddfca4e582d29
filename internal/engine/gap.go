package engine

import "github.com/roach88/tidewatch/internal/observation"

// Class is the verdict on one live line.
type Class int

const (
	// Sequential follows the last accepted record (or is the first one).
	Sequential Class = iota
	// Gap parsed but does not follow the last accepted record.
	Gap
	// Unparsable did not parse.
	Unparsable
)

func (c Class) String() string {
	switch c {
	case Sequential:
		return "sequential"
	case Gap:
		return "gap"
	case Unparsable:
		return "unparsable"
	default:
		return "unknown"
	}
}

// Classify compares cur with the last accepted record. With no
// predecessor (first record since start) any valid record is Sequential.
func Classify(cur observation.Result, last observation.Observation, hasLast bool) Class {
	if !cur.Valid {
		return Unparsable
	}
	if !hasLast {
		return Sequential
	}
	if cur.Observation.Seq == last.Seq+1 {
		return Sequential
	}
	return Gap
}
