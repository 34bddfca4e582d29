package archive

import (
	"github.com/google/uuid"
)

// IDGenerator names sync cycles so their log lines can be grouped.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 cycle ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so cycle ids sort
// by start time in log output.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
