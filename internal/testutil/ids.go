package testutil

import "fmt"

// SequentialIDs generates "cycle-1", "cycle-2", ... for deterministic logs
// and traces in place of UUIDv7 cycle ids.
type SequentialIDs struct {
	Prefix string
	n      int
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.n++
	prefix := g.Prefix
	if prefix == "" {
		prefix = "cycle"
	}
	return fmt.Sprintf("%s-%d", prefix, g.n)
}
