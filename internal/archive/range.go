package archive

import (
	"fmt"
	"strconv"
	"strings"
)

// Range selects files by counter instead of by listing. Used on links too
// poor to carry a trustworthy directory listing.
type Range struct {
	First int
	Last  int

	// Attempts per file; values below 1 mean 1.
	Attempts int
}

// ParseRange parses "A:B" (inclusive).
func ParseRange(s string) (Range, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return Range{}, fmt.Errorf("range %q: want FIRST:LAST", s)
	}
	first, err := strconv.Atoi(strings.TrimSpace(a))
	if err != nil {
		return Range{}, fmt.Errorf("range %q: %w", s, err)
	}
	last, err := strconv.Atoi(strings.TrimSpace(b))
	if err != nil {
		return Range{}, fmt.Errorf("range %q: %w", s, err)
	}
	if first < 0 || last < first || last > 99999 {
		return Range{}, fmt.Errorf("range %q: want 0 <= FIRST <= LAST <= 99999", s)
	}
	return Range{First: first, Last: last, Attempts: 1}, nil
}

// Entries returns one entry per file in the range, ascending.
func (r Range) Entries() []Entry {
	out := make([]Entry, 0, r.Last-r.First+1)
	for n := r.First; n <= r.Last; n++ {
		out = append(out, Entry{Name: FileName(n)})
	}
	return out
}

func (r Range) attempts() int {
	return max(r.Attempts, 1)
}
