package observation

import (
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Sanitize drops NUL and every rune outside ASCII, including invalid UTF-8.
// Other control bytes such as '\r' are kept. Noise on the radio link shows
// up as NULs or high bytes; removing them lets a record that is otherwise
// intact still parse.
func Sanitize(b []byte) []byte {
	t := runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII || r == 0
	}))
	out, _, err := transform.Bytes(t, b)
	if err != nil {
		return nil
	}
	return out
}
