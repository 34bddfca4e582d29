package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// NamePattern matches data files written by the logger.
var NamePattern = regexp.MustCompile(`^dataLog\d{5}\.TXT$`)

// listingTimeLayout is how "dir" prints modification times.
const listingTimeLayout = "2006-01-02 15:04"

// Entry is one file in the logger's directory listing.
type Entry struct {
	Name     string
	Size     int64
	Modified time.Time
}

// FileName returns the data file name for counter n.
func FileName(n int) string {
	return fmt.Sprintf("dataLog%05d.TXT", n)
}

// ParseListing extracts data file entries from the text printed by "dir",
// sorted by modification time (name breaks ties). Lines that do not mention
// a data file are ignored; a line that mentions one but does not parse
// fails the whole listing, since it means the transmission was garbled.
func ParseListing(text []byte, loc *time.Location) ([]Entry, error) {
	if loc == nil {
		loc = time.Local
	}

	var entries []Entry
	seen := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.Contains(line, "dataLog") {
			continue
		}
		e, err := parseEntry(line, loc)
		if err != nil {
			return nil, err
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("listing names %s twice", e.Name)
		}
		seen[e.Name] = true
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Modified.Equal(entries[j].Modified) {
			return entries[i].Modified.Before(entries[j].Modified)
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func parseEntry(line string, loc *time.Location) (Entry, error) {
	f := strings.Fields(line)
	if len(f) < 4 {
		return Entry{}, fmt.Errorf("short listing line %q", line)
	}
	name := f[3]
	if !NamePattern.MatchString(name) {
		return Entry{}, fmt.Errorf("bad file name in listing line %q", line)
	}
	mod, err := time.ParseInLocation(listingTimeLayout, f[0]+" "+f[1], loc)
	if err != nil {
		return Entry{}, fmt.Errorf("bad time in listing line %q: %w", line, err)
	}
	size, err := strconv.ParseInt(f[2], 10, 64)
	if err != nil || size < 0 {
		return Entry{}, fmt.Errorf("bad size in listing line %q", line)
	}
	return Entry{Name: name, Size: size, Modified: mod}, nil
}

// SameListing reports whether a and b describe the same files.
func SameListing(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	byName := make(map[string]Entry, len(a))
	for _, e := range a {
		byName[e.Name] = e
	}
	for _, e := range b {
		o, ok := byName[e.Name]
		if !ok || o.Size != e.Size || !o.Modified.Equal(e.Modified) {
			return false
		}
	}
	return true
}
