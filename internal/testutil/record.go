package testutil

import (
	"fmt"
	"strings"
	"time"
)

// Record renders the line the logger prints for sequence number seq
// observed at ts (wall clock of ts's location).
func Record(ts time.Time, seq int64) string {
	return fmt.Sprintf("%s,%s,4.1,0.01,-0.02,0.98,21.5,1013.25,19.75,%d,\r\n",
		ts.Format("01/02/2006"), ts.Format("15:04:05.000000"), seq)
}

// Series renders records first..last, one every interval from start.
func Series(start time.Time, interval time.Duration, first, last int64) []string {
	var out []string
	for seq := first; seq <= last; seq++ {
		out = append(out, Record(start.Add(time.Duration(seq-first)*interval), seq))
	}
	return out
}

// File joins records into the content of a card or log file.
func File(records ...string) string {
	return strings.Join(records, "")
}
