package testutil

import (
	"fmt"
	"strings"
	"sync"
)

// Trace collects one line per externally visible event.
type Trace struct {
	mu    sync.Mutex
	lines []string
}

// Addf appends a formatted line. A nil Trace ignores the call.
func (t *Trace) Addf(format string, args ...any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, fmt.Sprintf(format, args...))
}

// Lines returns a copy of the recorded lines.
func (t *Trace) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

// String renders the trace as newline-terminated lines.
func (t *Trace) String() string {
	lines := t.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
