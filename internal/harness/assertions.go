package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError describes one failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, line := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion against result and returns the
// failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertPublished:
		return assertPublished(result, a)
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertFinalState:
		return assertFinalState(result, a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

func assertPublished(result *Result, a Assertion) error {
	if slices.Equal(result.Published, a.Seqs) {
		return nil
	}
	return &AssertionError{
		Type:     AssertPublished,
		Expected: fmt.Sprintf("%v", a.Seqs),
		Actual:   fmt.Sprintf("%v", result.Published),
		Trace:    result.Trace,
	}
}

func assertTraceContains(trace []string, a Assertion) error {
	if slices.Contains(trace, a.Line) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%q in trace", a.Line),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that a.Lines appear in order. Each line matches
// the first occurrence after the previous match.
func assertTraceOrder(trace []string, a Assertion) error {
	pos := 0
	for _, want := range a.Lines {
		i := slices.Index(trace[pos:], want)
		if i < 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("%q in order", a.Lines),
				Actual:   fmt.Sprintf("%q missing after position %d", want, pos),
				Trace:    trace,
			}
		}
		pos += i + 1
	}
	return nil
}

func assertTraceCount(trace []string, a Assertion) error {
	n := 0
	for _, line := range trace {
		if line == a.Line {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%q %d times", a.Line, a.Count),
		Actual:   fmt.Sprintf("%d times", n),
		Trace:    trace,
	}
}

func assertFinalState(result *Result, a Assertion) error {
	s := result.State
	want := a.State
	var diffs []string

	if want.LastSeq != nil {
		switch {
		case !s.HasLast:
			diffs = append(diffs, fmt.Sprintf("last_seq: want %d, nothing accepted", *want.LastSeq))
		case s.LastAccepted.Seq != *want.LastSeq:
			diffs = append(diffs, fmt.Sprintf("last_seq: want %d, got %d", *want.LastSeq, s.LastAccepted.Seq))
		}
	}
	diffs = appendFlag(diffs, "want_download", want.WantDownload, s.WantDownload)
	diffs = appendFlag(diffs, "db_out_of_sync", want.DBOutOfSync, s.DBOutOfSync)
	diffs = appendFlag(diffs, "keep_previous", want.KeepPrevious, s.KeepPrevious)
	diffs = appendFlag(diffs, "transport_up", want.TransportUp, s.TransportUp)

	if len(diffs) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: "state to match",
		Actual:   strings.Join(diffs, "; "),
		Trace:    result.Trace,
	}
}

func appendFlag(diffs []string, name string, want *bool, got bool) []string {
	if want == nil || *want == got {
		return diffs
	}
	return append(diffs, fmt.Sprintf("%s: want %t, got %t", name, *want, got))
}
