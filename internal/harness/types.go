package harness

import (
	"github.com/roach88/tidewatch/internal/engine"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds one line per device, transfer or store event, in order.
	Trace []string `json:"trace"`

	// Published lists the sequence numbers the store accepted.
	Published []int64 `json:"published"`

	// Steps is how many engine steps the run took.
	Steps int `json:"steps"`

	Errors []string `json:"errors,omitempty"`

	// State is the engine state when the stop condition was reached.
	State engine.State `json:"-"`
}

// NewResult returns a passing, empty result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []string{},
		Published: []int64{},
		Errors:    []string{},
	}
}

// AddError records a failed check.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
