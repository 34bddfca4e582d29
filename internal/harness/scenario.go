package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultMaxSteps bounds a run whose Until does not set max_steps.
const DefaultMaxSteps = 200

// Scenario is one scripted run of the engine.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Anchor is the sequence number of the newest record already in the
	// store when the run starts.
	Anchor int64 `yaml:"anchor"`

	// SyncOnStart requests a card sync at the first sign of life.
	SyncOnStart bool `yaml:"sync_on_start,omitempty"`

	// Stream is what the logger prints live, in order.
	Stream []StreamEntry `yaml:"stream"`

	// Card lists the files the logger can send.
	Card []CardFile `yaml:"card,omitempty"`

	// PublishFailures scripts store rejections.
	PublishFailures []PublishFailure `yaml:"publish_failures,omitempty"`

	Until Until `yaml:"until"`

	Assertions []Assertion `yaml:"assertions"`
}

// StreamEntry is one live record, an inclusive range of records, or a raw
// line. Exactly one field is set.
type StreamEntry struct {
	Record  *int64  `yaml:"record,omitempty"`
	Records []int64 `yaml:"records,omitempty"`
	Line    string  `yaml:"line,omitempty"`
}

// CardFile is a file on the logger's card holding an inclusive range of
// records.
type CardFile struct {
	Name    string  `yaml:"name"`
	Records []int64 `yaml:"records"`
}

// PublishFailure makes the next Times publishes of Seq fail.
type PublishFailure struct {
	Seq   int64 `yaml:"seq"`
	Times int   `yaml:"times"`
}

// Until is the stop condition. Exactly one of Published and Accepted is set.
type Until struct {
	// Published stops once the store's newest publish is this seq.
	Published *int64 `yaml:"published,omitempty"`

	// Accepted stops once the engine has accepted this seq.
	Accepted *int64 `yaml:"accepted,omitempty"`

	MaxSteps int `yaml:"max_steps,omitempty"`
}

// Assertion checks the trace or the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Seqs is used by published.
	Seqs []int64 `yaml:"seqs,omitempty"`

	// Line is used by trace_contains and trace_count.
	Line string `yaml:"line,omitempty"`

	// Lines is used by trace_order.
	Lines []string `yaml:"lines,omitempty"`

	// Count is used by trace_count.
	Count int `yaml:"count,omitempty"`

	// State is used by final_state. Unset fields are not checked.
	State *ExpectedState `yaml:"state,omitempty"`
}

// ExpectedState is a partial match on engine.State.
type ExpectedState struct {
	LastSeq      *int64 `yaml:"last_seq,omitempty"`
	WantDownload *bool  `yaml:"want_download,omitempty"`
	DBOutOfSync  *bool  `yaml:"db_out_of_sync,omitempty"`
	KeepPrevious *bool  `yaml:"keep_previous,omitempty"`
	TransportUp  *bool  `yaml:"transport_up,omitempty"`
}

// Assertion types.
const (
	AssertPublished     = "published"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so a misspelt key fails loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, entry := range s.Stream {
		set := 0
		if entry.Record != nil {
			set++
		}
		if entry.Records != nil {
			set++
			if err := validateRange(entry.Records); err != nil {
				return fmt.Errorf("stream[%d].records: %w", i, err)
			}
		}
		if entry.Line != "" {
			set++
		}
		if set != 1 {
			return fmt.Errorf("stream[%d]: exactly one of record, records, line is required", i)
		}
	}

	for i, f := range s.Card {
		if f.Name == "" {
			return fmt.Errorf("card[%d]: name is required", i)
		}
		if err := validateRange(f.Records); err != nil {
			return fmt.Errorf("card[%d].records: %w", i, err)
		}
	}

	for i, f := range s.PublishFailures {
		if f.Times < 1 {
			return fmt.Errorf("publish_failures[%d]: times must be at least 1", i)
		}
	}

	if (s.Until.Published == nil) == (s.Until.Accepted == nil) {
		return fmt.Errorf("until: exactly one of published, accepted is required")
	}
	if s.Until.MaxSteps < 0 {
		return fmt.Errorf("until.max_steps must not be negative")
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateRange(r []int64) error {
	if len(r) != 2 {
		return fmt.Errorf("want [first, last], got %d values", len(r))
	}
	if r[0] > r[1] {
		return fmt.Errorf("first %d is after last %d", r[0], r[1])
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertPublished:
		if a.Seqs == nil {
			return fmt.Errorf("assertions[%d]: published requires seqs", index)
		}
	case AssertTraceContains:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: trace_contains requires line", index)
		}
	case AssertTraceOrder:
		if len(a.Lines) < 2 {
			return fmt.Errorf("assertions[%d]: trace_order requires at least 2 lines", index)
		}
	case AssertTraceCount:
		if a.Line == "" {
			return fmt.Errorf("assertions[%d]: trace_count requires line", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: trace_count requires count >= 0", index)
		}
	case AssertFinalState:
		if a.State == nil {
			return fmt.Errorf("assertions[%d]: final_state requires state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", index, a.Type)
	}
	return nil
}
