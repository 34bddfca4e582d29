package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name, "file name and scenario name must agree")

			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestRun_UntilAccepted(t *testing.T) {
	scenario := &Scenario{
		Name:        "until_accepted",
		Description: "Stops once the engine accepts the record",
		Anchor:      40,
		Stream:      []StreamEntry{{Record: ptr(int64(41))}, {Line: "41,garbled"}},
		Until:       Until{Accepted: ptr(int64(41))},
		Assertions: []Assertion{
			{Type: AssertPublished, Seqs: []int64{41}},
			{Type: AssertFinalState, State: &ExpectedState{
				LastSeq:      ptr(int64(41)),
				WantDownload: ptr(false),
			}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, []string{"publish: seq 41"}, result.Trace)
	assert.Positive(t, result.Steps)
}

func TestRun_FailedAssertionsAreReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_expectation",
		Description: "Expects a record that is never published",
		Anchor:      40,
		Stream:      []StreamEntry{{Records: []int64{41, 42}}},
		Until:       Until{Published: ptr(int64(42))},
		Assertions: []Assertion{
			{Type: AssertPublished, Seqs: []int64{41, 42, 43}},
			{Type: AssertTraceContains, Line: "device: menu"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 2)
	assert.Equal(t, []int64{41, 42}, result.Published)
}

func TestRun_StopConditionNeverReached(t *testing.T) {
	scenario := &Scenario{
		Name:        "never",
		Description: "Waits for a record the logger never prints",
		Anchor:      40,
		Stream:      []StreamEntry{{Records: []int64{41, 42}}},
		Until:       Until{Published: ptr(int64(50)), MaxSteps: 20},
		Assertions:  []Assertion{{Type: AssertPublished, Seqs: []int64{41, 42}}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reached after 20 steps")
}

func TestStreamLines(t *testing.T) {
	lines := streamLines([]StreamEntry{
		{Record: ptr(int64(3))},
		{Records: []int64{4, 5}},
		{Line: "raw"},
		{Line: "kept\n"},
	})

	require.Len(t, lines, 5)
	assert.True(t, strings.HasSuffix(lines[0], ",3,\r\n"))
	assert.True(t, strings.HasSuffix(lines[2], ",5,\r\n"))
	assert.Equal(t, "raw\r\n", lines[3])
	assert.Equal(t, "kept\n", lines[4])
}

func TestSeqTime(t *testing.T) {
	assert.Equal(t, Epoch, SeqTime(0))
	assert.Equal(t, "09:41:00.250", SeqTime(41).Format("15:04:05.000"))
}
