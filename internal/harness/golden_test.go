package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceSnapshot_Marshal(t *testing.T) {
	data, err := TraceSnapshot{
		Scenario:  "tiny",
		Trace:     []string{"publish: seq 1"},
		Published: []int64{1},
	}.Marshal()
	require.NoError(t, err)

	assert.Equal(t, `{
  "scenario": "tiny",
  "trace": [
    "publish: seq 1"
  ],
  "published": [
    1
  ]
}
`, string(data))
}

func TestAssertGolden_MatchesCommittedFile(t *testing.T) {
	result := NewResult()
	result.Trace = []string{"publish: seq 41", "publish: seq 42", "publish: seq 43"}
	result.Published = []int64{41, 42, 43}

	require.NoError(t, AssertGolden(t, "in_order", result))
}
