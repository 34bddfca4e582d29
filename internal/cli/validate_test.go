package cli

import (
	"context"
	"io"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidConfig(t *testing.T) {
	r := newCLIRig(t, "")

	out, err := r.execute(context.Background(), "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Config valid")
}

func TestValidateValidConfigJSON(t *testing.T) {
	r := newCLIRig(t, "")

	out, err := r.execute(context.Background(), "--format", "json", "validate")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateInvalidConfig(t *testing.T) {
	r := newCLIRig(t, "loop:\n  poll_slow: 0s\nmenu:\n  listing_attempts: 0\n")

	out, err := r.execute(context.Background(), "validate")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "loop.poll_slow")
	assert.Contains(t, out, "menu.listing_attempts")
}

func TestValidateInvalidConfigJSON(t *testing.T) {
	r := newCLIRig(t, "transfer:\n  command: \"\"\n")

	out, err := r.execute(context.Background(), "--format", "json", "validate")
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotEmpty(t, resp.Data.Errors)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
}

func TestValidateMissingConfig(t *testing.T) {
	r := newCLIRig(t, "")

	cmd := NewRootCommandWith(r.opts)
	cmd.SetArgs([]string{"--config", "/etc/tidewatch/missing.yaml", "validate"})
	cmd.SetOut(io.Discard)
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
