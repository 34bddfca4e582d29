// Package launcher runs the external file-transfer program used during a
// card sync.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
)

// Shell runs a command line through /bin/sh, so redirections like
// "rz < /dev/rfcomm0 > /dev/rfcomm0" work as written in the config.
type Shell struct {
	// Dir is the working directory; the transfer program writes received
	// files there.
	Dir string

	Logger *slog.Logger
}

// Run implements archive.Launcher. A non-zero exit status is reported as
// the returned code with a nil error; err is set only when the command
// could not be started or was cancelled.
func (s Shell) Run(ctx context.Context, command string) (int, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.Dir
	out, err := cmd.CombinedOutput()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Debug("transfer command failed",
				"command", command,
				"exit_code", exitErr.ExitCode(),
				"output", string(out),
			)
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("start %q: %w", command, err)
	}
	logger.Debug("transfer command done", "command", command)
	return 0, nil
}
