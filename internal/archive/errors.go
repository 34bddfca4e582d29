package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrMenuTimeout is returned when the logger does not answer a menu
	// command in time.
	ErrMenuTimeout = errors.New("menu did not respond")

	// ErrListingUnstable is returned when no two consecutive directory
	// listings agree within the attempt budget.
	ErrListingUnstable = errors.New("directory listing unstable")
)

// TransferError reports a non-zero exit of the transfer command.
type TransferError struct {
	File     string
	ExitCode int
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: exit status %d", e.File, e.ExitCode)
}
