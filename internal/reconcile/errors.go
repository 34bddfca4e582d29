package reconcile

import (
	"errors"
	"fmt"
)

// ErrAnchorUnavailable is returned when the store cannot report its newest
// record. The pass is not attempted; callers retry later.
var ErrAnchorUnavailable = errors.New("store anchor unavailable")

// PublishError reports the record a pass stopped at.
type PublishError struct {
	Seq int64
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish seq %d: %v", e.Seq, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
