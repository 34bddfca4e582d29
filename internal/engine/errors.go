package engine

import "errors"

// ErrTransportLost is returned by Run when the link could not be reopened
// within the configured number of attempts.
var ErrTransportLost = errors.New("serial link lost")
