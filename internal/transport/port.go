package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.bug.st/serial"

	"github.com/roach88/tidewatch/internal/clock"
)

var (
	// ErrClosed is returned when the console has no open port.
	ErrClosed = errors.New("transport closed")

	// ErrTimeout is returned when an expected banner does not arrive in time.
	ErrTimeout = errors.New("transport timeout")

	// ErrDeviceMissing is returned when the device node does not exist
	// (for rfcomm links, the radio connection is down).
	ErrDeviceMissing = errors.New("serial device missing")
)

// Port is an open serial device. Read returns (0, nil) when the read
// timeout elapses without data; any error means the link is down.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
	ResetInputBuffer() error
}

// Opener opens the underlying port.
type Opener interface {
	Open(ctx context.Context) (Port, error)
}

// Serial opens a real serial device with go.bug.st/serial.
type Serial struct {
	Path string
	Baud int
}

// Open opens the device. It fails fast with ErrDeviceMissing if the device
// node is absent.
func (s Serial) Open(ctx context.Context) (Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.Path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceMissing, s.Path)
	}
	p, err := serial.Open(s.Path, &serial.Mode{BaudRate: s.Baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Path, err)
	}
	return p, nil
}

// WaitForDevice blocks until path exists, checking every interval.
func WaitForDevice(ctx context.Context, clk clock.Clock, path string, interval time.Duration) error {
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if err := clk.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}
