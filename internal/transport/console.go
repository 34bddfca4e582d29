package transport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tidewatch/internal/clock"
)

const (
	// DefaultReadTimeout bounds a single blocking read on the port.
	DefaultReadTimeout = 3 * time.Second

	// pollTimeout is the read timeout used when only checking for pending bytes.
	pollTimeout = 10 * time.Millisecond

	readChunk = 4096
)

// Console is a buffered, expect-style view of the serial link.
type Console struct {
	opener      Opener
	clock       clock.Clock
	logger      *slog.Logger
	readTimeout time.Duration

	port Port
	buf  []byte
	tmp  []byte
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithReadTimeout sets the upper bound of one blocking read.
func WithReadTimeout(d time.Duration) ConsoleOption {
	return func(c *Console) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithLogger sets the console logger.
func WithLogger(l *slog.Logger) ConsoleOption {
	return func(c *Console) {
		c.logger = l
	}
}

// NewConsole returns a closed console; call Open before use.
func NewConsole(opener Opener, clk clock.Clock, opts ...ConsoleOption) *Console {
	c := &Console{
		opener:      opener,
		clock:       clk,
		logger:      slog.Default(),
		readTimeout: DefaultReadTimeout,
		tmp:         make([]byte, readChunk),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open opens the port if it is not already open.
func (c *Console) Open(ctx context.Context) error {
	if c.port != nil {
		return nil
	}
	p, err := c.opener.Open(ctx)
	if err != nil {
		return err
	}
	c.port = p
	c.buf = c.buf[:0]
	c.logger.Debug("port opened")
	return nil
}

// Close closes the port. Buffered input is dropped.
func (c *Console) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	c.buf = c.buf[:0]
	return err
}

// IsOpen reports whether a port is held.
func (c *Console) IsOpen() bool {
	return c.port != nil
}

// Pending returns the number of bytes available without blocking for
// longer than a short poll. An error means the link is down.
func (c *Console) Pending() (int, error) {
	if c.port == nil {
		return 0, ErrClosed
	}
	if len(c.buf) > 0 {
		return len(c.buf), nil
	}
	if err := c.fill(pollTimeout); err != nil {
		return 0, err
	}
	return len(c.buf), nil
}

// ReadLine returns the next line including its terminator. If no full line
// arrives within timeout, whatever was received is returned (possibly
// nothing).
func (c *Console) ReadLine(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := c.clock.Now().Add(timeout)
	for {
		if i := bytes.IndexByte(c.buf, '\n'); i >= 0 {
			return c.take(i + 1), nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			return c.take(len(c.buf)), nil
		}
		if err := c.fill(min(remaining, c.readTimeout)); err != nil {
			return nil, err
		}
	}
}

// Expect reads until one of patterns appears or timeout elapses. It returns
// the index of the matched pattern and the text that preceded it; the match
// itself is consumed. On timeout the buffer is kept and ErrTimeout returned.
func (c *Console) Expect(ctx context.Context, timeout time.Duration, patterns ...string) (int, []byte, error) {
	deadline := c.clock.Now().Add(timeout)
	for {
		if idx, pos, n := c.search(patterns); idx >= 0 {
			before := append([]byte(nil), c.buf[:pos]...)
			c.take(pos + n)
			return idx, before, nil
		}
		if err := ctx.Err(); err != nil {
			return -1, nil, err
		}
		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			return -1, nil, fmt.Errorf("%w waiting for %q", ErrTimeout, patterns)
		}
		if err := c.fill(min(remaining, c.readTimeout)); err != nil {
			return -1, nil, err
		}
	}
}

// Send writes s as-is.
func (c *Console) Send(s string) error {
	if c.port == nil {
		return ErrClosed
	}
	if _, err := c.port.Write([]byte(s)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// SendLine writes s followed by a newline.
func (c *Console) SendLine(s string) error {
	return c.Send(s + "\n")
}

// Discard drops everything buffered locally and in the driver.
func (c *Console) Discard() error {
	c.buf = c.buf[:0]
	if c.port == nil {
		return ErrClosed
	}
	if err := c.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("reset input: %w", err)
	}
	return nil
}

// search finds the earliest occurrence of any pattern in the buffer.
func (c *Console) search(patterns []string) (idx, pos, n int) {
	idx, pos = -1, -1
	for i, p := range patterns {
		at := bytes.Index(c.buf, []byte(p))
		if at >= 0 && (pos < 0 || at < pos) {
			idx, pos, n = i, at, len(p)
		}
	}
	return idx, pos, n
}

func (c *Console) take(n int) []byte {
	out := append([]byte(nil), c.buf[:n]...)
	c.buf = append(c.buf[:0], c.buf[n:]...)
	return out
}

func (c *Console) fill(timeout time.Duration) error {
	if c.port == nil {
		return ErrClosed
	}
	if err := c.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}
	n, err := c.port.Read(c.tmp)
	if n > 0 {
		c.buf = append(c.buf, c.tmp[:n]...)
	}
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return nil
}
