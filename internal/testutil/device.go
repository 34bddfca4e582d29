package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/tidewatch/internal/transport"
)

// Banners and prompts printed by the fake logger. They match the defaults
// in the config package.
const (
	MainBanner = "Menu: Main Menu"
	FileBanner = "ZModem"
	ListingEnd = "End of Directory"
)

// ErrLinkDown is returned by Device reads while the link is failed.
var ErrLinkDown = errors.New("fake link down")

type deviceMode int

const (
	modeLogging deviceMode = iota
	modeMenu
	modeFiles
)

// RemoteFile is a file stored on the fake logger's card.
type RemoteFile struct {
	Name     string
	Content  string
	Modified time.Time
}

// Device is a scripted field logger behind a fake serial port. In logging
// mode it emits Stream one line at a time; a no-op keystroke opens the menu,
// after which it answers the file-transfer commands.
type Device struct {
	mu sync.Mutex

	clock *FakeClock
	trace *Trace

	// Stream holds live records not yet transmitted.
	Stream []string

	// Files is the card content, used for listings and transfers.
	Files []RemoteFile

	// Listings overrides the generated directory listing. Each "dir"
	// consumes the next entry; the last one repeats.
	Listings []string

	// IgnoreProbes makes the logger sleep through that many menu probes.
	IgnoreProbes int

	// NoFileBanner makes the file-transfer command go unanswered.
	NoFileBanner bool

	// NoExitBanner makes the logger ignore exit requests from file mode.
	NoExitBanner bool

	// FailReads makes the next n reads fail as if the link dropped.
	FailReads int

	// FailOpens makes the next n opens fail.
	FailOpens int

	mode        deviceMode
	out         []byte
	readTimeout time.Duration
	open        bool
	probes      int
	dirs        int
	requested   []string
	opens       int
	resets      int
}

// NewDevice returns a logger that emits stream lines.
func NewDevice(clk *FakeClock, trace *Trace, stream ...string) *Device {
	return &Device{clock: clk, trace: trace, Stream: stream, readTimeout: time.Second}
}

// Open implements transport.Opener.
func (d *Device) Open(ctx context.Context) (transport.Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailOpens > 0 {
		d.FailOpens--
		return nil, fmt.Errorf("%w: fake", transport.ErrDeviceMissing)
	}
	d.open = true
	d.opens++
	return d, nil
}

// Opens returns how many times the port was opened.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Close implements io.Closer.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return nil
}

// SetReadTimeout records the timeout; an empty read advances the clock by it.
func (d *Device) SetReadTimeout(t time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readTimeout = t
	return nil
}

// ResetInputBuffer drops output not yet read.
func (d *Device) ResetInputBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out = nil
	d.resets++
	return nil
}

// Resets returns how many times the input buffer was flushed.
func (d *Device) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// Read implements io.Reader.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return 0, transport.ErrClosed
	}
	if d.FailReads > 0 {
		d.FailReads--
		return 0, ErrLinkDown
	}
	if len(d.out) == 0 && d.mode == modeLogging && len(d.Stream) > 0 {
		d.out = append(d.out, d.Stream[0]...)
		d.Stream = d.Stream[1:]
	}
	if len(d.out) == 0 {
		d.clock.Advance(d.readTimeout)
		return 0, nil
	}
	n := copy(p, d.out)
	d.out = d.out[n:]
	return n, nil
}

// Write interprets one keystroke or command line.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return 0, transport.ErrClosed
	}
	d.command(strings.TrimSpace(string(p)))
	return len(p), nil
}

func (d *Device) command(cmd string) {
	switch d.mode {
	case modeLogging:
		if cmd != "" {
			return
		}
		if d.probes < d.IgnoreProbes {
			d.probes++
			return
		}
		d.mode = modeMenu
		d.trace.Addf("device: menu")
		d.emit("\r\n" + MainBanner + "\r\n s) File transfer\r\n x) Return to logging\r\n> ")
	case modeMenu:
		switch cmd {
		case "":
			d.emit(MainBanner + "\r\n> ")
		case "s":
			if d.NoFileBanner {
				return
			}
			d.mode = modeFiles
			d.trace.Addf("device: file mode")
			d.emit(FileBanner + " Menu\r\n dir) list\r\n sz) send\r\n x) exit\r\n> ")
		case "x":
			d.mode = modeLogging
			d.trace.Addf("device: logging")
			d.emit("Returning to logging\r\n")
		}
	case modeFiles:
		switch {
		case cmd == "dir":
			d.trace.Addf("device: dir")
			d.emit(d.listing() + ListingEnd + "\r\n> ")
		case strings.HasPrefix(cmd, "sz "):
			name := strings.TrimSpace(strings.TrimPrefix(cmd, "sz "))
			d.requested = append(d.requested, name)
			d.trace.Addf("device: send %s", name)
		case cmd == "x":
			if d.NoExitBanner {
				return
			}
			d.mode = modeMenu
			d.emit(MainBanner + "\r\n> ")
		}
	}
}

func (d *Device) emit(s string) {
	d.out = append(d.out, s...)
}

func (d *Device) listing() string {
	defer func() { d.dirs++ }()
	if len(d.Listings) > 0 {
		return d.Listings[min(d.dirs, len(d.Listings)-1)]
	}
	return Listing(d.Files)
}

// Requested returns the file names the logger was asked to send.
func (d *Device) Requested() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.requested...)
}

// LastRequested returns the most recent send request.
func (d *Device) LastRequested() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requested) == 0 {
		return "", false
	}
	return d.requested[len(d.requested)-1], true
}

// File returns the card file called name.
func (d *Device) File(name string) (RemoteFile, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.Files {
		if f.Name == name {
			return f, true
		}
	}
	return RemoteFile{}, false
}

// InLoggingMode reports whether the logger has left its menu.
func (d *Device) InLoggingMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode == modeLogging
}

// Listing renders files the way the logger's "dir" command does, oldest first.
func Listing(files []RemoteFile) string {
	sorted := append([]RemoteFile(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Modified.Before(sorted[j].Modified)
	})
	var b strings.Builder
	b.WriteString("dir\r\n")
	for _, f := range sorted {
		fmt.Fprintf(&b, "%s %s %d %s\r\n",
			f.Modified.Format("2006-01-02"), f.Modified.Format("15:04"), len(f.Content), f.Name)
	}
	return b.String()
}
