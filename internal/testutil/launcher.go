package testutil

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// Launcher stands in for the external transfer program. Each run writes
// the file most recently requested from the Device into Dir on Fs.
type Launcher struct {
	mu sync.Mutex

	Device *Device
	Fs     afero.Fs
	Dir    string
	Trace  *Trace

	// ExitCodes is consumed one per run; runs past the end exit 0.
	ExitCodes []int

	commands []string
}

// Run implements the launcher contract.
func (l *Launcher) Run(ctx context.Context, command string) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	code := 0
	if n := len(l.commands); n < len(l.ExitCodes) {
		code = l.ExitCodes[n]
	}
	l.commands = append(l.commands, command)

	name, ok := l.Device.LastRequested()
	if !ok {
		l.Trace.Addf("transfer: nothing requested")
		return 1, nil
	}
	if code != 0 {
		l.Trace.Addf("transfer: %s failed (%d)", name, code)
		return code, nil
	}
	f, ok := l.Device.File(name)
	if !ok {
		l.Trace.Addf("transfer: %s missing on card", name)
		return 1, nil
	}
	if err := l.Fs.MkdirAll(l.Dir, 0o755); err != nil {
		return -1, err
	}
	if err := afero.WriteFile(l.Fs, filepath.Join(l.Dir, name), []byte(f.Content), 0o644); err != nil {
		return -1, err
	}
	l.Trace.Addf("transfer: %s", name)
	return 0, nil
}

// Commands returns every command line run so far.
func (l *Launcher) Commands() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.commands...)
}
