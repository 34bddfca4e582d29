// Package logbook keeps the local durable log: one append-only text file per
// calendar day holding every accepted record verbatim. It is the fast catch-up
// source when publishing to the store fails while the link stays up.
package logbook

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const nameLayout = "20060102"

var namePattern = regexp.MustCompile(`^(\d{8})\.txt$`)

// File is one day's log.
type File struct {
	Date time.Time
	Path string
}

// Book is the set of daily log files under one directory.
type Book struct {
	fs  afero.Fs
	dir string
}

// New returns a Book rooted at dir on fs.
func New(fs afero.Fs, dir string) *Book {
	return &Book{fs: fs, dir: dir}
}

// Dir returns the directory holding the daily files.
func (b *Book) Dir() string {
	return b.dir
}

// FileName returns the base name of the log file for date.
func FileName(date time.Time) string {
	return date.Format(nameLayout) + ".txt"
}

// Append writes raw to the file for date, creating it if needed. The file is
// opened, written, synced and closed on every call so a crash loses at most
// the record being written.
func (b *Book) Append(raw string, date time.Time) error {
	if err := b.fs.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if !strings.HasSuffix(raw, "\n") {
		raw += "\n"
	}

	path := filepath.Join(b.dir, FileName(date))
	f, err := b.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log %s: %w", path, err)
	}
	if _, err := f.WriteString(raw); err != nil {
		f.Close()
		return fmt.Errorf("append log %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync log %s: %w", path, err)
	}
	return f.Close()
}

// FilesFrom returns the daily files dated on or after from's calendar day,
// ascending by date. Day boundaries are taken in from's location.
func (b *Book) FilesFrom(from time.Time) ([]File, error) {
	entries, err := afero.ReadDir(b.fs, b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list log dir: %w", err)
	}

	y, m, d := from.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, from.Location())

	var files []File
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		match := namePattern.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		date, err := time.ParseInLocation(nameLayout, match[1], from.Location())
		if err != nil {
			continue
		}
		if date.Before(start) {
			continue
		}
		files = append(files, File{Date: date, Path: filepath.Join(b.dir, e.Name())})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Date.Before(files[j].Date)
	})
	return files, nil
}
