package reconcile

import (
	"time"

	"github.com/spf13/afero"

	"github.com/roach88/tidewatch/internal/archive"
	"github.com/roach88/tidewatch/internal/logbook"
)

// Source names the files a pass replays, in replay order.
type Source interface {
	// Name labels the source in logs and metrics.
	Name() string

	// Files returns the paths to replay for a pass starting at since.
	Files(since time.Time) ([]string, error)
}

// Source names.
const (
	SourceLocalLog    = "local_log"
	SourceRemoteFiles = "remote_files"
)

// LocalLog replays daily log files from the anchor's day forward.
type LocalLog struct {
	Book *logbook.Book
}

// Name implements Source.
func (LocalLog) Name() string { return SourceLocalLog }

// Files implements Source.
func (l LocalLog) Files(since time.Time) ([]string, error) {
	files, err := l.Book.FilesFrom(since)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return paths, nil
}

// RemoteFiles replays every downloaded card file in a directory, ascending
// by name. Card files are not dated, so all of them are read and the
// anchor does the filtering.
type RemoteFiles struct {
	Fs  afero.Fs
	Dir string
}

// Name implements Source.
func (RemoteFiles) Name() string { return SourceRemoteFiles }

// Files implements Source.
func (r RemoteFiles) Files(time.Time) ([]string, error) {
	files, err := archive.LocalFiles(r.Fs, r.Dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return paths, nil
}
