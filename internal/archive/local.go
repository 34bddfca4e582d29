package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
)

// ArchivePrefix starts the name of every archive directory.
const ArchivePrefix = "Archived-"

// LocalFile is a data file already downloaded.
type LocalFile struct {
	Name string
	Path string
	Size int64
}

// LocalFiles lists data files directly under dir, ascending by name.
// Archive subdirectories are not descended into. A missing dir is empty.
func LocalFiles(fs afero.Fs, dir string) ([]LocalFile, error) {
	infos, err := afero.ReadDir(fs, dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var files []LocalFile
	for _, info := range infos {
		if !info.Mode().IsRegular() || !NamePattern.MatchString(info.Name()) {
			continue
		}
		files = append(files, LocalFile{
			Name: info.Name(),
			Path: filepath.Join(dir, info.Name()),
			Size: info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Diff returns the remote entries with no local file of the same name and
// size, ascending by name.
func Diff(remote []Entry, local []LocalFile) []Entry {
	have := make(map[string]int64, len(local))
	for _, f := range local {
		have[f.Name] = f.Size
	}

	var pending []Entry
	for _, e := range remote {
		if size, ok := have[e.Name]; ok && size == e.Size {
			continue
		}
		pending = append(pending, e)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Name < pending[j].Name })
	return pending
}

// IsReset reports whether pending implies the card was replaced: the
// smallest pending name sorts before the largest local name.
func IsReset(pending []Entry, local []LocalFile) bool {
	if len(pending) == 0 || len(local) == 0 {
		return false
	}
	minPending := pending[0].Name
	for _, e := range pending[1:] {
		minPending = min(minPending, e.Name)
	}
	maxLocal := local[0].Name
	for _, f := range local[1:] {
		maxLocal = max(maxLocal, f.Name)
	}
	return minPending < maxLocal
}

// TrimBeyondNewest drops pending names greater than the name of the most
// recently modified pending entry. A logger that reopened an older file
// number can still list higher-numbered files from before; those are stale
// and must not be fetched on every cycle.
func TrimBeyondNewest(pending []Entry) []Entry {
	if len(pending) == 0 {
		return pending
	}
	newest := pending[0]
	for _, e := range pending[1:] {
		if e.Modified.After(newest.Modified) || (e.Modified.Equal(newest.Modified) && e.Name > newest.Name) {
			newest = e
		}
	}
	var out []Entry
	for _, e := range pending {
		if e.Name <= newest.Name {
			out = append(out, e)
		}
	}
	return out
}

// ArchiveAll moves every regular file directly under dir into a new
// Archived-<YYYYMMDDHHMMSS> subdirectory and returns its path.
func ArchiveAll(fs afero.Fs, dir string, now time.Time) (string, error) {
	dst := filepath.Join(dir, ArchivePrefix+now.Format("20060102150405"))
	if err := fs.MkdirAll(dst, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", dir, err)
	}
	for _, info := range infos {
		if !info.Mode().IsRegular() {
			continue
		}
		src := filepath.Join(dir, info.Name())
		if err := fs.Rename(src, filepath.Join(dst, info.Name())); err != nil {
			return "", fmt.Errorf("archive %s: %w", info.Name(), err)
		}
	}
	return dst, nil
}
