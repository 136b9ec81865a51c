package sync

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/pairsync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Store is the durable storage for a peer's files. Each file is stored as one
// object named exactly by its name.
type Store interface {
	Write(name string, data []byte) error
	List() ([]FileEntry, error)
}

// DirStore stores files as regular files directly within a directory.
type DirStore struct {
	fs   afero.Fs
	root string

	// If quiet is set, List skips files modified within the last quiet
	// period according to clock.
	clock clockwork.Clock
	quiet time.Duration
}

// NewDirStore returns a Store rooted at `root` on the local filesystem.
func NewDirStore(root string) DirStore {
	return NewDirStoreOn(fs, root)
}

// NewDirStoreOn returns a Store rooted at `root` within `fs`.
func NewDirStoreOn(fs afero.Fs, root string) DirStore {
	return DirStore{fs: fs, root: root}
}

// Settled returns a copy of the store whose List leaves out files that were
// modified less than `quiet` ago. Such files may still be being written, and
// reading them early would index a truncated copy for good.
func (s DirStore) Settled(clock clockwork.Clock, quiet time.Duration) DirStore {
	s.clock = clock
	s.quiet = quiet
	return s
}

// Init creates the root directory if it doesn't exist yet.
func (s DirStore) Init() error {
	return s.fs.MkdirAll(s.root, 0755)
}

// Write persists `data` under `name`, creating the root directory if it
// doesn't exist yet.
func (s DirStore) Write(name string, data []byte) error {
	if err := CheckName(name); err != nil {
		return errors.StorageError{Name: name, Err: err}
	}

	rootExists, err := afero.DirExists(s.fs, s.root)
	if err != nil {
		return errors.StorageError{Name: name, Err: errors.WithContext(err, "check if root exists")}
	}

	if !rootExists {
		if err := s.fs.MkdirAll(s.root, 0755); err != nil {
			return errors.StorageError{Name: name, Err: errors.WithContext(err, "make root")}
		}
	}

	if err := afero.WriteFile(s.fs, filepath.Join(s.root, name), data, 0644); err != nil {
		return errors.StorageError{Name: name, Err: err}
	}
	return nil
}

// List reads every regular file directly within the root directory.
// Subdirectories aren't descended into. A root that doesn't exist yet holds
// no files.
func (s DirStore) List() ([]FileEntry, error) {
	rootExists, err := afero.DirExists(s.fs, s.root)
	if err != nil {
		return nil, errors.WithContext(err, "check if root exists")
	}

	if !rootExists {
		return nil, nil
	}

	infos, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, errors.WithContext(err, "read dir")
	}

	var entries []FileEntry
	for _, info := range infos {
		if info.IsDir() || !info.Mode().IsRegular() {
			continue
		}

		if err := CheckName(info.Name()); err != nil {
			log.WithField("name", info.Name()).WithError(err).Warn(
				"Skipping file that can't be synced")
			continue
		}

		if s.quiet > 0 && s.clock.Since(info.ModTime()) < s.quiet {
			log.WithField("name", info.Name()).Debug("Skipping file that's still changing")
			continue
		}

		data, err := afero.ReadFile(s.fs, filepath.Join(s.root, info.Name()))
		if err != nil {
			return nil, errors.WithContext(err, fmt.Sprintf("read %q", info.Name()))
		}
		entries = append(entries, FileEntry{Name: info.Name(), Data: data})
	}
	return entries, nil
}

// MaxNameLength is the longest name, in bytes, that fits in a container.
const MaxNameLength = 255

// CheckName rejects names that would escape the root directory, or that
// can't be represented in a container.
func CheckName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid name %q", name)
	case len(name) > MaxNameLength:
		return fmt.Errorf("name is %d bytes, longer than %d", len(name), MaxNameLength)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("name %q contains a path separator", name)
	case strings.Contains(name, NameDelimiter):
		return fmt.Errorf("name %q contains the name delimiter", name)
	}
	return nil
}

// BuildIndex creates an Index holding every file in `store`.
func BuildIndex(store Store) (*Index, error) {
	entries, err := store.List()
	if err != nil {
		return nil, errors.WithContext(err, "list")
	}

	idx := NewIndex()
	for _, f := range entries {
		idx.Put(f)
	}
	return idx, nil
}

// Refresh adds files that appeared in `store` since `idx` was built. Names
// that are already indexed are left untouched, since a file with the same
// name is assumed to have the same contents.
func Refresh(store Store, idx *Index) (added int, err error) {
	entries, err := store.List()
	if err != nil {
		return 0, errors.WithContext(err, "list")
	}

	for _, f := range entries {
		if idx.PutIfAbsent(f) {
			added++
		}
	}
	return added, nil
}
