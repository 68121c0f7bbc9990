// Package recipestore implements the manager's per-file recipe storage
// (spec.md §4.D): two sibling files per CAPFS file on local disk — a
// metadata file (size, mode, uids, gids, times, striping parameters) and a
// hashes file (binary concatenation of HASHLEN-byte entries) — guarded by a
// per-file reader/writer lock keyed by file inode.
//
// It is grounded on the teacher's backend/cache/storage_persistent.go, which
// keeps a similar two-tier (small metadata record + larger chunk payload)
// layout on local disk, and backend/local/local.go's direct os.* file idioms
// for the actual reads/writes.
package recipestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mnv104/capfs-sub000/internal/capfserr"
	"github.com/mnv104/capfs-sub000/pkg/capfs"
)

// Striping describes how a file's chunks are distributed across data
// servers (spec.md §4.F open()).
type Striping struct {
	Base   int   `json:"base"`   // index of the first data server in the stripe
	PCount int   `json:"pcount"` // number of data servers participating
	SSize  int64 `json:"ssize"`  // stripe unit size in bytes
}

// FileState is the manager's metadata record for one CAPFS file — the
// "metadata file" of spec.md §4.D.
type FileState struct {
	Size            int64       `json:"size"`
	Mode            uint32      `json:"mode"`
	UID             uint32      `json:"uid"`
	GID             uint32      `json:"gid"`
	Atime           time.Time   `json:"atime"`
	Mtime           time.Time   `json:"mtime"`
	Ctime           time.Time   `json:"ctime"`
	Striping        Striping    `json:"striping"`
	UnlinkedPending bool        `json:"unlinked_pending"`
}

// Store manages the metadata+hashes file pairs under root and the per-inode
// readers/writer locks protecting them.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[capfs.FileKey]*sync.RWMutex
}

// New returns a Store rooted at root (the manager's metadata directory).
func New(root string) *Store {
	return &Store{root: root, locks: make(map[capfs.FileKey]*sync.RWMutex)}
}

// Root returns the directory the store is rooted at, for collaborators
// (directory operations, fsck) that need to address the tree directly.
func (s *Store) Root() string { return s.root }

func (s *Store) lockFor(key capfs.FileKey) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[key] = l
	}
	return l
}

// dropLock removes a file's lock entry once it is known the file no longer
// exists (after a successful Remove), so the lock map does not grow without
// bound across the lifetime of the manager.
func (s *Store) dropLock(key capfs.FileKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
}

func (s *Store) metaPath(relPath string) string  { return filepath.Join(s.root, relPath) }
func (s *Store) hashPath(relPath string) string   { return filepath.Join(s.root, relPath+".hashes") }

// WithReadLock runs fn holding the file's reader lock — the lock scope used
// by gethashes (spec.md §4.D).
func (s *Store) WithReadLock(key capfs.FileKey, fn func() error) error {
	l := s.lockFor(key)
	l.RLock()
	defer l.RUnlock()
	return fn()
}

// WithWriteLock runs fn holding the file's writer lock — the lock scope used
// by wcommit, truncate and unlink (spec.md §4.D). Callers must not dispatch
// callback RPCs from within fn: those happen after the lock is released
// (spec.md §5, O4).
func (s *Store) WithWriteLock(key capfs.FileKey, fn func() error) error {
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// Create makes a new metadata file (and an empty hashes file) at relPath.
// It fails with ErrExist if the metadata file already exists.
func (s *Store) Create(relPath string, state FileState) error {
	metaPath := s.metaPath(relPath)
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return errors.Wrapf(err, "recipestore: mkdir parent of %s", relPath)
	}
	f, err := os.OpenFile(metaPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return capfserr.ErrExist
		}
		return errors.Wrapf(err, "recipestore: create %s", relPath)
	}
	defer f.Close()
	if err := writeState(f, state); err != nil {
		os.Remove(metaPath)
		return err
	}
	hf, err := os.OpenFile(s.hashPath(relPath), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		os.Remove(metaPath)
		return errors.Wrapf(err, "recipestore: create hashes file for %s", relPath)
	}
	return hf.Close()
}

func writeState(f *os.File, state FileState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "recipestore: marshal metadata")
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return errors.Wrap(err, "recipestore: write metadata")
	}
	return nil
}

// ReadState reads the metadata file for relPath.
func (s *Store) ReadState(relPath string) (FileState, error) {
	data, err := os.ReadFile(s.metaPath(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return FileState{}, capfserr.ErrNotExist
		}
		return FileState{}, errors.Wrapf(err, "recipestore: read metadata %s", relPath)
	}
	var state FileState
	if err := json.Unmarshal(data, &state); err != nil {
		return FileState{}, errors.Wrapf(err, "recipestore: decode metadata %s", relPath)
	}
	return state, nil
}

// WriteState overwrites the metadata file for relPath. Callers hold the
// file's lock (read or write, depending on which field changed) while
// calling this.
func (s *Store) WriteState(relPath string, state FileState) error {
	f, err := os.OpenFile(s.metaPath(relPath), os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return capfserr.ErrNotExist
		}
		return errors.Wrapf(err, "recipestore: open metadata %s", relPath)
	}
	defer f.Close()
	return writeState(f, state)
}

// ReadSlice reads the recipe slice [begin, begin+count) from the hashes
// file, zero-filling any index at or beyond the current recipe length
// (spec.md §9 open question 1: absence reads as all-zero-hash).
func (s *Store) ReadSlice(relPath string, begin, count int64) (capfs.Recipe, error) {
	data, err := os.ReadFile(s.hashPath(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, capfserr.ErrNotExist
		}
		return nil, errors.Wrapf(err, "recipestore: read hashes %s", relPath)
	}
	current := capfs.RecipeFromBinary(data)
	return current.Slice(begin, count), nil
}

// Len returns the number of defined recipe entries currently on disk.
func (s *Store) Len(relPath string) (int64, error) {
	fi, err := os.Stat(s.hashPath(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, capfserr.ErrNotExist
		}
		return 0, errors.Wrapf(err, "recipestore: stat hashes %s", relPath)
	}
	return fi.Size() / capfs.HashLen, nil
}

// CommitSlice writes newHashes at chunk offset begin in the hashes file,
// growing the file if begin+len(newHashes) extends past its current length
// (spec.md §4.D, §4.F wcommit). Caller holds the file's writer lock.
func (s *Store) CommitSlice(relPath string, begin int64, newHashes capfs.Recipe) error {
	f, err := os.OpenFile(s.hashPath(relPath), os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return capfserr.ErrNotExist
		}
		return errors.Wrapf(err, "recipestore: open hashes %s", relPath)
	}
	defer f.Close()
	_, err = f.WriteAt(newHashes.MarshalBinary(), begin*capfs.HashLen)
	if err != nil {
		return errors.Wrapf(err, "recipestore: write hashes %s", relPath)
	}
	return nil
}

// TruncateHashes truncates the hashes file so it holds exactly newN entries
// (spec.md §4.F truncate, invariant I3). Caller holds the file's writer lock.
func (s *Store) TruncateHashes(relPath string, newN int64) error {
	path := s.hashPath(relPath)
	if err := os.Truncate(path, newN*capfs.HashLen); err != nil {
		if os.IsNotExist(err) {
			return capfserr.ErrNotExist
		}
		return errors.Wrapf(err, "recipestore: truncate hashes %s", relPath)
	}
	return nil
}

// Remove deletes both the metadata and hashes files for relPath and drops
// its lock entry (spec.md §4.F unlink, close-of-unlinked-pending).
func (s *Store) Remove(key capfs.FileKey, relPath string) error {
	defer s.dropLock(key)
	herr := os.Remove(s.hashPath(relPath))
	merr := os.Remove(s.metaPath(relPath))
	if merr != nil && !os.IsNotExist(merr) {
		return errors.Wrapf(merr, "recipestore: remove metadata %s", relPath)
	}
	if herr != nil && !os.IsNotExist(herr) {
		return errors.Wrapf(herr, "recipestore: remove hashes %s", relPath)
	}
	return nil
}

// Rename moves both files for a CAPFS entry from oldPath to newPath. It
// performs two renames; if the second fails, it restores the first
// (spec.md §4.F rename).
func (s *Store) Rename(oldPath, newPath string) error {
	oldMeta, newMeta := s.metaPath(oldPath), s.metaPath(newPath)
	oldHash, newHash := s.hashPath(oldPath), s.hashPath(newPath)
	if err := os.MkdirAll(filepath.Dir(newMeta), 0o755); err != nil {
		return errors.Wrap(err, "recipestore: mkdir parent of rename target")
	}
	if err := os.Rename(oldMeta, newMeta); err != nil {
		return errors.Wrap(err, "recipestore: rename metadata")
	}
	if err := os.Rename(oldHash, newHash); err != nil {
		// restore the first rename so the pair stays consistent
		_ = os.Rename(newMeta, oldMeta)
		return errors.Wrap(err, "recipestore: rename hashes")
	}
	return nil
}

// Exists reports whether a metadata file is present at relPath.
func (s *Store) Exists(relPath string) bool {
	_, err := os.Stat(s.metaPath(relPath))
	return err == nil
}
