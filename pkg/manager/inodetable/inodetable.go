// Package inodetable assigns and persists the manager-local inode numbers
// that make up the FileIno component of a capfs.FileKey. It is grounded on
// the teacher's backend/cache/storage_persistent.go, which keeps a bolt
// database of path -> cached-object bookkeeping that survives a restart;
// here the persisted record is a path -> inode mapping plus a monotonic
// counter, so that a manager restart does not hand out an inode number
// already promised to a live client.
package inodetable

import (
	"encoding/binary"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketPaths   = []byte("paths")
	bucketCounter = []byte("counter")
	counterKey    = []byte("next")
)

// Table is a bolt-backed path -> inode assignment table.
type Table struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the inode table at path.
func Open(path string) (*Table, error) {
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "inodetable: open %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketPaths); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketCounter)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "inodetable: init buckets")
	}
	return &Table{db: db}, nil
}

// Close releases the underlying bolt database.
func (t *Table) Close() error {
	return t.db.Close()
}

func encodeInt64(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func decodeInt64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// Lookup returns the inode assigned to relPath, if any.
func (t *Table) Lookup(relPath string) (int64, bool, error) {
	var ino int64
	var ok bool
	err := t.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketPaths).Get([]byte(relPath))
		if v == nil {
			return nil
		}
		ino = decodeInt64(v)
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, errors.Wrap(err, "inodetable: lookup")
	}
	return ino, ok, nil
}

// Assign hands out a fresh inode number for relPath and persists the
// mapping. It is idempotent: calling it again for an already-assigned path
// returns the existing inode rather than allocating a second one.
func (t *Table) Assign(relPath string) (int64, error) {
	var ino int64
	err := t.db.Update(func(tx *bolt.Tx) error {
		paths := tx.Bucket(bucketPaths)
		if v := paths.Get([]byte(relPath)); v != nil {
			ino = decodeInt64(v)
			return nil
		}
		counter := tx.Bucket(bucketCounter)
		cur := int64(0)
		if v := counter.Get(counterKey); v != nil {
			cur = decodeInt64(v)
		}
		cur++
		if err := counter.Put(counterKey, encodeInt64(cur)); err != nil {
			return err
		}
		ino = cur
		return paths.Put([]byte(relPath), encodeInt64(ino))
	})
	if err != nil {
		return 0, errors.Wrap(err, "inodetable: assign")
	}
	return ino, nil
}

// Delete forgets relPath's inode assignment (on unlink). The inode number
// itself is never reused.
func (t *Table) Delete(relPath string) error {
	err := t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPaths).Delete([]byte(relPath))
	})
	return errors.Wrap(err, "inodetable: delete")
}

// Rename moves relPath's inode assignment to newPath, preserving the
// existing inode number (spec.md §4.F rename: identity survives a rename).
func (t *Table) Rename(oldPath, newPath string) error {
	err := t.db.Update(func(tx *bolt.Tx) error {
		paths := tx.Bucket(bucketPaths)
		v := paths.Get([]byte(oldPath))
		if v == nil {
			return errors.Errorf("inodetable: no inode assigned to %s", oldPath)
		}
		ino := append([]byte(nil), v...)
		if err := paths.Delete([]byte(oldPath)); err != nil {
			return err
		}
		return paths.Put([]byte(newPath), ino)
	})
	return errors.Wrap(err, "inodetable: rename")
}
