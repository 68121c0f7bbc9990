package ops

import (
	"context"
	"time"

	"github.com/mnv104/capfs-sub000/internal/capfserr"
	"github.com/mnv104/capfs-sub000/internal/logx"
	"github.com/mnv104/capfs-sub000/pkg/capfs"
)

// GetHashes implements spec.md §4.F gethashes(): acquire the per-file reader
// lock, read the metadata and the requested recipe slice, and (if the
// caller declared it wants coherence) register it as a callback target.
func (e *Engine) GetHashes(ctx context.Context, key capfs.FileKey, relPath string, begin, count int64, cbID uint32, wantCoherence bool) (capfs.Recipe, int64, error) {
	var recipe capfs.Recipe
	var size int64
	err := e.recipes.WithReadLock(key, func() error {
		r, err := e.recipes.ReadSlice(relPath, begin, count)
		if err != nil {
			return err
		}
		recipe = r
		state, err := e.recipes.ReadState(relPath)
		if err != nil {
			return err
		}
		size = state.Size
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if wantCoherence {
		e.callbacks.Add(key, relPath, cbID)
	}
	return recipe, size, nil
}

// WCommitFlags is the subset of the decoded consistency policy that affects
// wcommit's compare-and-swap behavior (spec.md §4.F wcommit).
type WCommitFlags struct {
	ForceCommit bool
}

// WCommit implements spec.md §4.F wcommit(): the core compare-and-swap.
// Under the file's writer lock, it compares the current recipe slice
// against oldHashes (unless ForceCommit), writes newHashes and the grown
// size on a match, and snapshots the callback bitmap before releasing the
// lock. Callback dispatch happens after the lock is released (spec.md §5
// O4). On a CAS mismatch it returns capfserr.ErrAgain together with the
// current slice, per spec.md §7 and §8 property 5.
func (e *Engine) WCommit(ctx context.Context, key capfs.FileKey, relPath string, begin int64, oldHashes, newHashes capfs.Recipe, writeSize int64, flags WCommitFlags, committer uint32) (capfs.Recipe, error) {
	var bitmap uint64
	var preLen int64
	var current capfs.Recipe
	var dispatchNeeded bool

	err := e.recipes.WithWriteLock(key, func() error {
		cur, err := e.recipes.ReadSlice(relPath, begin, int64(len(newHashes)))
		if err != nil {
			return err
		}
		// cur is zero-padded past the end of the recipe; only entries that
		// already exist count toward the pre-image length used by dispatch.
		n, err := e.recipes.Len(relPath)
		if err != nil {
			return err
		}
		preLen = n - begin
		if preLen < 0 {
			preLen = 0
		} else if preLen > int64(len(newHashes)) {
			preLen = int64(len(newHashes))
		}

		// Entries missing from the end of oldHashes read as ZeroHash, as in cur.
		if !flags.ForceCommit && (len(oldHashes) > len(newHashes) || !cur.Equal(oldHashes.Slice(0, int64(len(newHashes))))) {
			current = cur
			return capfserr.ErrAgain
		}

		if err := e.recipes.CommitSlice(relPath, begin, newHashes); err != nil {
			return err
		}

		state, err := e.recipes.ReadState(relPath)
		if err != nil {
			return err
		}
		if writeSize > state.Size {
			state.Size = writeSize
		}
		now := time.Now()
		state.Mtime = now
		state.Atime = now
		if err := e.recipes.WriteState(relPath, state); err != nil {
			return err
		}

		bitmap = e.callbacks.Snapshot(key)
		current = newHashes
		dispatchNeeded = true
		return nil
	})

	if err != nil {
		if err == capfserr.ErrAgain {
			if e.metrics != nil {
				e.metrics.WCommitConflict.Inc()
			}
			return current, capfserr.ErrAgain
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.WCommitOK.Inc()
	}
	if dispatchNeeded {
		e.dispatch.Commit(ctx, key, bitmap, committer, preLen, begin, newHashes)
	}
	return current, nil
}

// Truncate implements spec.md §4.F truncate(): update size under the writer
// lock, shrink the hashes file only if the new chunk count is smaller, and
// invalidate the destroyed tail range on every other sharer.
func (e *Engine) Truncate(ctx context.Context, key capfs.FileKey, relPath string, newSize int64, committer uint32) error {
	var bitmap uint64
	var oldN, newN int64

	err := e.recipes.WithWriteLock(key, func() error {
		state, err := e.recipes.ReadState(relPath)
		if err != nil {
			return err
		}
		oldN, err = e.recipes.Len(relPath)
		if err != nil {
			return err
		}
		state.Size = newSize
		state.Ctime = time.Now()
		if err := e.recipes.WriteState(relPath, state); err != nil {
			return err
		}
		newN = capfs.NumChunks(newSize)
		if newN < oldN {
			if err := e.recipes.TruncateHashes(relPath, newN); err != nil {
				return err
			}
		}
		bitmap = e.callbacks.Snapshot(key)
		return nil
	})
	if err != nil {
		return err
	}
	e.dispatch.Truncate(ctx, key, bitmap, committer, newN, oldN)
	return nil
}

// Unlink implements spec.md §4.F unlink(): if the file is currently open,
// mark it unlinked-pending and defer the actual removal to the last close;
// otherwise remove it immediately.
func (e *Engine) Unlink(ctx context.Context, relPath string, committer uint32) error {
	ino, existed, err := e.inodes.Lookup(relPath)
	if err != nil {
		return err
	}
	if !existed {
		return capfserr.ErrNotExist
	}
	key := e.keyFor(ino)

	if of, ok := e.getOpenFile(key); ok {
		of.mu.Lock()
		of.unlinkedPending = true
		of.mu.Unlock()
		return nil
	}
	return e.finalizeUnlink(ctx, key, relPath, committer)
}

// finalizeUnlink actually removes a file's metadata/hashes pair and
// broadcasts a whole-file clear to every registered callback other than the
// committer's (spec.md §4.F
// unlink, §8 property 9: a subsequent gethashes on this file can never
// again return a non-empty recipe).
func (e *Engine) finalizeUnlink(ctx context.Context, key capfs.FileKey, relPath string, committer uint32) error {
	if err := e.recipes.Remove(key, relPath); err != nil && err != capfserr.ErrNotExist {
		return err
	}
	if err := e.inodes.Delete(relPath); err != nil {
		logx.Errorf(key, "finalizeUnlink: inode table delete: %v", err)
	}
	bitmap := e.callbacks.Clear(key)
	if bitmap != 0 {
		e.dispatch.Unlink(ctx, key, bitmap, committer)
	}
	if e.cfg.LegacyUnlink {
		// Legacy mode only logs that a chunk-removal notification is owed;
		// no request is sent to the data servers. Content-addressed mode
		// (the default) leaves dead chunks for an external collector to
		// sweep (spec.md §4.F).
		logx.Infof(key, "legacy-mode unlink notification owed to data servers for %s", relPath)
	}
	return nil
}

// Rename implements spec.md §4.F rename(): unlink the destination if it
// exists, then move both the metadata and hashes files, then the inode
// table entry, preserving FileKey identity across the rename.
func (e *Engine) Rename(ctx context.Context, oldPath, newPath string, committer uint32) error {
	if _, existed, err := e.inodes.Lookup(newPath); err != nil {
		return err
	} else if existed {
		if err := e.Unlink(ctx, newPath, committer); err != nil && err != capfserr.ErrNotExist {
			return err
		}
	}
	if err := e.recipes.Rename(oldPath, newPath); err != nil {
		return err
	}
	return e.inodes.Rename(oldPath, newPath)
}
