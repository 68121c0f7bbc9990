package ops

import (
	"context"
	"time"

	"github.com/mnv104/capfs-sub000/internal/capfserr"
	"github.com/mnv104/capfs-sub000/pkg/capfs"
	"github.com/mnv104/capfs-sub000/pkg/manager/recipestore"
)

// resolve looks up the FileKey currently assigned to relPath.
func (e *Engine) resolve(relPath string) (capfs.FileKey, error) {
	ino, existed, err := e.inodes.Lookup(relPath)
	if err != nil {
		return capfs.FileKey{}, err
	}
	if !existed {
		return capfs.FileKey{}, capfserr.ErrNotExist
	}
	return e.keyFor(ino), nil
}

// Lookup implements spec.md §6 lookup: resolve a path to its FileKey.
func (e *Engine) Lookup(ctx context.Context, relPath string) (capfs.FileKey, error) {
	return e.resolve(relPath)
}

// Stat implements spec.md §6 stat/lstat/getattr: read a file's metadata
// record under its reader lock.
func (e *Engine) Stat(ctx context.Context, relPath string) (recipestore.FileState, error) {
	key, err := e.resolve(relPath)
	if err != nil {
		return recipestore.FileState{}, err
	}
	var state recipestore.FileState
	err = e.recipes.WithReadLock(key, func() error {
		s, err := e.recipes.ReadState(relPath)
		if err != nil {
			return err
		}
		state = s
		return nil
	})
	return state, err
}

// checkAccess implements the "permissions computed against the metadata
// file mode/uid/gid with a root-always-wins rule" contract of spec.md §4.F.
func checkAccess(state recipestore.FileState, uid, gid uint32, want uint32) error {
	if uid == 0 {
		return nil
	}
	var bits uint32
	switch {
	case uid == state.UID:
		bits = (state.Mode >> 6) & 0o7
	case gid == state.GID:
		bits = (state.Mode >> 3) & 0o7
	default:
		bits = state.Mode & 0o7
	}
	if bits&want != want {
		return capfserr.ErrPermission
	}
	return nil
}

// Access implements spec.md §6 access: check a requested rwx mode against
// the file's mode/uid/gid.
func (e *Engine) Access(ctx context.Context, relPath string, uid, gid, want uint32) error {
	state, err := e.Stat(ctx, relPath)
	if err != nil {
		return err
	}
	return checkAccess(state, uid, gid, want)
}

func (e *Engine) setattr(relPath string, mutate func(*recipestore.FileState)) error {
	key, err := e.resolve(relPath)
	if err != nil {
		return err
	}
	return e.recipes.WithWriteLock(key, func() error {
		state, err := e.recipes.ReadState(relPath)
		if err != nil {
			return err
		}
		// Bump ctime before mutate so an explicit Ctime stamp is kept.
		state.Ctime = time.Now()
		mutate(&state)
		return e.recipes.WriteState(relPath, state)
	})
}

// Chmod and Fchmod both implement spec.md §6 chmod/fchmod: the op engine
// does not distinguish path-addressed from handle-addressed setattr once
// the caller has resolved a FileKey, so Fchmod is Chmod keyed by the
// already-open relPath.
func (e *Engine) Chmod(ctx context.Context, relPath string, mode uint32) error {
	return e.setattr(relPath, func(s *recipestore.FileState) { s.Mode = mode })
}

// Fchmod is Chmod addressed by an already-open handle's path.
func (e *Engine) Fchmod(ctx context.Context, relPath string, mode uint32) error {
	return e.Chmod(ctx, relPath, mode)
}

// Chown implements spec.md §6 chown; -1 leaves a field unchanged, matching
// POSIX chown(2) semantics for uid/gid of -1.
func (e *Engine) Chown(ctx context.Context, relPath string, uid, gid int64) error {
	return e.setattr(relPath, func(s *recipestore.FileState) {
		if uid >= 0 {
			s.UID = uint32(uid)
		}
		if gid >= 0 {
			s.GID = uint32(gid)
		}
	})
}

// Fchown is Chown addressed by an already-open handle's path.
func (e *Engine) Fchown(ctx context.Context, relPath string, uid, gid int64) error {
	return e.Chown(ctx, relPath, uid, gid)
}

// Utime implements spec.md §6 utime: stamp atime/mtime explicitly (a zero
// value leaves the corresponding field unchanged).
func (e *Engine) Utime(ctx context.Context, relPath string, atime, mtime time.Time) error {
	return e.setattr(relPath, func(s *recipestore.FileState) {
		if !atime.IsZero() {
			s.Atime = atime
		}
		if !mtime.IsZero() {
			s.Mtime = mtime
		}
	})
}

// Ctime implements spec.md §6 ctime: an explicit ctime stamp, distinct from
// the implicit ctime bump every setattr already performs.
func (e *Engine) Ctime(ctx context.Context, relPath string, ctime time.Time) error {
	return e.setattr(relPath, func(s *recipestore.FileState) {
		if !ctime.IsZero() {
			s.Ctime = ctime
		}
	})
}
