// Package ops implements the manager's metadata operation engine (spec.md
// §4.F): the per-file state machine (absent -> present(closed) ->
// present(open) -> present(closed|unlinked-pending) -> absent) and the
// open/close/gethashes/wcommit/truncate/unlink/rename/setattr family of
// operations, built on top of the recipe store (D) and callback registry (E).
//
// It is grounded on the teacher's singleton-with-mutex coordinator pattern
// in backend/cache/handle.go (a map of live per-key state guarded by one
// lock, with lazily created per-key sub-structures) generalized from "one
// handle per cached object" to "one open-file record per FileKey".
package ops

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/mnv104/capfs-sub000/internal/capfserr"
	"github.com/mnv104/capfs-sub000/internal/config"
	"github.com/mnv104/capfs-sub000/internal/logx"
	"github.com/mnv104/capfs-sub000/internal/metrics"
	"github.com/mnv104/capfs-sub000/pkg/capfs"
	"github.com/mnv104/capfs-sub000/pkg/manager/callback"
	"github.com/mnv104/capfs-sub000/pkg/manager/inodetable"
	"github.com/mnv104/capfs-sub000/pkg/manager/recipestore"
	"github.com/mnv104/capfs-sub000/pkg/policy"
)

// fsIno identifies the single local filesystem export a manager instance
// serves (spec.md Non-goals excludes replication/multi-manager federation,
// so one manager always reports the same fs-inode component).
const fsIno int64 = 1

// OpenFlags carries the open(2)-shaped arguments of spec.md §4.F open().
type OpenFlags struct {
	Create bool
	Excl   bool
	Mode   uint32
	UID    uint32
	GID    uint32
}

// OpenResult is what open() hands back to the caller: the file's identity,
// its current metadata, and (if the policy requested prefetch) the opening
// recipe slice bounded by capfs.MaxHashes.
type OpenResult struct {
	Key    capfs.FileKey
	State  recipestore.FileState
	Recipe capfs.Recipe
}

type openFile struct {
	mu              sync.Mutex
	relPath         string
	refcount        int
	unlinkedPending bool
	cbIDs           map[uint32]bool
}

// Engine is the manager's metadata op engine; one instance per manager
// process (spec.md §9 "wrap singletons in an explicit ServerContext").
type Engine struct {
	cfg       config.Config
	recipes   *recipestore.Store
	callbacks *callback.Registry
	dispatch  *callback.Dispatcher
	inodes    *inodetable.Table

	mu        sync.Mutex
	openFiles map[capfs.FileKey]*openFile
	rrCounter uint64

	metrics *metrics.Manager // nil if the caller did not wire metrics
}

// NewEngine wires together the recipe store, callback registry/dispatcher
// and inode table into a metadata op engine.
func NewEngine(cfg config.Config, recipes *recipestore.Store, callbacks *callback.Registry, dispatch *callback.Dispatcher, inodes *inodetable.Table) *Engine {
	return &Engine{
		cfg:       cfg,
		recipes:   recipes,
		callbacks: callbacks,
		dispatch:  dispatch,
		inodes:    inodes,
		openFiles: make(map[capfs.FileKey]*openFile),
	}
}

// SetMetrics attaches a counter set the engine increments as it serves
// wcommit traffic. Optional: an engine with no attached metrics simply
// skips the increments.
func (e *Engine) SetMetrics(m *metrics.Manager) {
	e.metrics = m
}

func (e *Engine) keyFor(ino int64) capfs.FileKey {
	return capfs.FileKey{ManagerID: e.cfg.ManagerID, FsIno: fsIno, FileIno: ino}
}

// chooseBase picks the first data server index in a new file's stripe,
// either round-robin or randomly per the deployment's BaseSelection flag
// (spec.md §4.F open()).
func (e *Engine) chooseBase(pcount int) int {
	if pcount <= 0 {
		return 0
	}
	if e.cfg.BaseSelection == config.BaseRandom {
		return rand.Intn(pcount)
	}
	n := atomic.AddUint64(&e.rrCounter, 1)
	return int(n % uint64(pcount))
}

func (e *Engine) computeStriping(pcount int) recipestore.Striping {
	if pcount <= 0 {
		pcount = 1
	}
	return recipestore.Striping{
		Base:   e.chooseBase(pcount),
		PCount: pcount,
		SSize:  e.cfg.StripeSize,
	}
}

func (e *Engine) getOrCreateOpenFile(key capfs.FileKey, relPath string) *openFile {
	e.mu.Lock()
	defer e.mu.Unlock()
	of, ok := e.openFiles[key]
	if !ok {
		of = &openFile{relPath: relPath, cbIDs: make(map[uint32]bool)}
		e.openFiles[key] = of
	}
	return of
}

func (e *Engine) getOpenFile(key capfs.FileKey) (*openFile, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	of, ok := e.openFiles[key]
	return of, ok
}

func (e *Engine) removeOpenFile(key capfs.FileKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.openFiles, key)
}

// RelPathOf returns the path an already-open FileKey was opened under, so
// that path-addressed RPCs (gethashes/wcommit/truncate) can be served from
// just the key the client holds, without trusting a client-supplied path.
func (e *Engine) RelPathOf(key capfs.FileKey) (string, error) {
	of, ok := e.getOpenFile(key)
	if !ok {
		return "", capfserr.ErrNotExist
	}
	of.mu.Lock()
	defer of.mu.Unlock()
	return of.relPath, nil
}

// Open implements spec.md §4.F open(): resolve or create relPath, compute
// striping for a newly created file, bump the open-file table's refcount,
// register the callback ID if the decoded policy desires coherence, and
// optionally return a prefetch recipe slice.
func (e *Engine) Open(ctx context.Context, relPath string, flags OpenFlags, pol policy.Name, cbID uint32, dataServerCount int) (OpenResult, error) {
	pflags, err := policy.Decode(pol)
	if err != nil {
		return OpenResult{}, errors.Wrap(err, "ops: open")
	}

	ino, existed, err := e.inodes.Lookup(relPath)
	if err != nil {
		return OpenResult{}, err
	}
	created := false
	if !existed {
		if !flags.Create {
			return OpenResult{}, capfserr.ErrNotExist
		}
		ino, err = e.inodes.Assign(relPath)
		if err != nil {
			return OpenResult{}, err
		}
		now := time.Now()
		state := recipestore.FileState{
			Mode:     flags.Mode,
			UID:      flags.UID,
			GID:      flags.GID,
			Atime:    now,
			Mtime:    now,
			Ctime:    now,
			Striping: e.computeStriping(dataServerCount),
		}
		if err := e.recipes.Create(relPath, state); err != nil {
			e.inodes.Delete(relPath)
			return OpenResult{}, err
		}
		created = true
	} else if flags.Create && flags.Excl {
		return OpenResult{}, capfserr.ErrExist
	}

	key := e.keyFor(ino)
	of := e.getOrCreateOpenFile(key, relPath)
	of.mu.Lock()
	of.refcount++
	of.mu.Unlock()

	rollback := func(err error) (OpenResult, error) {
		of.mu.Lock()
		of.refcount--
		empty := of.refcount == 0
		of.mu.Unlock()
		if empty {
			e.removeOpenFile(key)
		}
		if created {
			e.recipes.Remove(key, relPath)
			e.inodes.Delete(relPath)
		}
		return OpenResult{}, err
	}

	state, err := e.recipes.ReadState(relPath)
	if err != nil {
		return rollback(err)
	}

	if pflags.DesireCoherence {
		e.callbacks.Add(key, relPath, cbID)
		of.mu.Lock()
		of.cbIDs[cbID] = true
		of.mu.Unlock()
	}

	var recipe capfs.Recipe
	if pflags.PrefetchOnOpen {
		n, err := e.recipes.Len(relPath)
		if err == nil {
			count := n
			if count > capfs.MaxHashes {
				count = capfs.MaxHashes
			}
			recipe, _ = e.recipes.ReadSlice(relPath, 0, count)
		}
	}

	return OpenResult{Key: key, State: state, Recipe: recipe}, nil
}

// Close implements spec.md §4.F close(): decrement refcount and de-register
// the caller's callback ID; on reaching zero, stamp the final
// mtime/ctime/atime and, if the file was unlinked-pending, finalize the
// deletion.
func (e *Engine) Close(ctx context.Context, key capfs.FileKey, cbID uint32, committer uint32, atime, mtime, ctime time.Time) error {
	of, ok := e.getOpenFile(key)
	if !ok {
		return capfserr.ErrNotExist
	}

	of.mu.Lock()
	of.refcount--
	remaining := of.refcount
	hadCB := of.cbIDs[cbID]
	delete(of.cbIDs, cbID)
	unlinked := of.unlinkedPending
	relPath := of.relPath
	of.mu.Unlock()

	if hadCB {
		e.callbacks.Del(key, cbID)
	}

	if remaining > 0 {
		return nil
	}

	if err := e.recipes.WithWriteLock(key, func() error {
		state, err := e.recipes.ReadState(relPath)
		if err != nil {
			return err
		}
		if !atime.IsZero() {
			state.Atime = atime
		}
		if !mtime.IsZero() {
			state.Mtime = mtime
		}
		state.Ctime = ctime
		return e.recipes.WriteState(relPath, state)
	}); err != nil && err != capfserr.ErrNotExist {
		logx.Errorf(key, "close: stamping final times failed: %v", err)
	}

	e.removeOpenFile(key)
	if unlinked {
		return e.finalizeUnlink(ctx, key, relPath, committer)
	}
	return nil
}
