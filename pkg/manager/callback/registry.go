// Package callback implements the manager's callback registry (spec.md
// §4.E): a per-file bitmap of registered client callback IDs, sharded by
// FileKey, with ref-counted entries and a wait-queue for safe teardown. It
// is grounded on the teacher's sharded/ref-counted caching idioms in
// backend/cache/handle.go (the uploaderMap/boltMap singleton-with-mutex
// pattern) generalized from "one entry per Fs" to "one entry per file with
// explicit ref-counted lifetime," which the cache backend does not need but
// original_source/meta-server/mgr_callback.c does (cb_fix/cb_nwaiters).
package callback

import (
	"sync"

	"github.com/mnv104/capfs-sub000/pkg/capfs"
)

// entry is one file's callback bookkeeping: which callback IDs may have
// cached a slice of its recipe, plus the ref-count/wait-queue machinery that
// lets a thread safely destroy the entry only once nobody else holds it.
type entry struct {
	mu      sync.Mutex
	bitmap  uint64
	fname   string
	refs    int
	destroy bool
	done    chan struct{} // closed when refs reaches 0 while destroy is set
}

func newEntry(fname string) *entry {
	return &entry{fname: fname}
}

func (e *entry) acquire() {
	e.mu.Lock()
	e.refs++
	e.mu.Unlock()
}

func (e *entry) release() {
	e.mu.Lock()
	e.refs--
	if e.refs == 0 && e.destroy && e.done != nil {
		close(e.done)
		e.done = nil
	}
	e.mu.Unlock()
}

// requestDestroy marks the entry for destruction and returns a channel that
// is closed once the last concurrent holder releases it (or immediately, if
// there is none). This is the "wait-queue for a thread requesting
// destruction while the count is non-zero" of spec.md §4.E.
func (e *entry) requestDestroy() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroy = true
	if e.refs == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	if e.done == nil {
		e.done = make(chan struct{})
	}
	return e.done
}

const numShards = 32

// Registry is the manager's concurrent callback table, sharded by
// FileKey to bound lock contention the way the source's hash table of
// cb_hash chains does.
type Registry struct {
	shards [numShards]shard
}

type shard struct {
	mu      sync.Mutex
	entries map[capfs.FileKey]*entry
}

// New returns an empty callback registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].entries = make(map[capfs.FileKey]*entry)
	}
	return r
}

func (r *Registry) shardFor(key capfs.FileKey) *shard {
	h := uint64(key.ManagerID)*1000003 + uint64(key.FsIno)*101 + uint64(key.FileIno)
	return &r.shards[h%numShards]
}

func (r *Registry) getOrCreate(key capfs.FileKey, fname string) *entry {
	sh := r.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	if !ok {
		e = newEntry(fname)
		sh.entries[key] = e
	}
	return e
}

func (r *Registry) get(key capfs.FileKey) (*entry, bool) {
	sh := r.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	return e, ok
}

// Add registers cbID as a holder of (a slice of) key's recipe. The
// CallbackSet is created lazily on first add (spec.md §3, CallbackSet
// lifecycle).
func (r *Registry) Add(key capfs.FileKey, fname string, cbID uint32) {
	e := r.getOrCreate(key, fname)
	e.acquire()
	defer e.release()
	e.mu.Lock()
	e.bitmap |= 1 << (cbID % capfs.BitsPerLong)
	e.mu.Unlock()
}

// Del clears cbID's bit for key (e.g. on close). If the bitmap becomes empty
// afterward, the entry is torn down: a concurrent Add racing the same key
// sees a freshly lazily-created entry afterward, which matches the spec's
// "lazily created" lifecycle rather than leaking empty entries forever.
func (r *Registry) Del(key capfs.FileKey, cbID uint32) {
	e, ok := r.get(key)
	if !ok {
		return
	}
	e.acquire()
	e.mu.Lock()
	e.bitmap &^= 1 << (cbID % capfs.BitsPerLong)
	empty := e.bitmap == 0
	e.mu.Unlock()
	e.release()
	if empty {
		r.destroyIfEmpty(key)
	}
}

func (r *Registry) destroyIfEmpty(key capfs.FileKey) {
	sh := r.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.entries[key]
	if !ok {
		sh.mu.Unlock()
		return
	}
	e.mu.Lock()
	empty := e.bitmap == 0
	e.mu.Unlock()
	if !empty {
		sh.mu.Unlock()
		return
	}
	delete(sh.entries, key)
	sh.mu.Unlock()
	<-e.requestDestroy()
}

// Snapshot returns the current bitmap for key (empty if no entry exists),
// used by wcommit to decide invalidate-vs-update under the writer lock
// before releasing it (spec.md §4.F wcommit).
func (r *Registry) Snapshot(key capfs.FileKey) uint64 {
	e, ok := r.get(key)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bitmap
}

// Clear removes every bit for key and returns the bitmap that was present,
// used by unlink to broadcast a whole-file invalidate (spec.md §4.F unlink,
// §8 property 9).
func (r *Registry) Clear(key capfs.FileKey) uint64 {
	sh := r.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.entries[key]
	if ok {
		delete(sh.entries, key)
	}
	sh.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	bitmap := e.bitmap
	e.bitmap = 0
	e.mu.Unlock()
	<-e.requestDestroy()
	return bitmap
}

// CountBits reports the population count of a bitmap, used for the
// single-other-sharer fast path (spec.md §4.E).
func CountBits(bitmap uint64) int {
	n := 0
	for bitmap != 0 {
		bitmap &= bitmap - 1
		n++
	}
	return n
}

// Bits returns the set callback-ID positions in bitmap, in ascending order.
func Bits(bitmap uint64) []uint32 {
	var out []uint32
	for i := uint32(0); i < capfs.BitsPerLong; i++ {
		if bitmap&(1<<i) != 0 {
			out = append(out, i)
		}
	}
	return out
}
