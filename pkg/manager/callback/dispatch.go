package callback

import (
	"context"
	"sync"

	"github.com/mnv104/capfs-sub000/internal/logx"
	"github.com/mnv104/capfs-sub000/internal/metrics"
	"github.com/mnv104/capfs-sub000/pkg/capfs"
)

// Transport delivers the two callback RPCs of spec.md §6 to a specific
// client address. Implementations are fire-and-forget from the dispatcher's
// point of view: a transport error for one recipient never blocks or fails
// the others (spec.md §4.E: "all fire-and-forget with per-recipient error
// tolerance").
type Transport interface {
	Invalidate(ctx context.Context, addr string, file capfs.FileKey, beginChunk, nChunks int64) error
	Update(ctx context.Context, addr string, file capfs.FileKey, beginChunk int64, hashes capfs.Recipe) error
}

// Channels maps a callback ID to the client address it should be reached at,
// populated on cbreg (spec.md §6 cbreg RPC, §3 CallbackSet lifecycle).
// The default policy is to NOT cache the underlying connection handle
// (spec.md §5 "Shared resources": correctness depends on being able to
// re-establish the channel) — that caching decision belongs to the
// Transport implementation, not to this address book.
type Channels struct {
	mu    sync.RWMutex
	addrs map[uint32]string
}

// NewChannels returns an empty callback-channel address book.
func NewChannels() *Channels {
	return &Channels{addrs: make(map[uint32]string)}
}

// Register records that cbID is reachable at addr.
func (c *Channels) Register(cbID uint32, addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addrs[cbID] = addr
}

// Unregister forgets cbID's address.
func (c *Channels) Unregister(cbID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.addrs, cbID)
}

// Lookup returns cbID's address, if any.
func (c *Channels) Lookup(cbID uint32) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	addr, ok := c.addrs[cbID]
	return addr, ok
}

// Dispatcher issues the callback traffic triggered by wcommit, truncate and
// unlink. Every dispatch method here is meant to be called AFTER the
// caller has released the file's writer lock (spec.md §5 O4): the
// dispatcher only reads an already-captured bitmap snapshot, so it never
// itself needs the lock.
type Dispatcher struct {
	channels  *Channels
	transport Transport
	metrics   *metrics.Manager // nil if the caller did not wire metrics
}

// NewDispatcher returns a Dispatcher delivering callbacks over transport
// using the given channel address book.
func NewDispatcher(channels *Channels, transport Transport) *Dispatcher {
	return &Dispatcher{channels: channels, transport: transport}
}

// SetMetrics attaches a counter set the dispatcher increments as it fires
// update/invalidate callbacks.
func (d *Dispatcher) SetMetrics(m *metrics.Manager) {
	d.metrics = m
}

// Commit dispatches the coherence traffic for a successful wcommit covering
// chunks [begin, begin+len(newHashes)). bitmap is the callback set snapshot
// taken under the writer lock before it was released; committer is the
// committing client's own callback ID (excluded from dispatch, since it
// already has the new data). preImageLen is the length of the recipe slice
// observed before the commit — if it is zero, no peer could have cached the
// extent, so no traffic is sent at all (spec.md §4.F, §8 property 8).
//
// If exactly one other callback ID remains after masking off the committer,
// an update (push) is sent instead of an invalidate — the single-other-sharer
// fast path of spec.md §4.E and §8 property 7.
func (d *Dispatcher) Commit(ctx context.Context, file capfs.FileKey, bitmap uint64, committer uint32, preImageLen int64, begin int64, newHashes capfs.Recipe) {
	if preImageLen == 0 {
		return
	}
	others := bitmap &^ (1 << (committer % capfs.BitsPerLong))
	if others == 0 {
		return
	}
	ids := Bits(others)
	if len(ids) == 1 {
		addr, ok := d.channels.Lookup(ids[0])
		if !ok {
			return
		}
		if err := d.transport.Update(ctx, addr, file, begin, newHashes); err != nil {
			logx.Errorf(file, "callback update to %s failed: %v", addr, err)
		} else if d.metrics != nil {
			d.metrics.CallbackUpdate.Inc()
		}
		return
	}
	d.invalidateAll(ctx, file, ids, begin, int64(len(newHashes)))
}

// Truncate dispatches an invalidate covering the chunks a shrinking
// truncate destroyed (spec.md §4.F truncate, §8 property 10).
func (d *Dispatcher) Truncate(ctx context.Context, file capfs.FileKey, bitmap uint64, committer uint32, newN, oldN int64) {
	if oldN <= newN {
		return
	}
	others := bitmap &^ (1 << (committer % capfs.BitsPerLong))
	if others == 0 {
		return
	}
	d.invalidateAll(ctx, file, Bits(others), newN, oldN-newN)
}

// Unlink broadcasts a whole-file clear to every registered callback ID
// except committer, using begin_chunk=-1/nchunks=0 to mean "whole file"
// (spec.md §6 Manager → client callbacks).
func (d *Dispatcher) Unlink(ctx context.Context, file capfs.FileKey, bitmap uint64, committer uint32) {
	others := bitmap &^ (1 << (committer % capfs.BitsPerLong))
	if others == 0 {
		return
	}
	d.invalidateAll(ctx, file, Bits(others), -1, 0)
}

func (d *Dispatcher) invalidateAll(ctx context.Context, file capfs.FileKey, ids []uint32, begin, count int64) {
	for _, id := range ids {
		addr, ok := d.channels.Lookup(id)
		if !ok {
			continue
		}
		if err := d.transport.Invalidate(ctx, addr, file, begin, count); err != nil {
			// A manager that cannot reach a client for an invalidate logs
			// and continues: the wcommit has already succeeded (spec.md §5
			// Cancellation and timeouts).
			logx.Errorf(file, "callback invalidate to %s failed: %v", addr, err)
		} else if d.metrics != nil {
			d.metrics.CallbackInval.Inc()
		}
	}
}
