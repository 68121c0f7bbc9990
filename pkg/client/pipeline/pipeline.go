// Package pipeline implements the client's chunked I/O pipeline (spec.md
// §4.G): it turns a user byte range into chunk-aligned hash lookups against
// the hash cache, content-addressed chunk GET/PUT against data servers, and
// a two-phase hash commit (wcommit) against the manager.
//
// It is grounded on the teacher's backend/chunker (splitting a file stream
// into fixed-size chunks and reassembling it on read) generalized from
// "wrap an underlying remote's Put/Get with chunking" to "compute content
// hashes per chunk and coordinate them with a separate metadata manager".
package pipeline

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mnv104/capfs-sub000/pkg/capfs"
	"github.com/mnv104/capfs-sub000/pkg/casclient"
	"github.com/mnv104/capfs-sub000/pkg/hcache"
	"github.com/mnv104/capfs-sub000/pkg/policy"
)

// Striping is the client's view of a file's stripe placement, handed back
// by the manager's open() (spec.md §4.F open(): "compute striping (base,
// pcount, ssize)").
type Striping struct {
	Base   int
	PCount int
	SSize  int64
}

// serverIndex maps a chunk index to a data-server index via the striping
// parameters: SSize bytes (rounded down to whole chunks) are placed on one
// server before striping advances to the next (spec.md §4.G step 3).
func serverIndex(s Striping, chunkIdx int64) int {
	chunksPerUnit := s.SSize / capfs.ChunkSize
	if chunksPerUnit <= 0 {
		chunksPerUnit = 1
	}
	if s.PCount <= 0 {
		return 0
	}
	unit := chunkIdx / chunksPerUnit
	return int((int64(s.Base) + unit) % int64(s.PCount))
}

// FileHandle is the client's open-file state: its identity, its data-server
// stripe, and the consistency policy negotiated at open.
type FileHandle struct {
	Key      capfs.FileKey
	Servers  []string
	Striping Striping
	Policy   policy.Flags
	CBID     uint32

	pending []pendingCommit // delay-commit buffer, spec.md §4.G step 7
}

type pendingCommit struct {
	begin     int64
	oldHashes capfs.Recipe
	newHashes capfs.Recipe
	writeSize int64
}

// ManagerClient is the subset of the manager's metadata RPCs the pipeline
// needs (spec.md §6 gethashes/wcommit/truncate).
type ManagerClient interface {
	hcache.Fetcher
	WCommit(ctx context.Context, file capfs.FileKey, begin int64, oldHashes, newHashes capfs.Recipe, writeSize int64, forceCommit bool, cbID uint32) (capfs.Recipe, error)
	Truncate(ctx context.Context, file capfs.FileKey, newSize int64, cbID uint32) error
}

// MaxCommitRetries bounds the EAGAIN retry loop of spec.md §4.G step 6.
const MaxCommitRetries = 8

// ErrRetryBudgetExceeded is surfaced to the caller once the bounded wcommit
// retry loop is exhausted (spec.md §4.G step 6).
var ErrRetryBudgetExceeded = errors.New("pipeline: wcommit retry budget exceeded")

// Pipeline is the client-side I/O coordinator: one instance per client
// process, shared across open files.
type Pipeline struct {
	HCache *hcache.Cache
	CAS    *casclient.Client
	Mgr    ManagerClient
}

// New returns a Pipeline wired to the given hash cache, CAS client and
// manager RPC stub.
func New(hc *hcache.Cache, cas *casclient.Client, mgr ManagerClient) *Pipeline {
	return &Pipeline{HCache: hc, CAS: cas, Mgr: mgr}
}

// Read implements spec.md §4.G read path steps 1-5.
func (p *Pipeline) Read(ctx context.Context, fh *FileHandle, off, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	begin, end := capfs.ChunkRange(off, length)
	hashes, err := p.HCache.Get(ctx, fh.Key, begin, end-begin)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: read hcache lookup")
	}
	chunks, err := p.readChunks(ctx, fh, hashes, begin)
	if err != nil {
		return nil, err
	}
	var buf []byte
	for _, c := range chunks {
		buf = append(buf, c...)
	}
	lo := off - begin*capfs.ChunkSize
	hi := lo + length
	if hi > int64(len(buf)) {
		hi = int64(len(buf))
	}
	if lo > int64(len(buf)) {
		lo = int64(len(buf))
	}
	return buf[lo:hi], nil
}

// readChunks fetches the chunk content for each hash in hashes (indexed
// starting at chunk begin), synthesizing zero chunks client-side with no
// network request (spec.md §4.G step 4, §8 property 2).
func (p *Pipeline) readChunks(ctx context.Context, fh *FileHandle, hashes capfs.Recipe, begin int64) ([][]byte, error) {
	chunks := make([][]byte, len(hashes))
	type slot struct{ chunkOffset, hashOffset int }
	byAddr := make(map[string][]slot)
	var jobHashes = make(map[string][]capfs.Hash)

	for i, h := range hashes {
		if h.IsZero() {
			chunks[i] = capfs.ZeroChunk()
			continue
		}
		idx := begin + int64(i)
		addr := fh.Servers[serverIndex(fh.Striping, idx)]
		byAddr[addr] = append(byAddr[addr], slot{chunkOffset: i})
		jobHashes[addr] = append(jobHashes[addr], h)
	}
	if len(byAddr) == 0 {
		return chunks, nil
	}

	var jobs []casclient.Job
	for addr, hs := range jobHashes {
		jobs = append(jobs, casclient.Job{Addr: addr, Hashes: hs})
	}
	results, err := p.CAS.Get(ctx, jobs)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: cas get")
	}
	for _, res := range results {
		if res.Err != nil {
			// Reads are intolerant of partial success (spec.md §4.B).
			return nil, errors.Wrapf(res.Err, "pipeline: cas get from %s", res.Addr)
		}
		slots := byAddr[res.Addr]
		for k, sl := range slots {
			lo := k * capfs.ChunkSize
			hi := lo + capfs.ChunkSize
			if hi > len(res.Data) {
				return nil, errors.Errorf("pipeline: short read from %s", res.Addr)
			}
			chunks[sl.chunkOffset] = res.Data[lo:hi]
		}
	}
	return chunks, nil
}
