package pipeline

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mnv104/capfs-sub000/internal/capfserr"
	"github.com/mnv104/capfs-sub000/pkg/capfs"
	"github.com/mnv104/capfs-sub000/pkg/casclient"
)

// Write implements spec.md §4.G write path: read-modify-write of any
// partial boundary chunks, content hashing, CAS PUT of non-zero chunks, and
// a wcommit with bounded EAGAIN retry. If fh.Policy.DelayCommit is set, the
// commit is buffered and flushed at Close instead of applied immediately
// (spec.md §4.G step 7).
func (p *Pipeline) Write(ctx context.Context, fh *FileHandle, off, length int64, data []byte) (int64, error) {
	if length <= 0 {
		return 0, nil
	}
	begin, end := capfs.ChunkRange(off, length)
	oldHashes, err := p.HCache.Get(ctx, fh.Key, begin, end-begin)
	if err != nil {
		return 0, errors.Wrap(err, "pipeline: write hcache lookup")
	}
	writeSize := off + length

	for attempt := 0; ; attempt++ {
		newHashes, chunkData, err := p.buildChunks(ctx, fh, begin, end, off, length, data, oldHashes)
		if err != nil {
			return 0, err
		}
		if err := p.putChunks(ctx, fh, begin, newHashes, chunkData); err != nil {
			return 0, err
		}

		if fh.Policy.DelayCommit {
			fh.pending = append(fh.pending, pendingCommit{
				begin: begin, oldHashes: oldHashes.Clone(), newHashes: newHashes, writeSize: writeSize,
			})
			p.HCache.Put(fh.Key, begin, newHashes)
			return length, nil
		}

		current, err := p.Mgr.WCommit(ctx, fh.Key, begin, oldHashes, newHashes, writeSize, fh.Policy.ForceCommit, fh.CBID)
		if err == nil {
			p.HCache.Put(fh.Key, begin, newHashes)
			return length, nil
		}
		if capfserr.Code(err) != capfserr.ErrAgain.Code() {
			return 0, err
		}
		if attempt+1 >= MaxCommitRetries {
			return 0, ErrRetryBudgetExceeded
		}
		// Rebase on the manager-returned current slice and retry
		// (spec.md §4.G step 6, §8 property 5: no livelock as long as a
		// bounded number of concurrent writers contend for the range).
		oldHashes = current
	}
}

// buildChunks computes the new content and hash for every chunk in
// [begin, end), pre-reading the first and/or last chunk if the write only
// partially covers it (spec.md §4.G write path steps 1-3).
func (p *Pipeline) buildChunks(ctx context.Context, fh *FileHandle, begin, end, off, length int64, data []byte, oldHashes capfs.Recipe) (capfs.Recipe, [][]byte, error) {
	newHashes := make(capfs.Recipe, end-begin)
	chunkData := make([][]byte, end-begin)

	for i := begin; i < end; i++ {
		rel := i - begin
		chunkStart := i * capfs.ChunkSize
		chunkEnd := chunkStart + capfs.ChunkSize
		dataStart := chunkStart
		if off > dataStart {
			dataStart = off
		}
		dataEnd := chunkEnd
		if off+length < dataEnd {
			dataEnd = off + length
		}
		partial := dataStart > chunkStart || dataEnd < chunkEnd

		var content []byte
		if partial {
			pre, err := p.readChunks(ctx, fh, oldHashes[rel:rel+1], i)
			if err != nil {
				return nil, nil, errors.Wrap(err, "pipeline: partial-chunk pre-read")
			}
			content = append([]byte(nil), pre[0]...)
		} else {
			content = make([]byte, capfs.ChunkSize)
		}

		copy(content[dataStart-chunkStart:dataEnd-chunkStart], data[dataStart-off:dataEnd-off])
		chunkData[rel] = content
		newHashes[rel] = capfs.Digest(content)
	}
	return newHashes, chunkData, nil
}

// putChunks PUTs every non-zero new chunk through the CAS client, routed to
// its data server by the file's striping parameters. Zero chunks are
// elided (spec.md §4.G step 4).
func (p *Pipeline) putChunks(ctx context.Context, fh *FileHandle, begin int64, hashes capfs.Recipe, data [][]byte) error {
	byAddr := make(map[string][]int)
	for i, h := range hashes {
		if h.IsZero() {
			continue
		}
		idx := begin + int64(i)
		addr := fh.Servers[serverIndex(fh.Striping, idx)]
		byAddr[addr] = append(byAddr[addr], i)
	}
	if len(byAddr) == 0 {
		return nil
	}
	var jobs []casclient.Job
	for addr, idxs := range byAddr {
		hs := make([]capfs.Hash, len(idxs))
		blocks := make([][]byte, len(idxs))
		for k, i := range idxs {
			hs[k] = hashes[i]
			blocks[k] = data[i]
		}
		jobs = append(jobs, casclient.Job{Addr: addr, Hashes: hs, Blocks: blocks})
	}
	results, err := p.CAS.Put(ctx, jobs)
	if err != nil {
		return errors.Wrap(err, "pipeline: cas put")
	}
	for _, res := range results {
		if res.Err != nil {
			return errors.Wrapf(res.Err, "pipeline: cas put to %s", res.Addr)
		}
	}
	return nil
}

// FlushPending commits every buffered delay-commit write at close, in the
// order they were issued (spec.md §4.G step 7, §4.H delay_commit).
func (p *Pipeline) FlushPending(ctx context.Context, fh *FileHandle) error {
	for _, pc := range fh.pending {
		current, err := p.Mgr.WCommit(ctx, fh.Key, pc.begin, pc.oldHashes, pc.newHashes, pc.writeSize, fh.Policy.ForceCommit, fh.CBID)
		if err != nil && capfserr.Code(err) != capfserr.ErrAgain.Code() {
			return err
		}
		if err == nil {
			p.HCache.Put(fh.Key, pc.begin, current)
		}
	}
	fh.pending = nil
	return nil
}
