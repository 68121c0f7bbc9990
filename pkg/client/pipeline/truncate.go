package pipeline

import (
	"context"

	"github.com/mnv104/capfs-sub000/pkg/capfs"
)

// Truncate implements spec.md §4.G Truncate: forward to the manager, then
// invalidate the local hcache for any chunk beyond the new size.
func (p *Pipeline) Truncate(ctx context.Context, fh *FileHandle, newSize int64) error {
	if err := p.Mgr.Truncate(ctx, fh.Key, newSize, fh.CBID); err != nil {
		return err
	}
	p.HCache.ClearFrom(fh.Key, capfs.NumChunks(newSize))
	return nil
}
