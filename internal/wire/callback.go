package wire

import (
	"context"
	"time"

	"github.com/mnv104/capfs-sub000/pkg/capfs"
	"github.com/mnv104/capfs-sub000/pkg/hcache"
)

// InvalidateArgs/Reply and UpdateArgs/Reply implement spec.md §6
// manager->client callbacks: invalidate(file_id, begin_chunk, nchunks) (with
// begin_chunk=-1, nchunks=0 meaning whole file) and update(file_id,
// begin_chunk, hashes[]).
type InvalidateArgs struct {
	File             capfs.FileKey
	BeginChunk       int64
	NChunks          int64
}
type InvalidateReply struct{ Status Status }

type UpdateArgs struct {
	File       capfs.FileKey
	BeginChunk int64
	Hashes     capfs.Recipe
}
type UpdateReply struct{ Status Status }

// CallbackService is the client-side RPC receiver for manager-initiated
// coherence traffic: it applies invalidate/update directly to the client's
// hcache.
type CallbackService struct {
	HCache *hcache.Cache
}

func (s *CallbackService) Invalidate(args *InvalidateArgs, reply *InvalidateReply) error {
	if args.BeginChunk < 0 {
		s.HCache.Clear(args.File)
	} else {
		s.HCache.ClearRange(args.File, args.BeginChunk, args.NChunks)
	}
	return nil
}

func (s *CallbackService) Update(args *UpdateArgs, reply *UpdateReply) error {
	s.HCache.Put(args.File, args.BeginChunk, args.Hashes)
	return nil
}

// CallbackTransport implements callback.Transport over net/rpc: the
// manager-side dialer that reaches a client's CallbackService.
type CallbackTransport struct {
	Timeout time.Duration
}

func (t CallbackTransport) Invalidate(ctx context.Context, addr string, file capfs.FileKey, beginChunk, nChunks int64) error {
	conn, err := Dial(addr, t.Timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	var reply InvalidateReply
	return conn.Call(ctx, "Callback.Invalidate", &InvalidateArgs{File: file, BeginChunk: beginChunk, NChunks: nChunks}, &reply)
}

func (t CallbackTransport) Update(ctx context.Context, addr string, file capfs.FileKey, beginChunk int64, hashes capfs.Recipe) error {
	conn, err := Dial(addr, t.Timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	var reply UpdateReply
	return conn.Call(ctx, "Callback.Update", &UpdateArgs{File: file, BeginChunk: beginChunk, Hashes: hashes}, &reply)
}
