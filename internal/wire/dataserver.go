package wire

import (
	"context"
	"time"

	"github.com/mnv104/capfs-sub000/pkg/capfs"
	"github.com/mnv104/capfs-sub000/pkg/casclient"
	"github.com/mnv104/capfs-sub000/pkg/casstore"
)

// PutArgs/PutReply are the wire shapes of the client<->data server put RPC
// (spec.md §6).
type PutArgs struct {
	Hashes []capfs.Hash
	Blocks [][]byte
}

type PutReply struct {
	Statuses []ChunkStatus
	Bytes    int64
	Status   Status
}

// ChunkStatus is the wire form of casstore.ChunkStatus (an error can't
// travel over gob, so it is flattened to a status code).
type ChunkStatus struct {
	Hash   capfs.Hash
	Status Status
}

type GetArgs struct {
	Hashes []capfs.Hash
}

type GetReply struct {
	Statuses []ChunkStatus
	Data     []byte
	Status   Status
}

type PingArgs struct{}
type PingReply struct{ Status Status }

type StatfsArgs struct{}
type StatfsReply struct {
	Total, Free, Used uint64
	Status            Status
}

type RemoveAllArgs struct{ Dir string }
type RemoveAllReply struct {
	FilesRemoved int
	DirsSkipped  []string
	Status       Status
}

// DataServerService adapts a casstore.Store to net/rpc, the server side of
// spec.md §6 client<->data server RPCs.
type DataServerService struct {
	Store *casstore.Store
}

func toWireStatuses(in []casstore.ChunkStatus) []ChunkStatus {
	out := make([]ChunkStatus, len(in))
	for i, s := range in {
		out[i] = ChunkStatus{Hash: s.Hash, Status: ErrToStatus(s.Err)}
	}
	return out
}

func (s *DataServerService) Put(args *PutArgs, reply *PutReply) error {
	statuses, n, err := s.Store.Put(context.Background(), args.Hashes, args.Blocks)
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	reply.Statuses = toWireStatuses(statuses)
	reply.Bytes = n
	return nil
}

func (s *DataServerService) Get(args *GetArgs, reply *GetReply) error {
	statuses, data, err := s.Store.Get(context.Background(), args.Hashes)
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	reply.Statuses = toWireStatuses(statuses)
	reply.Data = data
	return nil
}

func (s *DataServerService) Ping(args *PingArgs, reply *PingReply) error {
	reply.Status = ErrToStatus(s.Store.Ping(context.Background()))
	return nil
}

func (s *DataServerService) Statfs(args *StatfsArgs, reply *StatfsReply) error {
	stat, err := s.Store.Statfs(context.Background())
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	reply.Total, reply.Free, reply.Used = stat.TotalBytes, stat.FreeBytes, stat.UsedBytes
	return nil
}

func (s *DataServerService) RemoveAll(args *RemoveAllArgs, reply *RemoveAllReply) error {
	report, err := s.Store.RemoveAll(context.Background(), args.Dir)
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	reply.FilesRemoved = report.FilesRemoved
	reply.DirsSkipped = report.DirsSkipped
	return nil
}

// DataServerClient is the client-side net/rpc stub for one data server,
// implementing casclient.DataServer.
type DataServerClient struct {
	conn *Conn
}

func (c *DataServerClient) Put(ctx context.Context, hashes []capfs.Hash, blocks [][]byte) ([]casstore.ChunkStatus, int64, error) {
	var reply PutReply
	if err := c.conn.Call(ctx, "DataServer.Put", &PutArgs{Hashes: hashes, Blocks: blocks}, &reply); err != nil {
		return nil, 0, err
	}
	if reply.Status != "" {
		return nil, 0, StatusToErr(reply.Status)
	}
	out := make([]casstore.ChunkStatus, len(reply.Statuses))
	for i, s := range reply.Statuses {
		out[i] = casstore.ChunkStatus{Hash: s.Hash, Err: StatusToErr(s.Status)}
	}
	return out, reply.Bytes, nil
}

func (c *DataServerClient) Get(ctx context.Context, hashes []capfs.Hash) ([]casstore.ChunkStatus, []byte, error) {
	var reply GetReply
	if err := c.conn.Call(ctx, "DataServer.Get", &GetArgs{Hashes: hashes}, &reply); err != nil {
		return nil, nil, err
	}
	if reply.Status != "" {
		return nil, nil, StatusToErr(reply.Status)
	}
	out := make([]casstore.ChunkStatus, len(reply.Statuses))
	for i, s := range reply.Statuses {
		out[i] = casstore.ChunkStatus{Hash: s.Hash, Err: StatusToErr(s.Status)}
	}
	return out, reply.Data, nil
}

func (c *DataServerClient) Close() error {
	return c.conn.Close()
}

// DataServerDialer implements casclient.Dialer over net/rpc.
type DataServerDialer struct {
	Timeout time.Duration
}

func (d DataServerDialer) Dial(ctx context.Context, addr string) (casclient.DataServer, error) {
	conn, err := Dial(addr, d.Timeout)
	if err != nil {
		return nil, err
	}
	return &DataServerClient{conn: conn}, nil
}
