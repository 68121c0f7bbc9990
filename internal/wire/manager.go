package wire

import (
	"context"
	"time"

	"github.com/mnv104/capfs-sub000/pkg/capfs"
	"github.com/mnv104/capfs-sub000/pkg/manager/callback"
	"github.com/mnv104/capfs-sub000/pkg/manager/ops"
	"github.com/mnv104/capfs-sub000/pkg/manager/recipestore"
	"github.com/mnv104/capfs-sub000/pkg/policy"
)

// CbRegArgs/Reply implement spec.md §6 cbreg: register a callback channel
// address under a callback ID, so later invalidate/update dispatch knows
// where to reach this client.
type CbRegArgs struct {
	CBID uint32
	Addr string
}
type CbRegReply struct{ Status Status }

type OpenArgs struct {
	RelPath         string
	Create, Excl    bool
	Mode, UID, GID  uint32
	Policy          policy.Name
	CBID            uint32
	DataServerCount int
}
type OpenReply struct {
	Key    capfs.FileKey
	State  recipestore.FileState
	Recipe capfs.Recipe
	Status Status
}

type CloseArgs struct {
	Key                   capfs.FileKey
	CBID, Committer       uint32
	Atime, Mtime, Ctime   time.Time
}
type CloseReply struct{ Status Status }

type LookupArgs struct{ RelPath string }
type LookupReply struct {
	Key    capfs.FileKey
	Status Status
}

type StatArgs struct{ RelPath string }
type StatReply struct {
	State  recipestore.FileState
	Status Status
}

type AccessArgs struct {
	RelPath       string
	UID, GID, Want uint32
}
type AccessReply struct{ Status Status }

type TruncateArgs struct {
	Key       capfs.FileKey
	NewSize   int64
	Committer uint32
}
type TruncateReply struct{ Status Status }

type UtimeArgs struct {
	RelPath       string
	Atime, Mtime  time.Time
}
type UtimeReply struct{ Status Status }

type CtimeArgs struct {
	RelPath string
	Ctime   time.Time
}
type CtimeReply struct{ Status Status }

type RenameArgs struct {
	OldPath, NewPath string
	Committer        uint32
}
type RenameReply struct{ Status Status }

type LinkArgs struct{ OldPath, NewPath string }
type LinkReply struct{ Status Status }

type ReadlinkArgs struct{ RelPath string }
type ReadlinkReply struct {
	Target string
	Status Status
}

type MkdirArgs struct {
	RelPath string
	Mode    uint32
}
type MkdirReply struct{ Status Status }

type RmdirArgs struct{ RelPath string }
type RmdirReply struct{ Status Status }

type UnlinkArgs struct {
	RelPath   string
	Committer uint32
}
type UnlinkReply struct{ Status Status }

type ChmodArgs struct {
	RelPath string
	Mode    uint32
}
type ChmodReply struct{ Status Status }

type ChownArgs struct {
	RelPath  string
	UID, GID int64
}
type ChownReply struct{ Status Status }

type GetdentsArgs struct {
	RelPath      string
	Offset, Limit int
}
type GetdentsReply struct {
	Entries []ops.DirEntry
	Next    int
	Status  Status
}

type ManagerStatfsArgs struct{}
type ManagerStatfsReply struct {
	Total, Free, Used uint64
	Status            Status
}

type IodinfoArgs struct{}
type IodinfoReply struct {
	Servers []string
	Status  Status
}

type GethashesArgs struct {
	Key           capfs.FileKey
	Begin, Count  int64
	CBID          uint32
	WantCoherence bool
}
type GethashesReply struct {
	Hashes capfs.Recipe
	Size   int64
	Status Status
}

type WcommitArgs struct {
	Key                  capfs.FileKey
	Begin                int64
	OldHashes, NewHashes capfs.Recipe
	WriteSize            int64
	ForceCommit          bool
	Committer            uint32
}
type WcommitReply struct {
	CurrentHashes capfs.Recipe
	Status        Status
}

// ManagerService adapts an ops.Engine (and the callback channel address
// book) to net/rpc: the server side of every client<->manager RPC in
// spec.md §6.
type ManagerService struct {
	Engine   *ops.Engine
	Channels *callback.Channels
}

func (m *ManagerService) CbReg(args *CbRegArgs, reply *CbRegReply) error {
	m.Channels.Register(args.CBID, args.Addr)
	return nil
}

func (m *ManagerService) Open(args *OpenArgs, reply *OpenReply) error {
	res, err := m.Engine.Open(context.Background(), args.RelPath, ops.OpenFlags{
		Create: args.Create, Excl: args.Excl, Mode: args.Mode, UID: args.UID, GID: args.GID,
	}, args.Policy, args.CBID, args.DataServerCount)
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	reply.Key, reply.State, reply.Recipe = res.Key, res.State, res.Recipe
	return nil
}

func (m *ManagerService) Close(args *CloseArgs, reply *CloseReply) error {
	err := m.Engine.Close(context.Background(), args.Key, args.CBID, args.Committer, args.Atime, args.Mtime, args.Ctime)
	reply.Status = ErrToStatus(err)
	return nil
}

func (m *ManagerService) Lookup(args *LookupArgs, reply *LookupReply) error {
	key, err := m.Engine.Lookup(context.Background(), args.RelPath)
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	reply.Key = key
	return nil
}

func (m *ManagerService) Stat(args *StatArgs, reply *StatReply) error {
	state, err := m.Engine.Stat(context.Background(), args.RelPath)
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	reply.State = state
	return nil
}

func (m *ManagerService) Access(args *AccessArgs, reply *AccessReply) error {
	err := m.Engine.Access(context.Background(), args.RelPath, args.UID, args.GID, args.Want)
	reply.Status = ErrToStatus(err)
	return nil
}

func (m *ManagerService) Truncate(args *TruncateArgs, reply *TruncateReply) error {
	relPath, err := m.Engine.RelPathOf(args.Key)
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	err = m.Engine.Truncate(context.Background(), args.Key, relPath, args.NewSize, args.Committer)
	reply.Status = ErrToStatus(err)
	return nil
}

func (m *ManagerService) Utime(args *UtimeArgs, reply *UtimeReply) error {
	reply.Status = ErrToStatus(m.Engine.Utime(context.Background(), args.RelPath, args.Atime, args.Mtime))
	return nil
}

func (m *ManagerService) Ctime(args *CtimeArgs, reply *CtimeReply) error {
	reply.Status = ErrToStatus(m.Engine.Ctime(context.Background(), args.RelPath, args.Ctime))
	return nil
}

func (m *ManagerService) Rename(args *RenameArgs, reply *RenameReply) error {
	reply.Status = ErrToStatus(m.Engine.Rename(context.Background(), args.OldPath, args.NewPath, args.Committer))
	return nil
}

func (m *ManagerService) Link(args *LinkArgs, reply *LinkReply) error {
	reply.Status = ErrToStatus(m.Engine.Link(context.Background(), args.OldPath, args.NewPath))
	return nil
}

func (m *ManagerService) Readlink(args *ReadlinkArgs, reply *ReadlinkReply) error {
	target, err := m.Engine.Readlink(context.Background(), args.RelPath)
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	reply.Target = target
	return nil
}

func (m *ManagerService) Mkdir(args *MkdirArgs, reply *MkdirReply) error {
	reply.Status = ErrToStatus(m.Engine.Mkdir(context.Background(), args.RelPath, args.Mode))
	return nil
}

func (m *ManagerService) Rmdir(args *RmdirArgs, reply *RmdirReply) error {
	reply.Status = ErrToStatus(m.Engine.Rmdir(context.Background(), args.RelPath))
	return nil
}

func (m *ManagerService) Unlink(args *UnlinkArgs, reply *UnlinkReply) error {
	reply.Status = ErrToStatus(m.Engine.Unlink(context.Background(), args.RelPath, args.Committer))
	return nil
}

func (m *ManagerService) Chmod(args *ChmodArgs, reply *ChmodReply) error {
	reply.Status = ErrToStatus(m.Engine.Chmod(context.Background(), args.RelPath, args.Mode))
	return nil
}

func (m *ManagerService) Fchmod(args *ChmodArgs, reply *ChmodReply) error {
	reply.Status = ErrToStatus(m.Engine.Fchmod(context.Background(), args.RelPath, args.Mode))
	return nil
}

func (m *ManagerService) Chown(args *ChownArgs, reply *ChownReply) error {
	reply.Status = ErrToStatus(m.Engine.Chown(context.Background(), args.RelPath, args.UID, args.GID))
	return nil
}

func (m *ManagerService) Fchown(args *ChownArgs, reply *ChownReply) error {
	reply.Status = ErrToStatus(m.Engine.Fchown(context.Background(), args.RelPath, args.UID, args.GID))
	return nil
}

func (m *ManagerService) Getdents(args *GetdentsArgs, reply *GetdentsReply) error {
	entries, next, err := m.Engine.GetDents(context.Background(), args.RelPath, args.Offset, args.Limit)
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	reply.Entries, reply.Next = entries, next
	return nil
}

func (m *ManagerService) Statfs(args *ManagerStatfsArgs, reply *ManagerStatfsReply) error {
	u, err := m.Engine.Statfs(context.Background())
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	reply.Total, reply.Free, reply.Used = u.Total, u.Free, u.Used
	return nil
}

func (m *ManagerService) Iodinfo(args *IodinfoArgs, reply *IodinfoReply) error {
	servers, err := m.Engine.IodInfo(context.Background())
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	reply.Servers = servers
	return nil
}

func (m *ManagerService) Gethashes(args *GethashesArgs, reply *GethashesReply) error {
	relPath, err := m.Engine.RelPathOf(args.Key)
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	hashes, size, err := m.Engine.GetHashes(context.Background(), args.Key, relPath, args.Begin, args.Count, args.CBID, args.WantCoherence)
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	reply.Hashes, reply.Size = hashes, size
	return nil
}

func (m *ManagerService) Wcommit(args *WcommitArgs, reply *WcommitReply) error {
	relPath, err := m.Engine.RelPathOf(args.Key)
	if err != nil {
		reply.Status = ErrToStatus(err)
		return nil
	}
	current, err := m.Engine.WCommit(context.Background(), args.Key, relPath, args.Begin, args.OldHashes, args.NewHashes, args.WriteSize, ops.WCommitFlags{ForceCommit: args.ForceCommit}, args.Committer)
	reply.CurrentHashes = current
	reply.Status = ErrToStatus(err)
	return nil
}

// ManagerClient is the client-side net/rpc stub for the manager, used by the
// I/O pipeline (as pipeline.ManagerClient / hcache.Fetcher) and by whatever
// higher-level VFS collaborator issues the rest of spec.md §6's RPCs.
type ManagerClient struct {
	conn *Conn
}

// DialManager opens a client connection to the manager at addr.
func DialManager(addr string, timeout time.Duration) (*ManagerClient, error) {
	conn, err := Dial(addr, timeout)
	if err != nil {
		return nil, err
	}
	return &ManagerClient{conn: conn}, nil
}

func (c *ManagerClient) Close() error { return c.conn.Close() }

func (c *ManagerClient) CbReg(ctx context.Context, cbID uint32, addr string) error {
	var reply CbRegReply
	if err := c.conn.Call(ctx, "Manager.CbReg", &CbRegArgs{CBID: cbID, Addr: addr}, &reply); err != nil {
		return err
	}
	return StatusToErr(reply.Status)
}

func (c *ManagerClient) Open(ctx context.Context, relPath string, flags ops.OpenFlags, pol policy.Name, cbID uint32, dataServerCount int) (ops.OpenResult, error) {
	var reply OpenReply
	err := c.conn.Call(ctx, "Manager.Open", &OpenArgs{
		RelPath: relPath, Create: flags.Create, Excl: flags.Excl, Mode: flags.Mode, UID: flags.UID, GID: flags.GID,
		Policy: pol, CBID: cbID, DataServerCount: dataServerCount,
	}, &reply)
	if err != nil {
		return ops.OpenResult{}, err
	}
	if reply.Status != "" {
		return ops.OpenResult{}, StatusToErr(reply.Status)
	}
	return ops.OpenResult{Key: reply.Key, State: reply.State, Recipe: reply.Recipe}, nil
}

func (c *ManagerClient) Close(ctx context.Context, key capfs.FileKey, cbID, committer uint32, atime, mtime, ctime time.Time) error {
	var reply CloseReply
	if err := c.conn.Call(ctx, "Manager.Close", &CloseArgs{Key: key, CBID: cbID, Committer: committer, Atime: atime, Mtime: mtime, Ctime: ctime}, &reply); err != nil {
		return err
	}
	return StatusToErr(reply.Status)
}

// GetHashes implements both hcache.Fetcher and the pipeline's manager
// contract over the wire.
func (c *ManagerClient) GetHashes(ctx context.Context, file capfs.FileKey, begin, count int64) (capfs.Recipe, int64, error) {
	var reply GethashesReply
	err := c.conn.Call(ctx, "Manager.Gethashes", &GethashesArgs{Key: file, Begin: begin, Count: count}, &reply)
	if err != nil {
		return nil, 0, err
	}
	if reply.Status != "" {
		return nil, 0, StatusToErr(reply.Status)
	}
	return reply.Hashes, reply.Size, nil
}

func (c *ManagerClient) WCommit(ctx context.Context, file capfs.FileKey, begin int64, oldHashes, newHashes capfs.Recipe, writeSize int64, forceCommit bool, cbID uint32) (capfs.Recipe, error) {
	var reply WcommitReply
	err := c.conn.Call(ctx, "Manager.Wcommit", &WcommitArgs{
		Key: file, Begin: begin, OldHashes: oldHashes, NewHashes: newHashes, WriteSize: writeSize, ForceCommit: forceCommit, Committer: cbID,
	}, &reply)
	if err != nil {
		return nil, err
	}
	if reply.Status != "" {
		return reply.CurrentHashes, StatusToErr(reply.Status)
	}
	return reply.CurrentHashes, nil
}

func (c *ManagerClient) Truncate(ctx context.Context, file capfs.FileKey, newSize int64, cbID uint32) error {
	var reply TruncateReply
	if err := c.conn.Call(ctx, "Manager.Truncate", &TruncateArgs{Key: file, NewSize: newSize, Committer: cbID}, &reply); err != nil {
		return err
	}
	return StatusToErr(reply.Status)
}
