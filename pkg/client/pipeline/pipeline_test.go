package pipeline_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnv104/capfs-sub000/internal/capfserr"
	"github.com/mnv104/capfs-sub000/pkg/capfs"
	"github.com/mnv104/capfs-sub000/pkg/casclient"
	"github.com/mnv104/capfs-sub000/pkg/casstore"
	"github.com/mnv104/capfs-sub000/pkg/client/pipeline"
	"github.com/mnv104/capfs-sub000/pkg/hcache"
	"github.com/mnv104/capfs-sub000/pkg/policy"
)

// memDataServer is an in-process fake of a single data server's CAS store,
// keyed by hash, for exercising the pipeline's read/write paths without a
// wire round trip.
type memDataServer struct {
	mu      sync.Mutex
	content map[capfs.Hash][]byte
}

func newMemDataServer() *memDataServer {
	return &memDataServer{content: make(map[capfs.Hash][]byte)}
}

func (m *memDataServer) Put(ctx context.Context, hashes []capfs.Hash, blocks [][]byte) ([]casstore.ChunkStatus, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	statuses := make([]casstore.ChunkStatus, len(hashes))
	var n int64
	for i, h := range hashes {
		if _, ok := m.content[h]; !ok {
			m.content[h] = blocks[i]
			n += int64(len(blocks[i]))
		}
		statuses[i] = casstore.ChunkStatus{Hash: h}
	}
	return statuses, n, nil
}

func (m *memDataServer) Get(ctx context.Context, hashes []capfs.Hash) ([]casstore.ChunkStatus, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	statuses := make([]casstore.ChunkStatus, len(hashes))
	var data []byte
	for i, h := range hashes {
		statuses[i] = casstore.ChunkStatus{Hash: h}
		data = append(data, m.content[h]...)
	}
	return statuses, data, nil
}

func (m *memDataServer) Close() error { return nil }

type memDialer struct {
	mu      sync.Mutex
	servers map[string]*memDataServer
}

func newMemDialer() *memDialer {
	return &memDialer{servers: make(map[string]*memDataServer)}
}

func (d *memDialer) Dial(ctx context.Context, addr string) (casclient.DataServer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.servers[addr]
	if !ok {
		s = newMemDataServer()
		d.servers[addr] = s
	}
	return s, nil
}

// fakeManager is an in-memory stand-in for the manager's recipe store,
// implementing just enough of gethashes/wcommit/truncate to exercise the
// pipeline.
type fakeManager struct {
	mu      sync.Mutex
	recipes map[capfs.FileKey]capfs.Recipe
}

func newFakeManager() *fakeManager {
	return &fakeManager{recipes: make(map[capfs.FileKey]capfs.Recipe)}
}

func (m *fakeManager) GetHashes(ctx context.Context, file capfs.FileKey, begin, count int64) (capfs.Recipe, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.recipes[file]
	return cur.Slice(begin, count), int64(len(cur)) * capfs.ChunkSize, nil
}

func (m *fakeManager) WCommit(ctx context.Context, file capfs.FileKey, begin int64, oldHashes, newHashes capfs.Recipe, writeSize int64, forceCommit bool, cbID uint32) (capfs.Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.recipes[file]
	curSlice := cur.Slice(begin, int64(len(newHashes)))
	if !forceCommit && !curSlice.Equal(oldHashes) {
		return curSlice, capfserr.ErrAgain
	}
	need := begin + int64(len(newHashes))
	for int64(len(cur)) < need {
		cur = append(cur, capfs.ZeroHash)
	}
	copy(cur[begin:need], newHashes)
	m.recipes[file] = cur
	return newHashes, nil
}

func (m *fakeManager) Truncate(ctx context.Context, file capfs.FileKey, newSize int64, cbID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := capfs.NumChunks(newSize)
	cur := m.recipes[file]
	if int64(len(cur)) > n {
		m.recipes[file] = cur[:n]
	}
	return nil
}

func newTestPipeline(t *testing.T, mgr *fakeManager) (*pipeline.Pipeline, *pipeline.FileHandle) {
	t.Helper()
	hc, err := hcache.New(64, mgr)
	require.NoError(t, err)
	cas := casclient.New(newMemDialer(), false)
	p := pipeline.New(hc, cas, mgr)

	fh := &pipeline.FileHandle{
		Key:      capfs.FileKey{ManagerID: 1, FsIno: 1, FileIno: 1},
		Servers:  []string{"s0", "s1"},
		Striping: pipeline.Striping{Base: 0, PCount: 2, SSize: capfs.ChunkSize},
		Policy:   policy.Flags{DesireCoherence: true},
	}
	return p, fh
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	mgr := newFakeManager()
	p, fh := newTestPipeline(t, mgr)

	data := []byte("hello, capfs")
	n, err := p.Write(context.Background(), fh, 0, int64(len(data)), data)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	got, err := p.Read(context.Background(), fh, 0, int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWritePartialChunkPreservesNeighboringBytes(t *testing.T) {
	mgr := newFakeManager()
	p, fh := newTestPipeline(t, mgr)

	full := make([]byte, capfs.ChunkSize)
	for i := range full {
		full[i] = byte(i)
	}
	_, err := p.Write(context.Background(), fh, 0, int64(len(full)), full)
	require.NoError(t, err)

	patch := []byte{0xAA, 0xBB}
	_, err = p.Write(context.Background(), fh, 10, int64(len(patch)), patch)
	require.NoError(t, err)

	got, err := p.Read(context.Background(), fh, 0, int64(len(full)))
	require.NoError(t, err)
	assert.Equal(t, byte(9), got[9], "byte before the patch must be unchanged")
	assert.Equal(t, patch[0], got[10])
	assert.Equal(t, patch[1], got[11])
	assert.Equal(t, byte(12), got[12], "byte after the patch must be unchanged")
}

func TestReadOfNeverWrittenRangeReturnsZeros(t *testing.T) {
	mgr := newFakeManager()
	p, fh := newTestPipeline(t, mgr)

	got, err := p.Read(context.Background(), fh, 0, int64(capfs.ChunkSize))
	require.NoError(t, err)
	assert.Equal(t, capfs.ZeroChunk(), got)
}

func TestTruncateClearsHcacheTail(t *testing.T) {
	mgr := newFakeManager()
	p, fh := newTestPipeline(t, mgr)

	data := make([]byte, 3*capfs.ChunkSize)
	_, err := p.Write(context.Background(), fh, 0, int64(len(data)), data)
	require.NoError(t, err)
	require.Equal(t, 3, p.HCache.Len())

	require.NoError(t, p.Truncate(context.Background(), fh, int64(capfs.ChunkSize)))
	assert.Equal(t, 1, p.HCache.Len())
}

func TestDelayCommitBuffersUntilFlush(t *testing.T) {
	mgr := newFakeManager()
	p, fh := newTestPipeline(t, mgr)
	fh.Policy.DelayCommit = true

	data := []byte("buffered")
	_, err := p.Write(context.Background(), fh, 0, int64(len(data)), data)
	require.NoError(t, err)

	mgr.mu.Lock()
	_, committed := mgr.recipes[fh.Key]
	mgr.mu.Unlock()
	assert.False(t, committed, "a delay-commit write must not reach the manager until flush")

	require.NoError(t, p.FlushPending(context.Background(), fh))
	mgr.mu.Lock()
	_, committed = mgr.recipes[fh.Key]
	mgr.mu.Unlock()
	assert.True(t, committed)
}
