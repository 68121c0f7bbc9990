package wire_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnv104/capfs-sub000/internal/capfserr"
	"github.com/mnv104/capfs-sub000/internal/config"
	"github.com/mnv104/capfs-sub000/internal/wire"
	"github.com/mnv104/capfs-sub000/pkg/capfs"
	"github.com/mnv104/capfs-sub000/pkg/manager/callback"
	"github.com/mnv104/capfs-sub000/pkg/manager/inodetable"
	"github.com/mnv104/capfs-sub000/pkg/manager/ops"
	"github.com/mnv104/capfs-sub000/pkg/manager/recipestore"
	"github.com/mnv104/capfs-sub000/pkg/policy"
)

type noopTransport struct{}

func (noopTransport) Invalidate(ctx context.Context, addr string, file capfs.FileKey, begin, count int64) error {
	return nil
}
func (noopTransport) Update(ctx context.Context, addr string, file capfs.FileKey, begin int64, hashes capfs.Recipe) error {
	return nil
}

// recordingTransport notes every recipient address dispatch reaches, so
// tests can assert the committer's own callback is excluded.
type recordingTransport struct {
	mu          sync.Mutex
	invalidated []string
	updated     []string
}

func (r *recordingTransport) Invalidate(ctx context.Context, addr string, file capfs.FileKey, begin, count int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, addr)
	return nil
}

func (r *recordingTransport) Update(ctx context.Context, addr string, file capfs.FileKey, begin int64, hashes capfs.Recipe) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated = append(r.updated, addr)
	return nil
}

func newTestManagerClient(t *testing.T) *wire.ManagerClient {
	t.Helper()
	client, _ := newTestManagerClientWithTransport(t, noopTransport{})
	return client
}

func newTestManagerClientWithTransport(t *testing.T, transport callback.Transport) (*wire.ManagerClient, *callback.Channels) {
	t.Helper()
	dir := t.TempDir()
	recipes := recipestore.New(dir)
	registry := callback.New()
	channels := callback.NewChannels()
	dispatch := callback.NewDispatcher(channels, transport)
	inodes, err := inodetable.Open(filepath.Join(dir, "inodes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = inodes.Close() })

	engine := ops.NewEngine(config.Default(), recipes, registry, dispatch, inodes)
	svc := &wire.ManagerService{Engine: engine, Channels: channels}

	listener, err := wire.Serve("127.0.0.1:0", "Manager", svc)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	client, err := wire.DialManager(listener.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, channels
}

func TestStatusRoundTrip(t *testing.T) {
	assert.Equal(t, wire.Status(""), wire.ErrToStatus(nil))
	assert.Nil(t, wire.StatusToErr(""))
	assert.Equal(t, capfserr.ErrAgain, wire.StatusToErr(wire.ErrToStatus(capfserr.ErrAgain)))
}

func TestOpenCloseOverTheWire(t *testing.T) {
	client := newTestManagerClient(t)
	ctx := context.Background()

	res, err := client.Open(ctx, "f", ops.OpenFlags{Create: true, Mode: 0o644}, policy.Posix, 1, 2)
	require.NoError(t, err)
	assert.False(t, res.Key.IsZero())

	err = client.Close(ctx, res.Key, 1, 1, time.Time{}, time.Time{}, time.Time{})
	assert.NoError(t, err)
}

func TestOpenMissingWithoutCreateReturnsNotExist(t *testing.T) {
	client := newTestManagerClient(t)
	_, err := client.Open(context.Background(), "nope", ops.OpenFlags{}, policy.Posix, 1, 2)
	assert.ErrorIs(t, err, capfserr.ErrNotExist)
}

func TestWCommitAndGetHashesOverTheWire(t *testing.T) {
	client := newTestManagerClient(t)
	ctx := context.Background()

	res, err := client.Open(ctx, "f", ops.OpenFlags{Create: true}, policy.Posix, 1, 1)
	require.NoError(t, err)

	newHashes := capfs.Recipe{capfs.Digest([]byte("chunk"))}
	current, err := client.WCommit(ctx, res.Key, 0, nil, newHashes, int64(capfs.ChunkSize), false, 0)
	require.NoError(t, err)
	assert.Equal(t, newHashes, current)

	got, size, err := client.GetHashes(ctx, res.Key, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, newHashes, got)
	assert.Equal(t, int64(capfs.ChunkSize), size)
}

func TestTruncateOverTheWireResolvesPathFromKey(t *testing.T) {
	client := newTestManagerClient(t)
	ctx := context.Background()

	res, err := client.Open(ctx, "f", ops.OpenFlags{Create: true}, policy.Posix, 1, 1)
	require.NoError(t, err)

	newHashes := capfs.Recipe{capfs.Digest([]byte("a")), capfs.Digest([]byte("b"))}
	_, err = client.WCommit(ctx, res.Key, 0, nil, newHashes, int64(2*capfs.ChunkSize), false, 0)
	require.NoError(t, err)

	require.NoError(t, client.Truncate(ctx, res.Key, int64(capfs.ChunkSize), 0))

	got, _, err := client.GetHashes(ctx, res.Key, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, newHashes[0], got[0])
	assert.Equal(t, capfs.ZeroHash, got[1])
}

func TestWCommitExcludesCommitterFromDispatch(t *testing.T) {
	transport := &recordingTransport{}
	client, _ := newTestManagerClientWithTransport(t, transport)
	ctx := context.Background()

	require.NoError(t, client.CbReg(ctx, 1, "addrA"))
	require.NoError(t, client.CbReg(ctx, 2, "addrB"))

	res, err := client.Open(ctx, "f", ops.OpenFlags{Create: true}, policy.Posix, 1, 1)
	require.NoError(t, err)
	_, err = client.Open(ctx, "f", ops.OpenFlags{}, policy.Posix, 2, 1)
	require.NoError(t, err)

	first := capfs.Recipe{capfs.Digest([]byte("v1"))}
	_, err = client.WCommit(ctx, res.Key, 0, nil, first, int64(capfs.ChunkSize), false, 1)
	require.NoError(t, err)

	second := capfs.Recipe{capfs.Digest([]byte("v2"))}
	_, err = client.WCommit(ctx, res.Key, 0, first, second, int64(capfs.ChunkSize), false, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"addrB"}, transport.updated, "committer's own callback must never receive its own dispatch")
	assert.Empty(t, transport.invalidated)
}

func TestGetHashesOnUnopenedKeyIsNotExist(t *testing.T) {
	client := newTestManagerClient(t)
	_, _, err := client.GetHashes(context.Background(), capfs.FileKey{ManagerID: 1, FsIno: 1, FileIno: 9999}, 0, 1)
	assert.ErrorIs(t, err, capfserr.ErrNotExist)
}
