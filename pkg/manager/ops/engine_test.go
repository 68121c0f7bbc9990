package ops_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnv104/capfs-sub000/internal/capfserr"
	"github.com/mnv104/capfs-sub000/internal/config"
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

func newTestEngine(t *testing.T) *ops.Engine {
	t.Helper()
	dir := t.TempDir()
	recipes := recipestore.New(dir)
	registry := callback.New()
	dispatch := callback.NewDispatcher(callback.NewChannels(), noopTransport{})
	inodes, err := inodetable.Open(filepath.Join(dir, "inodes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = inodes.Close() })

	cfg := config.Default()
	return ops.NewEngine(cfg, recipes, registry, dispatch, inodes)
}

func TestOpenCreatesAndAssignsKey(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Open(context.Background(), "f", ops.OpenFlags{Create: true, Mode: 0o644}, policy.Posix, 1, 2)
	require.NoError(t, err)
	assert.False(t, res.Key.IsZero())
}

func TestOpenWithoutCreateOnMissingFileErrors(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Open(context.Background(), "missing", ops.OpenFlags{}, policy.Posix, 1, 2)
	assert.ErrorIs(t, err, capfserr.ErrNotExist)
}

func TestOpenExclOnExistingFileErrors(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Open(context.Background(), "f", ops.OpenFlags{Create: true}, policy.Posix, 1, 2)
	require.NoError(t, err)

	_, err = e.Open(context.Background(), "f", ops.OpenFlags{Create: true, Excl: true}, policy.Posix, 2, 2)
	assert.ErrorIs(t, err, capfserr.ErrExist)
}

func TestOpenReusesKeyAcrossCalls(t *testing.T) {
	e := newTestEngine(t)
	first, err := e.Open(context.Background(), "f", ops.OpenFlags{Create: true}, policy.Posix, 1, 2)
	require.NoError(t, err)
	second, err := e.Open(context.Background(), "f", ops.OpenFlags{}, policy.Posix, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, first.Key, second.Key)
}

func TestWCommitCASMismatchReturnsEAgain(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Open(context.Background(), "f", ops.OpenFlags{Create: true}, policy.Posix, 1, 1)
	require.NoError(t, err)

	wrongOld := capfs.Recipe{capfs.Digest([]byte("not-the-real-old-hash"))}
	newHashes := capfs.Recipe{capfs.Digest([]byte("new"))}
	_, err = e.WCommit(context.Background(), res.Key, "f", 0, wrongOld, newHashes, int64(capfs.ChunkSize), ops.WCommitFlags{}, 1)
	assert.ErrorIs(t, err, capfserr.ErrAgain)
}

func TestWCommitAppliesOnMatch(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Open(context.Background(), "f", ops.OpenFlags{Create: true}, policy.Posix, 1, 1)
	require.NoError(t, err)

	newHashes := capfs.Recipe{capfs.Digest([]byte("chunk"))}
	current, err := e.WCommit(context.Background(), res.Key, "f", 0, nil, newHashes, int64(capfs.ChunkSize), ops.WCommitFlags{}, 1)
	require.NoError(t, err)
	assert.Equal(t, newHashes, current)

	recipe, size, err := e.GetHashes(context.Background(), res.Key, "f", 0, 1, 1, false)
	require.NoError(t, err)
	assert.Equal(t, newHashes, recipe)
	assert.Equal(t, int64(capfs.ChunkSize), size)
}

func TestWCommitForceCommitIgnoresMismatch(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Open(context.Background(), "f", ops.OpenFlags{Create: true}, policy.Posix, 1, 1)
	require.NoError(t, err)

	wrongOld := capfs.Recipe{capfs.Digest([]byte("whatever"))}
	newHashes := capfs.Recipe{capfs.Digest([]byte("new"))}
	_, err = e.WCommit(context.Background(), res.Key, "f", 0, wrongOld, newHashes, int64(capfs.ChunkSize), ops.WCommitFlags{ForceCommit: true}, 1)
	require.NoError(t, err)
}

func TestTruncateShrinkDropsHashesPastNewSize(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Open(context.Background(), "f", ops.OpenFlags{Create: true}, policy.Posix, 1, 1)
	require.NoError(t, err)

	newHashes := capfs.Recipe{capfs.Digest([]byte("a")), capfs.Digest([]byte("b"))}
	_, err = e.WCommit(context.Background(), res.Key, "f", 0, nil, newHashes, int64(2*capfs.ChunkSize), ops.WCommitFlags{}, 1)
	require.NoError(t, err)

	require.NoError(t, e.Truncate(context.Background(), res.Key, "f", int64(capfs.ChunkSize), 1))

	recipe, _, err := e.GetHashes(context.Background(), res.Key, "f", 0, 2, 1, false)
	require.NoError(t, err)
	assert.Equal(t, newHashes[0], recipe[0])
	assert.Equal(t, capfs.ZeroHash, recipe[1], "bytes past the new size read back as zero")
}

func TestUnlinkOfOpenFileIsDeferredToClose(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Open(context.Background(), "f", ops.OpenFlags{Create: true}, policy.Posix, 1, 1)
	require.NoError(t, err)

	require.NoError(t, e.Unlink(context.Background(), "f", 1))

	// Still resolvable through stat while a handle remains open.
	_, err = e.Stat(context.Background(), "f")
	assert.NoError(t, err)

	require.NoError(t, e.Close(context.Background(), res.Key, 1, 1, time.Time{}, time.Time{}, time.Time{}))
	_, err = e.Stat(context.Background(), "f")
	assert.ErrorIs(t, err, capfserr.ErrNotExist)
}

func TestRenamePreservesFileKey(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Open(context.Background(), "old", ops.OpenFlags{Create: true}, policy.Posix, 1, 1)
	require.NoError(t, err)

	require.NoError(t, e.Rename(context.Background(), "old", "new", 1))

	key, err := e.Lookup(context.Background(), "new")
	require.NoError(t, err)
	assert.Equal(t, res.Key, key)

	_, err = e.Lookup(context.Background(), "old")
	assert.ErrorIs(t, err, capfserr.ErrNotExist)
}
