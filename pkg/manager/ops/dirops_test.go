package ops_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnv104/capfs-sub000/internal/capfserr"
	"github.com/mnv104/capfs-sub000/pkg/manager/ops"
	"github.com/mnv104/capfs-sub000/pkg/policy"
)

func TestMkdirRmdir(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Mkdir(context.Background(), "dir", 0o755))

	_, _, err := e.GetDents(context.Background(), "dir", 0, 10)
	require.NoError(t, err)

	require.NoError(t, e.Rmdir(context.Background(), "dir"))
	_, err = e.Readlink(context.Background(), "dir")
	assert.Error(t, err)
}

func TestRmdirRefusesNonEmpty(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Mkdir(context.Background(), "dir", 0o755))
	require.NoError(t, e.Mkdir(context.Background(), "dir/child", 0o755))

	err := e.Rmdir(context.Background(), "dir")
	assert.ErrorIs(t, err, capfserr.ErrNotEmpty)
}

func TestGetDentsFiltersReservedAndHashSiblings(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Mkdir(context.Background(), "dir", 0o755))
	_, err := e.Open(context.Background(), "dir/f", ops.OpenFlags{Create: true}, policy.Posix, 1, 1)
	require.NoError(t, err)

	entries, _, err := e.GetDents(context.Background(), "dir", 0, 10)
	require.NoError(t, err)
	var names []string
	for _, ent := range entries {
		names = append(names, ent.Name)
	}
	assert.Equal(t, []string{"f"}, names, "the sibling .hashes file must not appear as its own entry")
}

func TestSymlinkReadlink(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Symlink(context.Background(), "target", "link"))
	target, err := e.Readlink(context.Background(), "link")
	require.NoError(t, err)
	assert.Equal(t, "target", target)
}

func TestIodInfoMissingIodtabErrors(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.IodInfo(context.Background())
	assert.Error(t, err)
}
