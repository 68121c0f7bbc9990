package inodetable_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnv104/capfs-sub000/pkg/manager/inodetable"
)

func openTable(t *testing.T) *inodetable.Table {
	t.Helper()
	tab, err := inodetable.Open(filepath.Join(t.TempDir(), "inodes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tab.Close() })
	return tab
}

func TestAssignIsIdempotent(t *testing.T) {
	tab := openTable(t)

	first, err := tab.Assign("a/b")
	require.NoError(t, err)

	second, err := tab.Assign("a/b")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAssignHandsOutDistinctNumbers(t *testing.T) {
	tab := openTable(t)

	a, err := tab.Assign("a")
	require.NoError(t, err)
	b, err := tab.Assign("b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestLookupMiss(t *testing.T) {
	tab := openTable(t)
	_, ok, err := tab.Lookup("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteForgetsAssignment(t *testing.T) {
	tab := openTable(t)
	_, err := tab.Assign("f")
	require.NoError(t, err)

	require.NoError(t, tab.Delete("f"))
	_, ok, err := tab.Lookup("f")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteNeverReusesNumber(t *testing.T) {
	tab := openTable(t)
	first, err := tab.Assign("f")
	require.NoError(t, err)
	require.NoError(t, tab.Delete("f"))

	second, err := tab.Assign("g")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestRenamePreservesInode(t *testing.T) {
	tab := openTable(t)
	ino, err := tab.Assign("old")
	require.NoError(t, err)

	require.NoError(t, tab.Rename("old", "new"))
	_, ok, err := tab.Lookup("old")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := tab.Lookup("new")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ino, got)
}

func TestRenameMissingSourceErrors(t *testing.T) {
	tab := openTable(t)
	err := tab.Rename("nope", "new")
	assert.Error(t, err)
}
