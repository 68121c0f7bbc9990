package ops_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnv104/capfs-sub000/internal/capfserr"
	"github.com/mnv104/capfs-sub000/pkg/manager/ops"
	"github.com/mnv104/capfs-sub000/pkg/policy"
)

func TestLookupUnknownPathErrors(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Lookup(context.Background(), "nope")
	assert.ErrorIs(t, err, capfserr.ErrNotExist)
}

func TestChmodChangesMode(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Open(context.Background(), "f", ops.OpenFlags{Create: true, Mode: 0o644}, policy.Posix, 1, 1)
	require.NoError(t, err)

	require.NoError(t, e.Chmod(context.Background(), "f", 0o600))
	state, err := e.Stat(context.Background(), "f")
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), state.Mode)
}

func TestChownNegativeLeavesFieldUnchanged(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Open(context.Background(), "f", ops.OpenFlags{Create: true, UID: 10, GID: 20}, policy.Posix, 1, 1)
	require.NoError(t, err)

	require.NoError(t, e.Chown(context.Background(), "f", 99, -1))
	state, err := e.Stat(context.Background(), "f")
	require.NoError(t, err)
	assert.Equal(t, uint32(99), state.UID)
	assert.Equal(t, uint32(20), state.GID)
}

func TestUtimeZeroLeavesFieldUnchanged(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Open(context.Background(), "f", ops.OpenFlags{Create: true}, policy.Posix, 1, 1)
	require.NoError(t, err)

	before, err := e.Stat(context.Background(), "f")
	require.NoError(t, err)

	newAtime := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, e.Utime(context.Background(), "f", newAtime, time.Time{}))

	after, err := e.Stat(context.Background(), "f")
	require.NoError(t, err)
	assert.True(t, after.Atime.Equal(newAtime))
	assert.True(t, after.Mtime.Equal(before.Mtime))
}

func TestAccessRootAlwaysWins(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Open(context.Background(), "f", ops.OpenFlags{Create: true, Mode: 0o000, UID: 5, GID: 5}, policy.Posix, 1, 1)
	require.NoError(t, err)

	assert.NoError(t, e.Access(context.Background(), "f", 0, 0, 0o7))
}

func TestAccessDeniesWrongOwnerNoPerm(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Open(context.Background(), "f", ops.OpenFlags{Create: true, Mode: 0o600, UID: 5, GID: 5}, policy.Posix, 1, 1)
	require.NoError(t, err)

	err = e.Access(context.Background(), "f", 6, 6, 0o4)
	assert.ErrorIs(t, err, capfserr.ErrPermission)
}
