package layout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnv104/capfs-sub000/internal/layout"
)

func TestSentinelRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.False(t, layout.HasSentinel(dir, layout.CapfsdirName))

	require.NoError(t, layout.WriteSentinel(dir, layout.CapfsdirName))
	assert.True(t, layout.HasSentinel(dir, layout.CapfsdirName))

	s, err := layout.ReadSentinel(dir, layout.CapfsdirName)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Version)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestWriteSentinelRefusesToClobber(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, layout.WriteSentinel(dir, layout.CapfsiodName))
	err := layout.WriteSentinel(dir, layout.CapfsiodName)
	assert.Error(t, err)
}

func TestIodtabRoundTrip(t *testing.T) {
	dir := t.TempDir()
	servers := []string{"10.0.0.1:7789", "10.0.0.2:7789", "10.0.0.3:7789"}
	require.NoError(t, layout.WriteIodtab(dir, servers))

	got, err := layout.ReadIodtab(dir)
	require.NoError(t, err)
	assert.Equal(t, servers, got)
}

func TestIodtabEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, layout.WriteIodtab(dir, nil))
	got, err := layout.ReadIodtab(dir)
	require.NoError(t, err)
	assert.Empty(t, got)
}
