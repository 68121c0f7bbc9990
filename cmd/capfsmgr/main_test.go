package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnv104/capfs-sub000/internal/layout"
)

func TestRunInitWritesSentinelAndEmptyIodtab(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, runInit(dir))

	assert.True(t, layout.HasSentinel(dir, layout.CapfsdirName))

	servers, err := layout.ReadIodtab(dir)
	require.NoError(t, err)
	assert.Empty(t, servers)
}

func TestRunInitCreatesMissingDir(t *testing.T) {
	dir := t.TempDir() + "/nested/manager-root"
	require.NoError(t, runInit(dir))
	assert.True(t, layout.HasSentinel(dir, layout.CapfsdirName))
}
