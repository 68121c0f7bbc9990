package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnv104/capfs-sub000/internal/config"
	"github.com/mnv104/capfs-sub000/pkg/policy"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, int64(1), cfg.ManagerID)
	assert.Equal(t, config.BaseRoundRobin, cfg.BaseSelection)
	assert.Equal(t, policy.Posix, cfg.Policy)
	assert.False(t, cfg.CacheHandles)
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capfs.toml")
	content := `
manager_id = 7
port = 9999
base_selection = "random"
consistency_policy = "session"
data_servers = ["a:1", "b:2"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.ManagerID)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, config.BaseRandom, cfg.BaseSelection)
	assert.Equal(t, policy.Session, cfg.Policy)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.DataServers)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, config.Default().ThreadCount, cfg.ThreadCount)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := config.Load("/nonexistent/capfs.toml")
	assert.Error(t, err)
}
