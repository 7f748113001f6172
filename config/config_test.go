package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Load_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "devbox", cfg.Container.Name)
	assert.Equal(t, 2, cfg.Container.Cores)
	assert.Equal(t, 4096, cfg.Container.MemoryMB)
	assert.Equal(t, 20, cfg.Container.DiskGB)
	assert.Equal(t, "ubuntu", cfg.Template.OS)
	assert.Equal(t, 60*time.Second, cfg.Timeouts.Boot)
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Network)
	assert.Equal(t, "warn", cfg.Policies.MemoryCheck)
	assert.Len(t, cfg.Policies.ProbeEndpoints, 2)
}

func Test_Load_EnvOverrides(t *testing.T) {
	t.Setenv("LABCTL_CORES", "8")
	t.Setenv("LABCTL_MEMORY_MB", "8192")
	t.Setenv("LABCTL_CONTAINER_NAME", "bigbox")
	t.Setenv("LABCTL_CONTAINER_ID", "205")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Container.Cores)
	assert.Equal(t, 8192, cfg.Container.MemoryMB)
	assert.Equal(t, "bigbox", cfg.Container.Name)
	assert.Equal(t, 205, cfg.Container.ID)
}

func Test_Load_FileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labctl.yaml")
	content := "container:\n  cores: 4\n  disk_gb: 40\ntimeouts:\n  boot: 90s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("LABCTL_CORES", "16")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Environment wins over the file; the file wins over defaults.
	assert.Equal(t, 16, cfg.Container.Cores)
	assert.Equal(t, 40, cfg.Container.DiskGB)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.Boot)
	assert.Equal(t, 4096, cfg.Container.MemoryMB)
}
