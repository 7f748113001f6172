package report

import (
	"os"
	"testing"

	"github.com/devlab-cloud/labctl/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func Test_Reporter(t *testing.T) {
	result := models.RunResult{
		Target:        "proxmox",
		Name:          "devbox",
		ID:            101,
		ForwardedPort: 62101,
		Cores:         2,
		MemoryMB:      2048,
		DiskGB:        20,
		User:          "dev",
		LogPath:       "/tmp/labctl/labctl-20260829.log",
	}

	reporter, err := New(t.TempDir())
	require.NoError(t, err)

	t.Run("render", func(t *testing.T) {
		summary, err := reporter.Render(result)
		require.NoError(t, err)
		assert.Contains(t, summary, `Environment "devbox" is ready on proxmox.`)
		assert.Contains(t, summary, "ssh -p 62101 dev@localhost")
	})

	t.Run("render local omits ssh", func(t *testing.T) {
		local := result
		local.Target = "local"
		local.ForwardedPort = 0

		summary, err := reporter.Render(local)
		require.NoError(t, err)
		assert.NotContains(t, summary, "ssh -p")
	})

	t.Run("write", func(t *testing.T) {
		path, err := reporter.Write(result)
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)

		decoded := models.RunResult{}
		require.NoError(t, yaml.Unmarshal(content, &decoded))
		assert.Equal(t, result.Name, decoded.Name)
		assert.Equal(t, result.ForwardedPort, decoded.ForwardedPort)
	})
}
