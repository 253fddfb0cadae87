package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Voting.LockHold)
	assert.Equal(t, 3*time.Second, cfg.Voting.LockWait)
	assert.Equal(t, 10, cfg.Voting.MinCommunityCommentLength)
	assert.Equal(t, 30*time.Minute, cfg.Event.OverlapBuffer)
	assert.Equal(t, 6*time.Hour, cfg.Voting.IdempotencyTTL)
	assert.Equal(t, "5.199", cfg.VK.APIVersion)
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte(`
server:
  address: ":9090"
voting:
  require_event_comment: true
admin:
  ids: [101, 202]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.yaml"), yaml, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("VK_SERVICE_KEY=from-dotenv\n"), 0o644))
	chdir(t, dir)
	t.Setenv("VOTING_LOCK_WAIT", "1500ms")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.True(t, cfg.Voting.RequireEventComment)
	assert.Equal(t, 1500*time.Millisecond, cfg.Voting.LockWait)
	assert.Equal(t, "from-dotenv", cfg.VK.ServiceKey)
	assert.True(t, cfg.Admin.IsAdmin(202))
	assert.False(t, cfg.Admin.IsAdmin(303))

	// godotenv 写入的是进程环境变量，测试结束后手动清理
	t.Cleanup(func() { os.Unsetenv("VK_SERVICE_KEY") })
}

// chdir 切换工作目录并在测试结束时恢复（等价于 Go 1.24 的 t.Chdir）。
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
