package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrWong99/xlatesched/internal/sched/config"
)

const sampleYAML = `
instance_id: sched-1
redis:
  addrs: ["redis-0:6379", "redis-1:6379"]
server:
  session_listen_addr: ":9001"
dispatcher:
  failover_max: 4
`

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scheduler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeTempFile(t, sampleYAML)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "sched-1", cfg.InstanceID)
	require.Equal(t, []string{"redis-0:6379", "redis-1:6379"}, cfg.Redis.Addrs)
	require.Equal(t, ":9001", cfg.Server.SessionListenAddr)
	require.Equal(t, 4, cfg.Dispatcher.FailoverMax)

	// Fields not present in the file keep their defaults.
	require.Equal(t, ":8082", cfg.Server.NodeListenAddr)
	require.Equal(t, 30*time.Second, cfg.Dispatcher.JobTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeTempFile(t, sampleYAML)
	t.Setenv("SCHED_INSTANCE_ID", "sched-env")
	t.Setenv("SCHED_DISPATCHER__FAILOVER_MAX", "7")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "sched-env", cfg.InstanceID)
	require.Equal(t, 7, cfg.Dispatcher.FailoverMax)
}

func TestLoad_NoFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("SCHED_SERVER__ADMIN_LISTEN_ADDR", ":9999")

	cfg, err := config.Load("")
	require.NoError(t, err)

	require.Equal(t, ":9999", cfg.Server.AdminListenAddr)
	require.Equal(t, 3, cfg.Registry.HealthCheckCount)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeTempFile(t, sampleYAML)

	changed := make(chan config.Config, 1)
	w, err := config.NewWatcher(path, func(old, new config.Config) {
		changed <- new
	})
	require.NoError(t, err)
	defer w.Stop()

	require.Equal(t, "sched-1", w.Current().InstanceID)

	require.NoError(t, os.WriteFile(path, []byte(`instance_id: sched-2`), 0o644))

	select {
	case cfg := <-changed:
		require.Equal(t, "sched-2", cfg.InstanceID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	require.Equal(t, "sched-2", w.Current().InstanceID)
}
