package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.ListenAddr)
	assert.Equal(t, 256, c.WorkerPoolSize)
	assert.Equal(t, 100000, c.MaxConnections)
	assert.Equal(t, 10*time.Second, c.ReadTimeout)
	assert.Equal(t, 30*time.Second, c.IdentifyTimeout)
	assert.Equal(t, "localhost:6379", c.RedisAddr)
	assert.Empty(t, c.DatabaseDSN)
	assert.Empty(t, c.AdminIDs)
	assert.False(t, c.DedupeReports)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RELAY_LISTEN_ADDR", ":9000")
	t.Setenv("RELAY_WORKER_POOL_SIZE", "32")
	t.Setenv("RELAY_READ_TIMEOUT", "3s")
	t.Setenv("RELAY_ADMIN_IDS", "100, 200,,300")
	t.Setenv("RELAY_DEDUPE_REPORTS", "true")
	t.Setenv("RELAY_REDIS_ADDR", "")

	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9000", c.ListenAddr)
	assert.Equal(t, 32, c.WorkerPoolSize)
	assert.Equal(t, 3*time.Second, c.ReadTimeout)
	assert.Equal(t, []string{"100", "200", "300"}, c.AdminIDs)
	assert.True(t, c.DedupeReports)
	assert.Empty(t, c.RedisAddr, "an empty value disables redis")
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	body := []byte(`
listen_addr: ":7070"
max_connections: 50
database_dsn: "postgres://relay@localhost/relay?sslmode=disable"
admin_ids:
  - "1"
  - "2"
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", c.ListenAddr)
	assert.Equal(t, 50, c.MaxConnections)
	assert.Equal(t, "postgres://relay@localhost/relay?sslmode=disable", c.DatabaseDSN)
	assert.Equal(t, []string{"1", "2"}, c.AdminIDs)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":7070\"\n"), 0o600))
	t.Setenv("RELAY_LISTEN_ADDR", ":6060")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":6060", c.ListenAddr)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("RELAY_WORKER_POOL_SIZE", "0")
	_, err = Load("")
	assert.ErrorContains(t, err, "worker_pool_size")
}
