package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "production") // .env не подхватывается
	t.Setenv("CONFIG_PATH", "/nonexistent/syncd.yaml")

	cfg := Load()
	assert.Equal(t, "127.0.0.1:8090", cfg.ServerAddr)
	assert.Equal(t, "pg", cfg.StoreBackend)
	assert.Equal(t, "http://localhost:4000/graphql", cfg.RemoteEndpoint)
	assert.Equal(t, 30*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 10, cfg.DBMaxConnections())
	assert.Empty(t, cfg.RemoteToken)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_addr: "0.0.0.0:9000"
store_backend: memory
remote_endpoint: "https://chat.example.com/graphql"
probe_interval: 5
log_level: debug
`), 0o644))

	t.Setenv("APP_ENV", "production")
	t.Setenv("CONFIG_PATH", path)

	cfg := Load()
	assert.Equal(t, "0.0.0.0:9000", cfg.ServerAddr)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, "https://chat.example.com/graphql", cfg.RemoteEndpoint)
	assert.Equal(t, 5*time.Second, cfg.ProbeInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store_backend: memory\n"), 0o644))

	t.Setenv("APP_ENV", "production")
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REMOTE_TOKEN", "tok-123")
	t.Setenv("DB_MAX_CONNECTIONS", "3")

	cfg := Load()
	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, "tok-123", cfg.RemoteToken)
	assert.Equal(t, 3, cfg.DBMaxConnections())
}

func TestBrokenYAMLFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{not yaml"), 0o644))

	t.Setenv("APP_ENV", "production")
	t.Setenv("CONFIG_PATH", path)

	cfg := Load()
	assert.Equal(t, "pg", cfg.StoreBackend)
}

func TestEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "abc")
	assert.Equal(t, 7, envInt("SOME_INT", 7))
	t.Setenv("SOME_INT", "42")
	assert.Equal(t, 42, envInt("SOME_INT", 7))
}
