package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "duckdb", cfg.Storage.Type)
	assert.True(t, cfg.Limits.Enforce)
	assert.Equal(t, 3, cfg.API.MaxRetries)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"storage": {"type": "memory", "path": ""},
		"api": {"max_retries": 5, "timeout": "10s"},
		"logging": {"level": "debug", "format": "text", "output": "stderr"}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 5, cfg.API.MaxRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)

	timeout, err := cfg.HTTPTimeout()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, timeout)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage": {"type": "memory"}}`), 0o644))

	t.Setenv("CHRONOS_STORAGE_TYPE", "duckdb")
	t.Setenv("CHRONOS_STORAGE_PATH", "/tmp/cache.db")
	t.Setenv("CHRONOS_MAX_RETRIES", "7")
	t.Setenv("CHRONOS_ENFORCE_LIMITS", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "duckdb", cfg.Storage.Type)
	assert.Equal(t, "/tmp/cache.db", cfg.Storage.Path)
	assert.Equal(t, 7, cfg.API.MaxRetries)
	assert.False(t, cfg.Limits.Enforce)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Storage.Type = "postgres"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Storage.Path = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.API.Timeout = "soon"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.API.MaxRetries = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Logging.Output = "file"
	assert.Error(t, cfg.Validate())
}

func TestSymbolMaxAgeDefault(t *testing.T) {
	cfg := Default()
	age, err := cfg.SymbolMaxAge()
	require.NoError(t, err)
	assert.Equal(t, 168*time.Hour, age)
}
