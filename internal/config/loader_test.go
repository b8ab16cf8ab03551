package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("DRIVECAST_DATA_DIR", dataDir)

	cfg, err := NewLoader("", "v-test").Load()
	require.NoError(t, err)

	assert.Equal(t, "v-test", cfg.Version)
	assert.Equal(t, ":8088", cfg.Server.ListenAddr)
	assert.Equal(t, StorageFS, cfg.Storage.Backend)
	assert.Equal(t, filepath.Join(dataDir, "objects"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(dataDir, "drivecast.db"), cfg.Records.Path)
	assert.Equal(t, filepath.Join(dataDir, "tmp"), cfg.Finalize.WorkDir)
	assert.Equal(t, "/analyze_s3_video_async", cfg.Analysis.Path)
	assert.Zero(t, cfg.Finalize.AutoFinalizeAfter)
	assert.Equal(t, "ko", cfg.Feedback.Language)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
dataDir: `+t.TempDir()+`
server:
  listenAddr: "127.0.0.1:9000"
api:
  publicURL: "https://drive.example.com"
  tokens:
    - token: "secret-1"
      user: "42"
storage:
  backend: badger
analysis:
  baseURL: "http://ai.internal:8000"
  timeout: 3s
finalize:
  autoFinalizeAfter: 30m
`)

	cfg, err := NewLoader(path, "v").Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
	assert.Equal(t, StorageBadger, cfg.Storage.Backend)
	assert.Equal(t, "http://ai.internal:8000", cfg.Analysis.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Analysis.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Finalize.AutoFinalizeAfter)
	require.Len(t, cfg.API.Tokens, 1)
	assert.Equal(t, "42", cfg.API.Tokens[0].User)
	// Untouched sections keep defaults.
	assert.Equal(t, 64, cfg.Analysis.MaxInFlight)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "storage:\n  backend: fs\n  bucket: nope\n")

	_, err := NewLoader(path, "v").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse error")
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "logLevel: info\n---\nlogLevel: debug\n")

	_, err := NewLoader(path, "v").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple documents")
}

func TestLoadRejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	_, err := NewLoader(path, "v").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	t.Setenv("DRIVECAST_DATA_DIR", t.TempDir())
	path := writeConfig(t, "")

	cfg, err := NewLoader(path, "v").Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "dataDir: "+t.TempDir()+"\nlogLevel: warn\n")
	t.Setenv("DRIVECAST_LOG_LEVEL", "debug")
	t.Setenv("DRIVECAST_STORAGE_BACKEND", "memory")
	t.Setenv("DRIVECAST_API_TOKEN", "env-token")
	t.Setenv("DRIVECAST_API_TOKEN_USER", "7")
	t.Setenv("DRIVECAST_AUTO_FINALIZE_AFTER", "15m")

	l := NewLoader(path, "v")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Finalize.AutoFinalizeAfter)
	require.Len(t, cfg.API.Tokens, 1)
	assert.Equal(t, TokenConfig{Token: "env-token", User: "7"}, cfg.API.Tokens[0])
	assert.Contains(t, l.ConsumedEnvKeys, "DRIVECAST_LOG_LEVEL")
	assert.Contains(t, l.ConsumedEnvKeys, "DRIVECAST_ANALYSIS_URL")
}

func TestLoadValidationFailure(t *testing.T) {
	t.Setenv("DRIVECAST_DATA_DIR", t.TempDir())
	t.Setenv("DRIVECAST_STORAGE_BACKEND", "s3")

	_, err := NewLoader("", "v").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
}
