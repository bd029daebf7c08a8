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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "auto", cfg.Build.Backend)
	assert.Equal(t, 3, cfg.Registry.ProbeAttempts)
	assert.Equal(t, 5*time.Second, cfg.Pod.ReadyPollInterval)
	assert.Equal(t, 180, cfg.Pod.ReadyMaxAttempts)
	assert.Equal(t, 100, cfg.Pod.VolumeSizeGB)
	assert.Equal(t, "/cache", cfg.Pod.VolumeMountPath)
	assert.Equal(t, "RUNPOD_API_KEY", cfg.Provider.APIKeyEnv)
	assert.Contains(t, cfg.Pod.Ports, "8080/http")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
build:
  backend: github_actions
  github_repository: acme/pipelines
pod:
  ready_max_attempts: 12
  ready_poll_interval: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "github_actions", cfg.Build.Backend)
	assert.Equal(t, "acme/pipelines", cfg.Build.GitHubRepository)
	assert.Equal(t, 12, cfg.Pod.ReadyMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Pod.ReadyPollInterval)
	// Untouched sections keep their defaults.
	assert.Equal(t, 100, cfg.Pod.VolumeSizeGB)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("build:\n  backend: teleport\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build.backend")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CE_BUILD_BACKEND", "local")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Build.Backend)
}
