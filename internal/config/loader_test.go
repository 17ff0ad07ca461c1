package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.toml")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.toml", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("should load defaults when the file does not exist", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		configPath := filepath.Join(t.TempDir(), "missing.toml")

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, ProviderOllama, cfg.Provider)
		assert.Equal(t, 15, cfg.Agent.MaxTurns)
		assert.Equal(t, 5*time.Minute, cfg.Agent.RequestTimeout)
		assert.NotEmpty(t, cfg.DataDir)
		assert.Equal(t, filepath.Join(cfg.DataDir, "sessions"), cfg.SessionsDir)
		assert.Equal(t, filepath.Join(cfg.DataDir, "agerus.log"), cfg.Logging.File)
	})

	t.Run("should merge the file over defaults", func(t *testing.T) {
		dir := t.TempDir()
		configPath := filepath.Join(dir, "config.toml")
		content := `
provider = "anthropic"
model = "claude-sonnet-4"
api_key = "sk-ant-test"
data_dir = "` + dir + `"

[agent]
max_turns = 5
request_timeout = "90s"

[sandbox]
mode = "local"
`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, ProviderAnthropic, cfg.Provider)
		assert.Equal(t, "claude-sonnet-4", cfg.Model)
		assert.Equal(t, 5, cfg.Agent.MaxTurns)
		assert.Equal(t, 90*time.Second, cfg.Agent.RequestTimeout)
		assert.Equal(t, "<think>", cfg.Agent.ReasoningOpen)
		assert.Equal(t, SandboxLocal, cfg.Sandbox.Mode)
		assert.Equal(t, "__END_OF_CMD__", cfg.Sandbox.Sentinel)
		assert.Equal(t, filepath.Join(dir, "sessions"), cfg.SessionsDir)
	})

	t.Run("should apply environment overrides", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("AGERUS_MODEL", "llama3")
		t.Setenv("AGERUS_AGENT_MAX_TURNS", "7")
		t.Setenv("AGERUS_DATA_DIR", dir)

		cfg, err := NewLoader(filepath.Join(dir, "config.toml")).Load()
		require.NoError(t, err)

		assert.Equal(t, "llama3", cfg.Model)
		assert.Equal(t, 7, cfg.Agent.MaxTurns)
		assert.Equal(t, dir, cfg.DataDir)
	})

	t.Run("should fail on a malformed file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(configPath, []byte("model = [unterminated"), 0o644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "nested", "config.toml")

	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.Model = "deepseek-r1"
	cfg.Agent.MaxTurns = 9
	cfg.Tools.Timeout = 45 * time.Second
	cfg.Events.Enabled = true

	loader := NewLoader(configPath)
	require.NoError(t, loader.Save(cfg))
	assert.FileExists(t, configPath)

	loaded, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "deepseek-r1", loaded.Model)
	assert.Equal(t, 9, loaded.Agent.MaxTurns)
	assert.Equal(t, 45*time.Second, loaded.Tools.Timeout)
	assert.True(t, loaded.Events.Enabled)
	assert.Equal(t, cfg.SystemPrompt, loaded.SystemPrompt)
	assert.Equal(t, dir, loaded.DataDir)
}

func TestFlatten(t *testing.T) {
	flat := flatten("", map[string]interface{}{
		"model": "m",
		"agent": map[string]interface{}{"max_turns": 3},
	})
	assert.Equal(t, map[string]interface{}{"model": "m", "agent.max_turns": 3}, flat)
}
