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
	Reset()
	defer Reset()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.Equal(t, "127.0.0.1", cfg.Gateway.Host)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 2, cfg.Retry.EmptyRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)

	assert.True(t, cfg.Dispatch.Enabled)
	assert.Equal(t, 5, cfg.Dispatch.HistoryTurns)
	assert.Equal(t, []float64{0.3, 0.5, 0.7}, cfg.Dispatch.Temperatures)

	assert.False(t, cfg.Context.GroupIsolation)
	assert.False(t, cfg.Context.SerializeRequests)
	assert.Equal(t, DefaultAutoCleanNotice, cfg.Context.AutoCleanNotice)
	assert.Equal(t, "append", cfg.Prompt.Mode)
	assert.Equal(t, 5*time.Minute, cfg.Scope.CacheTTL)
}

func TestLoad_FromFile(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	content := `
gateway:
  port: 9000
log:
  level: debug
models:
  default: gpt-main
  tool: gpt-tool
  fallbacks: [gpt-backup]
channels:
  - id: primary
    name: Primary
    adapter_type: openai
    base_url: https://api.example.com/v1
    models: [gpt-main, gpt-tool]
    priority: 10
    keys: [sk-1, sk-2]
    enabled: true
    advanced:
      timeout: 30s
      headers:
        X-Org: acme
presets:
  - id: cat
    name: Cat
    system_prompt: You are a cat.
    disable_system_prompt: false
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Gateway.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1", cfg.Gateway.Host, "unspecified values keep defaults")

	assert.Equal(t, "gpt-tool", cfg.Models.Scenario("tool"))
	assert.Empty(t, cfg.Models.Scenario("draw"))
	assert.Equal(t, "gpt-main", cfg.Models.Default)
	assert.Equal(t, []string{"gpt-backup"}, cfg.Models.Fallbacks)

	require.Len(t, cfg.Channels, 1)
	ch := cfg.Channels[0]
	assert.Equal(t, "primary", ch.ID)
	assert.Equal(t, []string{"sk-1", "sk-2"}, ch.Keys)
	assert.Equal(t, 30*time.Second, ch.Advanced.Timeout)
	assert.Equal(t, "acme", ch.Advanced.Headers["x-org"])
	assert.True(t, ch.Enabled)

	require.Len(t, cfg.Presets, 1)
	assert.Equal(t, "You are a cat.", cfg.Presets[0].SystemPrompt)
}

func TestLoad_EnvOverride(t *testing.T) {
	Reset()
	defer Reset()

	t.Setenv("CHATLINE_GATEWAY_PORT", "7777")
	t.Setenv("CHATLINE_CONTEXT_AUTO_CLEAN", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Gateway.Port)
	assert.True(t, cfg.Context.AutoClean)
}

func TestLoad_InvalidYAML(t *testing.T) {
	Reset()
	defer Reset()

	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("gateway: [unclosed"), 0644))

	_, err := Load(configFile)
	assert.Error(t, err)
}

func TestLoad_NonexistentFile(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Gateway.Port)
}

func TestSaveTo(t *testing.T) {
	Reset()
	defer Reset()

	cfg, err := Load("")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveTo(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	Reset()
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Retry.MaxRetries, loaded.Retry.MaxRetries)
	assert.Equal(t, cfg.Models.Default, loaded.Models.Default)
}
