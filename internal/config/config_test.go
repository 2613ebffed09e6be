package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Oracle.Provider)
	assert.Equal(t, 50, cfg.MaxIterations)
	assert.Equal(t, 60, cfg.ToolTimeoutSeconds)
	assert.Equal(t, "http://localhost:9222", cfg.Browser.BridgeURL)
	assert.False(t, cfg.Events.Enabled)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"oracle": {"provider": "openai", "model": "gpt-4.1"},
		"max_iterations": 25,
		"allowed_tools": ["browser_navigate", "browser_extract"]
	}`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Oracle.Provider)
	assert.Equal(t, "gpt-4.1", cfg.Oracle.Model)
	assert.Equal(t, 25, cfg.MaxIterations)
	// unset fields keep their defaults
	assert.Equal(t, "http://localhost:9222", cfg.Browser.BridgeURL)

	assert.True(t, cfg.IsToolAllowed("browser_navigate"))
	assert.False(t, cfg.IsToolAllowed("http_request"))
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("BOTENGINE_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("BOTENGINE_BROWSER_BRIDGE", "http://localhost:9333")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Oracle.Provider)
	assert.Equal(t, "sk-test", cfg.Oracle.APIKey)
	assert.Equal(t, "http://localhost:9333", cfg.Browser.BridgeURL)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")

	cfg := DefaultConfig()
	cfg.MaxIterations = 10
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.MaxIterations)
}

func TestIsToolAllowedEmptyListPermitsAll(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.IsToolAllowed("anything"))
}
