package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load reads so tests are hermetic.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HTTP_PORT", "BROWSER_MODE", "CDP_URL", "BROWSER_CONTAINER_IMAGE",
		"BROWSER_EXECUTABLE", "LLM_BASE_URL", "LLM_MODEL", "SUMMARY_MODEL",
		"DETECTOR_URL", "DATABASE_URL", "ENCRYPTION_KEY",
		"DEEPSEEK_API_KEY", "OPENAI_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.HTTPPort)
	assert.Equal(t, BrowserModeDirect, cfg.BrowserMode)
	assert.Equal(t, "deepseek-chat", cfg.LLMModel)
	assert.Equal(t, cfg.LLMModel, cfg.SummaryModel)
	assert.Equal(t, 50, cfg.Agent.MaxSteps)
	assert.Equal(t, 60, cfg.Agent.ScreencastQuality)
	assert.True(t, cfg.Agent.EnableVision)
	assert.False(t, cfg.RemoteBrowser())
}

func TestLoadRejectsUnknownBrowserMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("BROWSER_MODE", "headless")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROWSER_MODE")
}

func TestLoadRequiresCDPURLForRemoteModes(t *testing.T) {
	for _, mode := range []string{"container", "custom"} {
		t.Run(mode, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("BROWSER_MODE", mode)

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "CDP_URL")

			t.Setenv("CDP_URL", "http://localhost:9222/")
			cfg, err := Load("")
			require.NoError(t, err)
			assert.Equal(t, "http://localhost:9222", cfg.CDPURL)
			assert.True(t, cfg.RemoteBrowser())
		})
	}
}

func TestLoadDeepSeekKeyImpliesBaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLMAPIKey)
	assert.Equal(t, "https://api.deepseek.com", cfg.LLMBaseURL)
}

func TestLoadDeepSeekKeyKeepsExplicitBaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")
	t.Setenv("LLM_BASE_URL", "http://proxy.internal/v1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.internal/v1", cfg.LLMBaseURL)
}

func TestLoadOpenAIKeyLeavesBaseURLEmpty(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-oai")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-oai", cfg.LLMAPIKey)
	assert.Empty(t, cfg.LLMBaseURL)
}

func TestLoadSummaryModelOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUMMARY_MODEL", "gpt-4o-mini")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.SummaryModel)
}

func TestLoadAgentYAMLOverlay(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yaml := "max_steps: 15\nscreencast_quality: 80\nenable_vision: false\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Agent.MaxSteps)
	assert.Equal(t, 80, cfg.Agent.ScreencastQuality)
	assert.False(t, cfg.Agent.EnableVision)
	// Untouched keys keep their defaults.
	assert.Equal(t, 120, cfg.Agent.StepTimeoutSecs)
}

func TestLoadAgentYAMLMissingFileIsFine(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Agent.MaxSteps)
}

func TestLoadAgentYAMLValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero max steps", "max_steps: 0\n"},
		{"quality too high", "screencast_quality: 150\n"},
		{"malformed", "max_steps: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.yaml"), []byte(tt.yaml), 0o644))

			_, err := Load(dir)
			assert.Error(t, err)
		})
	}
}
