// Package config loads service configuration from the environment, with an
// optional YAML defaults file for agent settings.
package config

import (
	"fmt"
	"os"
	"strings"
)

// BrowserMode selects how the engine obtains a browser.
type BrowserMode string

const (
	// BrowserModeDirect launches a local headful browser per session.
	BrowserModeDirect BrowserMode = "direct"
	// BrowserModeContainer connects to a provisioned browser container via CDP_URL.
	BrowserModeContainer BrowserMode = "container"
	// BrowserModeCustom connects to a user-supplied CDP_URL.
	BrowserModeCustom BrowserMode = "custom"
)

// Config is the resolved service configuration.
type Config struct {
	HTTPPort string

	BrowserMode           BrowserMode
	CDPURL                string
	BrowserContainerImage string
	BrowserExecutable     string

	// LLM provider. BaseURL empty means the provider default. The original
	// deployment pointed an OpenAI-compatible client at DeepSeek.
	LLMAPIKey    string
	LLMBaseURL   string
	LLMModel     string
	SummaryModel string

	// DetectorURL is the remote UI-element detector endpoint. Empty enables
	// the built-in heuristic detector only.
	DetectorURL string

	DatabaseURL   string
	EncryptionKey string

	Agent AgentDefaults
}

// AgentDefaults are tunables that may also come from the YAML defaults file.
type AgentDefaults struct {
	MaxSteps          int     `yaml:"max_steps"`
	StepTimeoutSecs   int     `yaml:"step_timeout_secs"`
	Temperature       float32 `yaml:"temperature"`
	EnableVision      bool    `yaml:"enable_vision"`
	ScreencastQuality int     `yaml:"screencast_quality"`
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load resolves configuration from the environment. configDir may contain an
// optional agent.yaml with AgentDefaults overrides.
func Load(configDir string) (*Config, error) {
	cfg := &Config{
		HTTPPort:              getenv("HTTP_PORT", "8000"),
		BrowserMode:           BrowserMode(getenv("BROWSER_MODE", string(BrowserModeDirect))),
		CDPURL:                strings.TrimRight(os.Getenv("CDP_URL"), "/"),
		BrowserContainerImage: getenv("BROWSER_CONTAINER_IMAGE", "webpilot/browser:latest"),
		BrowserExecutable:     os.Getenv("BROWSER_EXECUTABLE"),
		LLMBaseURL:            os.Getenv("LLM_BASE_URL"),
		LLMModel:              getenv("LLM_MODEL", "deepseek-chat"),
		SummaryModel:          os.Getenv("SUMMARY_MODEL"),
		DetectorURL:           os.Getenv("DETECTOR_URL"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		EncryptionKey:         os.Getenv("ENCRYPTION_KEY"),
		Agent: AgentDefaults{
			MaxSteps:          50,
			StepTimeoutSecs:   120,
			Temperature:       0,
			EnableVision:      true,
			ScreencastQuality: 60,
		},
	}

	// First configured provider key wins; DEEPSEEK implies its base URL.
	switch {
	case os.Getenv("DEEPSEEK_API_KEY") != "":
		cfg.LLMAPIKey = os.Getenv("DEEPSEEK_API_KEY")
		if cfg.LLMBaseURL == "" {
			cfg.LLMBaseURL = "https://api.deepseek.com"
		}
	case os.Getenv("OPENAI_API_KEY") != "":
		cfg.LLMAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	if cfg.SummaryModel == "" {
		cfg.SummaryModel = cfg.LLMModel
	}

	switch cfg.BrowserMode {
	case BrowserModeDirect, BrowserModeContainer, BrowserModeCustom:
	default:
		return nil, fmt.Errorf("invalid BROWSER_MODE %q: must be direct, container, or custom", cfg.BrowserMode)
	}

	if cfg.BrowserMode != BrowserModeDirect && cfg.CDPURL == "" {
		return nil, fmt.Errorf("CDP_URL is required when BROWSER_MODE=%s", cfg.BrowserMode)
	}

	if configDir != "" {
		if err := loadAgentDefaults(configDir, &cfg.Agent); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// RemoteBrowser reports whether sessions attach to a remote browser over CDP.
func (c *Config) RemoteBrowser() bool {
	return c.BrowserMode == BrowserModeContainer || c.BrowserMode == BrowserModeCustom
}
