package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// agentDefaultsFile is the optional per-deployment agent settings file.
const agentDefaultsFile = "agent.yaml"

// loadAgentDefaults overlays values from <configDir>/agent.yaml onto defaults.
// A missing file is not an error; a malformed file is.
func loadAgentDefaults(configDir string, out *AgentDefaults) error {
	path := filepath.Join(configDir, agentDefaultsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	var overlay AgentDefaults
	overlay = *out
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if overlay.MaxSteps <= 0 {
		return fmt.Errorf("%s: max_steps must be positive", path)
	}
	if overlay.ScreencastQuality < 1 || overlay.ScreencastQuality > 100 {
		return fmt.Errorf("%s: screencast_quality must be in [1,100]", path)
	}
	*out = overlay
	return nil
}
