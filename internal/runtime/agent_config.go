// Package runtime is the front door: per-request agent config loading,
// session resolution, the concurrency permit, and the one-shot API the
// CLI drives.
package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/clawd/pkg/protocol"
)

// AgentConfig is one agent definition: its identity, its soul (the
// system prompt text, loaded from the referenced file), and the tools
// it may use.
type AgentConfig struct {
	ID    string
	Soul  string
	Tools []string
}

type rawAgentConfig struct {
	ID    string   `yaml:"id"`
	Soul  string   `yaml:"soul"`
	Tools []string `yaml:"tools"`
}

// LoadAgentConfig reads <agents_dir>/<agent_id>.yaml and the soul file
// it references. A relative soul path resolves against the config
// file's directory.
func LoadAgentConfig(configPath string) (*AgentConfig, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, protocol.Errorf(protocol.KindConfig, "config file not found: %s", configPath)
		}
		return nil, protocol.WrapError(protocol.KindConfig, "read agent config", err)
	}
	if strings.TrimSpace(string(content)) == "" {
		return nil, protocol.Errorf(protocol.KindConfig, "config file is empty: %s", configPath)
	}

	var raw rawAgentConfig
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, protocol.WrapError(protocol.KindConfig, "invalid YAML", err)
	}
	if raw.ID == "" {
		return nil, protocol.Errorf(protocol.KindConfig, "config missing required field: id")
	}
	if raw.Soul == "" {
		return nil, protocol.Errorf(protocol.KindConfig, "config missing required field: soul")
	}

	soulPath := raw.Soul
	if !filepath.IsAbs(soulPath) {
		soulPath = filepath.Join(filepath.Dir(configPath), soulPath)
	}
	soul, err := os.ReadFile(soulPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, protocol.Errorf(protocol.KindConfig, "soul file not found: %s", soulPath)
		}
		return nil, protocol.WrapError(protocol.KindConfig, "read soul file", err)
	}

	return &AgentConfig{
		ID:    raw.ID,
		Soul:  string(soul),
		Tools: raw.Tools,
	}, nil
}

// AgentConfigPath builds the config path for an agent id.
func AgentConfigPath(agentsDir, agentID string) string {
	return filepath.Join(agentsDir, fmt.Sprintf("%s.yaml", agentID))
}
