// Package config loads the agent runtime configuration from a YAML file.
// The file declares the tools the gateway may invoke, reusable prompt
// templates, and runtime settings such as the skills directory. The
// configuration is loaded once at startup and treated as immutable.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// ToolConfig declares a single tool exposed to the planning gateway.
type ToolConfig struct {
	Name        string         `mapstructure:"name" yaml:"name"`
	Kind        string         `mapstructure:"kind" yaml:"kind"`
	Description string         `mapstructure:"description" yaml:"description"`
	Settings    map[string]any `mapstructure:"settings" yaml:"settings"`
}

// PromptConfig declares a named prompt template.
type PromptConfig struct {
	Name      string   `mapstructure:"name" yaml:"name"`
	Template  string   `mapstructure:"template" yaml:"template"`
	Variables []string `mapstructure:"variables" yaml:"variables"`
}

// Settings holds runtime settings from the config file.
type Settings struct {
	SkillsDir       string `mapstructure:"skills_dir" yaml:"skills_dir"`
	SkillsDocsIndex string `mapstructure:"skills_docs_index" yaml:"skills_docs_index"`
}

// Config is the full agent runtime configuration.
type Config struct {
	Tools    []ToolConfig   `mapstructure:"tools" yaml:"tools"`
	Prompts  []PromptConfig `mapstructure:"prompts" yaml:"prompts"`
	Settings Settings       `mapstructure:"settings" yaml:"settings"`
}

// LLMSettings holds the upstream LLM backend connection settings. These are
// resolved from the process environment (AGENTGATE_LLM_BASE_URL,
// AGENTGATE_LLM_API_KEY) or the CLI config file, not from the agent config.
type LLMSettings struct {
	BaseURL string
	APIKey  string
}

const (
	defaultSkillsDir       = "examples/skills"
	defaultSkillsDocsIndex = "https://agentskills.io/llms.txt"
	defaultLLMBaseURL      = "https://api.openai.com/v1"
)

// Load reads and validates the agent runtime config from path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("settings.skills_dir", defaultSkillsDir)
	v.SetDefault("settings.skills_docs_index", defaultSkillsDocsIndex)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read agent config %s", path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse agent config %s", path)
	}

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid agent config %s", path)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	seenTools := make(map[string]bool)
	for _, tool := range c.Tools {
		if tool.Name == "" {
			return errors.New("tool name cannot be empty")
		}
		if seenTools[tool.Name] {
			return errors.Errorf("duplicate tool name %q", tool.Name)
		}
		seenTools[tool.Name] = true
	}

	seenPrompts := make(map[string]bool)
	for _, prompt := range c.Prompts {
		if prompt.Name == "" {
			return errors.New("prompt name cannot be empty")
		}
		if seenPrompts[prompt.Name] {
			return errors.Errorf("duplicate prompt name %q", prompt.Name)
		}
		seenPrompts[prompt.Name] = true
	}

	if strings.TrimSpace(c.Settings.SkillsDir) == "" {
		return errors.New("settings.skills_dir cannot be empty")
	}

	return nil
}

// LLMSettingsFromViper resolves the upstream LLM settings from the global
// viper instance, which the CLI configures with the AGENTGATE env prefix.
func LLMSettingsFromViper() LLMSettings {
	baseURL := viper.GetString("llm.base_url")
	if baseURL == "" {
		baseURL = defaultLLMBaseURL
	}

	return LLMSettings{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  viper.GetString("llm.api_key"),
	}
}
