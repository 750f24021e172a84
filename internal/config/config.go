package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models civitrack.yml.
type Config struct {
	Numbering struct {
		Prefix string `yaml:"prefix"`
		Pad    int    `yaml:"pad"`
	} `yaml:"numbering"`
	Evidence struct {
		Dir string `yaml:"dir"`
	} `yaml:"evidence"`
	Audit struct {
		PurgePositions []string `yaml:"purge_positions"`
	} `yaml:"audit"`
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Numbering.Prefix == "" {
		return fmt.Errorf("config.numbering.prefix is required")
	}
	if c.Numbering.Pad < 1 || c.Numbering.Pad > 10 {
		return fmt.Errorf("config.numbering.pad must be between 1 and 10")
	}
	if c.Evidence.Dir == "" {
		return fmt.Errorf("config.evidence.dir is required")
	}
	for _, p := range c.Audit.PurgePositions {
		if p == "" {
			return fmt.Errorf("config.audit.purge_positions contains an empty position")
		}
	}
	return nil
}

// CanPurge reports whether a staff position may purge audit entries.
func (c *Config) CanPurge(position string) bool {
	for _, p := range c.Audit.PurgePositions {
		if p == position {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "civitrack.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

const defaultTemplate = `numbering:
  prefix: PA
  pad: 5

evidence:
  dir: uploads

audit:
  purge_positions: [Admin]
`
