package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ProjectConfig is the optional .obfusku.yaml in the current working
// directory. It configures module resolution and REPL defaults.
type ProjectConfig struct {
	SearchPaths []string `yaml:"search_paths"`
	Debug       bool     `yaml:"debug"`
	Color       bool     `yaml:"color"`
}

// LoadProjectConfig reads and parses path. A missing file is not an
// error: it returns a zero-value ProjectConfig.
func LoadProjectConfig(path string) (ProjectConfig, error) {
	var cfg ProjectConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
