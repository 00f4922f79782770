package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NewYAML overlays a YAML settings file on top of the base service settings.
// A model entry in the file replaces the base entry for that kind as a whole.
func NewYAML(path string, base IService) (IService, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	s := base.Settings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return NewFromSettings(s), nil
}
