package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Marshal renders cfg as YAML under the `packet-eater:` root key, in a form
// Load accepts back.
func Marshal(cfg *GlobalConfig) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	out, err := yaml.Marshal(map[string]*GlobalConfig{rootKey: cfg})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return out, nil
}
