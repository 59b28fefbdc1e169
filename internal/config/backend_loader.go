package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoadBackendRegistry loads and validates a backend registry file using
// Koanf.
//
// Error cases: file not found/unreadable, invalid YAML, schema
// validation failure (unsupported version, missing required fields,
// duplicate names, unknown kind).
func LoadBackendRegistry(filepath string) (*BackendRegistryFile, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(filepath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load backend registry from %q: %w", filepath, err)
	}

	var registry BackendRegistryFile
	if err := k.UnmarshalWithConf("", &registry, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse backend registry from %q: %w", filepath, err)
	}

	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("backend registry validation failed for %q: %w", filepath, err)
	}

	return &registry, nil
}
