package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Load reads and validates the config file at path without a Manager.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(path, data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses config bytes on top of Defaults. Names ending in .yaml or
// .yml are YAML, anything else is JSON. Unknown keys and trailing data are
// errors.
func Decode(name string, data []byte) (*Config, error) {
	format := "json"
	if isYAML(name) {
		format = "yaml"
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("yaml config %s: %w", name, err)
		}
		data = converted
	}

	cfg := Defaults()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%s config %s: %w", format, name, err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case errors.Is(err, io.EOF):
		return cfg, nil
	case err == nil:
		return nil, fmt.Errorf("%s config %s: trailing data", format, name)
	default:
		return nil, fmt.Errorf("%s config %s: %w", format, name, err)
	}
}
