package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load builds a Snapshot from the YAML policy file at path, layered over
// built-in defaults: fields absent from the file keep their default values.
// An empty path returns pure defaults. The returned snapshot is validated
// but not yet versioned; publishing it through a Store assigns the version.
func Load(path string) (*Snapshot, error) {
	snap := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading policy file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
		}
	}

	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("policy validation: %w", err)
	}

	return &snap, nil
}

// Parse builds a Snapshot from raw YAML layered over defaults, for callers
// that receive policy content without a file (the admin reload endpoint).
func Parse(data []byte) (*Snapshot, error) {
	snap := Defaults()
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("policy validation: %w", err)
	}
	return &snap, nil
}
