// Package config loads YAML scenario files for the mixedfit CLI. A scenario
// is the single input record: the generator parameters plus comparison
// options. Nothing else configures a run.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mixedfit/internal/simulate"
)

// Scenario describes one simulation-and-comparison run.
type Scenario struct {
	Name      string          `yaml:"name"`
	Generator simulate.Config `yaml:"generator"`
	Compare   CompareConfig   `yaml:"compare"`
}

// CompareConfig holds the comparator knobs exposed to scenario files.
type CompareConfig struct {
	Parallel bool `yaml:"parallel"`
	MaxIter  int  `yaml:"max_iter,omitempty"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}
	if err := s.Generator.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	if s.Compare.MaxIter < 0 {
		return nil, fmt.Errorf("scenario %q: compare.max_iter must be non-negative", s.Name)
	}
	return &s, nil
}
