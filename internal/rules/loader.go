package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// RuleSet is the top-level shape of a rules file.
type RuleSet struct {
	Rules []RuleDefinition `yaml:"rules" json:"rules"`
}

// ParseRuleSet decodes rule definitions from YAML.
func ParseRuleSet(data []byte) ([]RuleDefinition, error) {
	var set RuleSet
	if err := yaml.UnmarshalStrict(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	return set.Rules, nil
}

// LoadFile reads rule definitions from a YAML file.
func LoadFile(path string) ([]RuleDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRuleSet(data)
}

// LoadFileInto reads a rules file and loads it into the engine.
func LoadFileInto(e *Engine, path string) (int, error) {
	defs, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	if err := e.LoadRules(defs); err != nil {
		return 0, err
	}
	return len(defs), nil
}
