package evaluation

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scaffold is a named pre-prompt kept in a YAML file:
//
//	name: eliminate-first
//	pre_prompt: |
//	  Before answering, rule out options that are clearly wrong.
type Scaffold struct {
	Name      string `yaml:"name"`
	PrePrompt string `yaml:"pre_prompt"`
}

// LoadScaffold reads a scaffold file.
func LoadScaffold(path string) (*Scaffold, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scaffold file: %w", err)
	}
	var s Scaffold
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scaffold file %s: %w", path, err)
	}
	s.PrePrompt = strings.TrimSpace(s.PrePrompt)
	if s.PrePrompt == "" {
		return nil, fmt.Errorf("%w: scaffold file %s has no pre_prompt", ErrInvalidConfig, path)
	}
	return &s, nil
}
