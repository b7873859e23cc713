package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
)

// ModesFile is the YAML document format for overriding the built-in mode table:
//
//	modes:
//	  generation:
//	    stages: [eval, strategize, style, compose, render, assess]
//	    optional: [assess]
//	  refinement:
//	    stages: [load_base, conditional, save]
type ModesFile struct {
	Modes map[string]ModeEntry `yaml:"modes"`
}

// ModeEntry is one mode's declarative definition
type ModeEntry struct {
	Stages   []string `yaml:"stages"`
	Optional []string `yaml:"optional"`
}

// ParseModesFile parses a YAML mode table and validates it
func ParseModesFile(data []byte) (map[domain.RunMode]ModeConfig, error) {
	var file ModesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse modes YAML: %w", err)
	}
	if len(file.Modes) == 0 {
		return nil, fmt.Errorf("modes file defines no modes")
	}

	modes := make(map[domain.RunMode]ModeConfig, len(file.Modes))
	for name, entry := range file.Modes {
		if len(entry.Stages) == 0 {
			return nil, fmt.Errorf("mode %q has an empty stage list", name)
		}
		inTemplate := make(map[string]bool, len(entry.Stages))
		for _, s := range entry.Stages {
			if s == "" {
				return nil, fmt.Errorf("mode %q has a blank stage name", name)
			}
			inTemplate[s] = true
		}
		var optional map[string]bool
		if len(entry.Optional) > 0 {
			optional = make(map[string]bool, len(entry.Optional))
			for _, s := range entry.Optional {
				if !inTemplate[s] {
					return nil, fmt.Errorf("mode %q marks unknown stage %q optional", name, s)
				}
				optional[s] = true
			}
		}
		modes[domain.RunMode(name)] = ModeConfig{Template: entry.Stages, Optional: optional}
	}
	return modes, nil
}

// LoadModesFile reads path and replaces the registry's mode table. A missing
// file is not an error; the built-in defaults stay in effect.
func (r *Registry) LoadModesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	modes, err := ParseModesFile(data)
	if err != nil {
		return err
	}
	r.Replace(modes)
	return nil
}
