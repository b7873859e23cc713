package config

import (
	"os"
	"path/filepath"
)

// LocalConfigName is the per-project config file searched for in the
// working directory and its parents.
const LocalConfigName = ".content-orch.toml"

// FindLocalConfig walks up from the current directory looking for a
// local config file. Returns the empty string when none is found.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadWithLocalFallback loads the explicit path when given, otherwise a
// local config found by FindLocalConfig, otherwise the default path.
func LoadWithLocalFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}
