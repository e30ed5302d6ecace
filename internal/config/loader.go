package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigFileName is the project file name.
const ConfigFileName = "quarry.yaml"

// ConfigFileNameAlt is the alternate project file name.
const ConfigFileNameAlt = "quarry.yml"

// EnvPrefix is the prefix of environment overrides. QUARRY_QUERIES_DIR
// overrides queries_dir, and so on.
const EnvPrefix = "QUARRY_"

// Load reads the project configuration: file values first, then environment
// overrides, then defaults for whatever remains unset. A missing file is not
// an error; the result is then defaults plus environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadFromDir loads the project configuration from quarry.yaml (or .yml) in
// dir. A missing file yields the defaults.
func LoadFromDir(dir string) (*Config, error) {
	return Load(findConfigFile(dir))
}

// findConfigFile returns the config file path in dir, or empty.
func findConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// FindProjectRoot walks up from startDir to the nearest directory holding a
// project file. Returns empty when none is found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for {
		if findConfigFile(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
