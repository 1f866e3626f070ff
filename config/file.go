package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads settings from a YAML file. ${VAR} and ${VAR:-default} are
// expanded from the environment before parsing. Fields the file omits take
// defaults.
func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	data = expandEnvVars(data)

	s := Settings{Agent: AgentConfig{HistoryTurns: defaultHistoryTurns}}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config: %w", err)
	}

	s.ApplyDefaults()

	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid config: %w", err)
	}

	return s, nil
}

// Load reads path when it is set and falls back to the environment otherwise.
func Load(path, provider string) (Settings, error) {
	if path == "" {
		return New(provider)
	}
	s, err := LoadFile(path)
	if err != nil {
		return Settings{}, err
	}
	if provider != "" && provider != s.LLM.Provider {
		s.LLM.Provider = provider
		s.LLM.Model = ""
		s.LLM.APIKey = ""
		s.ApplyDefaults()
		if err := s.Validate(); err != nil {
			return Settings{}, fmt.Errorf("invalid config: %w", err)
		}
	}
	return s, nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
