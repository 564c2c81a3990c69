package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// LoadEnvFile merges KEY=VALUE pairs from an env file into the process
// environment ahead of LoadFromEnv. Variables already set in the environment
// win over file values, so a deployment can override a checked-in .env. A
// missing file is not an error.
func LoadEnvFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file %s: %w", path, err)
	}

	for i, line := range strings.Split(string(raw), "\n") {
		key, value, ok := parseEnvLine(line)
		if !ok {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("%s line %d: set %s: %w", path, i+1, key, err)
		}
	}
	return nil
}

// parseEnvLine handles KEY=VALUE with optional "export " prefix and single or
// double quotes around the value. Blank lines, comments, and lines without an
// assignment are skipped.
func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}

	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return key, value, true
}
