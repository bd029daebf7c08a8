// Package envfile loads project-local .env files into the process
// environment. It backs the second step of the API key resolution chain:
// explicit environment variable, then project env file, then an external
// credential store.
package envfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFiles are searched in order; the first readable file wins.
var DefaultFiles = []string{".env.local", ".env"}

// EnvFileVar overrides discovery with an explicit env file path.
const EnvFileVar = "COMFY_ENDPOINTS_ENV_FILE"

func parseLine(line string) (string, string, bool) {
	stripped := strings.TrimSpace(line)
	if stripped == "" || strings.HasPrefix(stripped, "#") {
		return "", "", false
	}

	key, value, found := strings.Cut(stripped, "=")
	if !found {
		return "", "", false
	}

	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return "", "", false
	}

	if len(value) >= 2 {
		if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
			(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
			value = value[1 : len(value)-1]
		}
	}

	return key, value, true
}

// Load reads an env file and sets each variable in the process environment.
// Variables that are already set and non-empty are kept unless overwrite is
// true. Returns false when the file does not exist.
func Load(path string, overwrite bool) (bool, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading env file %s: %w", path, err)
	}

	for _, line := range strings.Split(string(content), "\n") {
		key, value, ok := parseLine(line)
		if !ok {
			continue
		}
		if !overwrite && os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return false, fmt.Errorf("setting %s: %w", key, err)
		}
	}

	return true, nil
}

// LoadLocal discovers and loads the project env file. An explicit path from
// COMFY_ENDPOINTS_ENV_FILE takes precedence; otherwise the working directory
// is searched for .env.local then .env. Returns the loaded path, or "" when
// nothing was found.
func LoadLocal() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv(EnvFileVar)); explicit != "" {
		path, err := filepath.Abs(explicit)
		if err != nil {
			return "", err
		}
		loaded, err := Load(path, false)
		if err != nil {
			return "", err
		}
		if loaded {
			return path, nil
		}
		return "", nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for _, name := range DefaultFiles {
		candidate := filepath.Join(cwd, name)
		loaded, err := Load(candidate, false)
		if err != nil {
			return "", err
		}
		if loaded {
			return candidate, nil
		}
	}

	return "", nil
}
