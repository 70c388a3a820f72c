package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// LoadEnvFile merges KEY=VALUE lines from path into the process environment.
// Values are taken literally apart from one pair of surrounding quotes, so a
// "$" in a credential is never expanded. Blank lines, "#" comments and lines
// without "=" are skipped. Variables that are already set win, which also
// makes the first definition in the file win, and empty values are ignored.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	return nil
}

// parseEnvLine splits a line on its first "=" and strips one matching pair of
// quotes from the value. ok is false for lines that set nothing.
func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		if first, last := value[0], value[len(value)-1]; first == last && (first == '"' || first == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	if key == "" || value == "" {
		return "", "", false
	}
	return key, value, true
}
