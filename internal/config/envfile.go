package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

const defaultEnvFile = ".env"

// LoadEnvFile copies KEY=VALUE pairs from DUCKQUERY_ENV_FILE (default .env)
// into the process environment. Variables that are already set win. A
// missing default file is ignored; a missing explicit file is an error.
func LoadEnvFile(lookup LookupFunc) (string, error) {
	path := defaultEnvFile
	explicit := false
	if lookup != nil {
		if raw, ok := lookup("DUCKQUERY_ENV_FILE"); ok && strings.TrimSpace(raw) != "" {
			path = strings.TrimSpace(raw)
			explicit = true
		}
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return path, fmt.Errorf("load env file %q: %w", path, err)
	}
	return path, nil
}
