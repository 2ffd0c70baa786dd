package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFileKeepsExistingVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duckquery.env")
	content := "DUCKQUERY_ENVFILE_TEST_NEW=from-file\nDUCKQUERY_ENVFILE_TEST_SET=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("DUCKQUERY_ENVFILE_TEST_SET", "from-process")
	t.Cleanup(func() { _ = os.Unsetenv("DUCKQUERY_ENVFILE_TEST_NEW") })

	loaded, err := LoadEnvFile(mapLookup(map[string]string{"DUCKQUERY_ENV_FILE": path}))
	if err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
	if loaded != path {
		t.Fatalf("loaded = %q", loaded)
	}
	if got := os.Getenv("DUCKQUERY_ENVFILE_TEST_NEW"); got != "from-file" {
		t.Fatalf("new variable = %q", got)
	}
	if got := os.Getenv("DUCKQUERY_ENVFILE_TEST_SET"); got != "from-process" {
		t.Fatalf("existing variable = %q", got)
	}
}

func TestLoadEnvFileMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.env")
	if _, err := LoadEnvFile(mapLookup(map[string]string{"DUCKQUERY_ENV_FILE": missing})); err == nil {
		t.Fatal("expected error for missing explicit env file")
	}

	t.Chdir(t.TempDir())
	loaded, err := LoadEnvFile(mapLookup(map[string]string{}))
	if err != nil || loaded != "" {
		t.Fatalf("LoadEnvFile() = %q, %v", loaded, err)
	}
}
