package storage

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

const sessionsRoot = "sessions"

// BuildDatasetPath returns sessions/<session>/<table>/<object>.parquet.
func BuildDatasetPath(sessionID, tableName, objectID string) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	if err := validatePathComponent(objectID, "object id"); err != nil {
		return "", err
	}
	return path.Join(sessionsRoot, sessionID, tableName, objectID+".parquet"), nil
}

func SessionPrefix(sessionID string) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	return path.Join(sessionsRoot, sessionID) + "/", nil
}

// ValidateSessionID reports whether id can be used as a session scope in
// object keys.
func ValidateSessionID(id string) error {
	return validatePathComponent(id, "session id")
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
