package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

const (
	RoleDatasetWriter = "dataset_writer"
	RoleQueryReader   = "query_reader"
	RoleAdmin         = "admin"
)

// Identity is the caller resolved from an API key. SessionID scopes the
// datasets the caller can see and query.
type Identity struct {
	SessionID string
	Roles     []string
}

func (i Identity) HasRole(role string) bool {
	for _, candidate := range i.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	entries := strings.Split(spec, ",")
	for _, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:session:role|role", entry)
		}
		key := strings.TrimSpace(parts[0])
		session := strings.TrimSpace(parts[1])
		if key == "" || session == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/session", entry)
		}
		roleParts := strings.Split(strings.TrimSpace(parts[2]), "|")
		roles := make([]string, 0, len(roleParts))
		for _, role := range roleParts {
			role = strings.TrimSpace(role)
			if role == "" {
				continue
			}
			roles = append(roles, role)
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
		}
		for _, role := range roles {
			if !isKnownRole(role) {
				return nil, fmt.Errorf("invalid static key entry %q: unknown role %q", entry, role)
			}
		}
		sort.Strings(roles)
		validator.keys[key] = Identity{SessionID: session, Roles: roles}
	}

	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}

func isKnownRole(role string) bool {
	switch role {
	case RoleDatasetWriter, RoleQueryReader, RoleAdmin:
		return true
	default:
		return false
	}
}
