package seeder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	APIBaseURL   string
	APIKey       string
	SessionID    string
	UsersTable   string
	OrdersTable  string
	UserCount    int
	OrderCount   int
	ResetFirst   bool
	Question     string
	HTTPTimeout  time.Duration
	Seed         int64
	StartDate    time.Time
	OrderSpanDay int
}

func DefaultConfig() Config {
	return Config{
		APIBaseURL:   "http://localhost:8080",
		SessionID:    "demo",
		UsersTable:   "users",
		OrdersTable:  "orders",
		UserCount:    200,
		OrderCount:   1000,
		ResetFirst:   true,
		HTTPTimeout:  60 * time.Second,
		Seed:         42,
		StartDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		OrderSpanDay: 270,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	if err := applyString(lookup, "DUCKQUERY_DEMO_API_URL", &cfg.APIBaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKQUERY_DEMO_API_KEY", &cfg.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKQUERY_DEMO_SESSION_ID", &cfg.SessionID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKQUERY_DEMO_USERS_TABLE", &cfg.UsersTable); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKQUERY_DEMO_ORDERS_TABLE", &cfg.OrdersTable); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKQUERY_DEMO_USER_COUNT", &cfg.UserCount); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "DUCKQUERY_DEMO_ORDER_COUNT", &cfg.OrderCount); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "DUCKQUERY_DEMO_RESET", &cfg.ResetFirst); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "DUCKQUERY_DEMO_QUESTION", &cfg.Question); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "DUCKQUERY_DEMO_HTTP_TIMEOUT", &cfg.HTTPTimeout); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "DUCKQUERY_DEMO_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return Config{}, fmt.Errorf("DUCKQUERY_DEMO_API_URL is required")
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		return Config{}, fmt.Errorf("DUCKQUERY_DEMO_SESSION_ID is required")
	}
	if strings.TrimSpace(cfg.UsersTable) == "" || strings.TrimSpace(cfg.OrdersTable) == "" {
		return Config{}, fmt.Errorf("demo table names are required")
	}
	if cfg.UserCount <= 0 {
		return Config{}, fmt.Errorf("DUCKQUERY_DEMO_USER_COUNT must be > 0")
	}
	if cfg.OrderCount < 0 {
		return Config{}, fmt.Errorf("DUCKQUERY_DEMO_ORDER_COUNT must be >= 0")
	}
	if cfg.HTTPTimeout <= 0 {
		return Config{}, fmt.Errorf("DUCKQUERY_DEMO_HTTP_TIMEOUT must be > 0")
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.SessionID = strings.TrimSpace(cfg.SessionID)
	cfg.UsersTable = strings.TrimSpace(cfg.UsersTable)
	cfg.OrdersTable = strings.TrimSpace(cfg.OrdersTable)
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
