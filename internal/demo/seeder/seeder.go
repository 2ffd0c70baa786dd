package seeder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Service loads the demo tables into one session through the HTTP API.
type Service struct {
	cfg       Config
	log       *slog.Logger
	http      *http.Client
	generator *Generator
}

type uploadResponse struct {
	Dataset struct {
		TableName string `json:"table_name"`
		RowCount  int64  `json:"row_count"`
	} `json:"dataset"`
	Persisted bool `json:"persisted"`
}

type translateResponse struct {
	SQL      string `json:"sql"`
	RowCount int    `json:"row_count"`
	Provider string `json:"provider"`
}

type Summary struct {
	UsersLoaded  int64
	OrdersLoaded int64
	Persisted    bool
	SQL          string
}

func NewService(cfg Config, logger *slog.Logger, client *http.Client) (*Service, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if cfg.UserCount <= 0 {
		return nil, fmt.Errorf("user count must be > 0")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	return &Service{
		cfg:       cfg,
		log:       logger,
		http:      client,
		generator: NewGenerator(cfg.Seed, cfg.StartDate, cfg.OrderSpanDay),
	}, nil
}

// Run resets the session when configured, uploads users then orders, and
// asks the configured question if there is one.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	if s.cfg.ResetFirst {
		status, body, err := s.do(ctx, http.MethodDelete, "/v1/datasets", "", nil, nil)
		if err != nil {
			return summary, fmt.Errorf("reset session: %w", err)
		}
		if status != http.StatusOK {
			return summary, fmt.Errorf("reset session status %d: %s", status, strings.TrimSpace(string(body)))
		}
	}

	users, err := s.generator.UsersCSV(s.cfg.UserCount)
	if err != nil {
		return summary, fmt.Errorf("generate users: %w", err)
	}
	loaded, err := s.upload(ctx, s.cfg.UsersTable, users)
	if err != nil {
		return summary, err
	}
	summary.UsersLoaded = loaded.Dataset.RowCount
	summary.Persisted = loaded.Persisted

	if s.cfg.OrderCount > 0 {
		orders, err := s.generator.OrdersCSV(s.cfg.OrderCount, s.cfg.UserCount)
		if err != nil {
			return summary, fmt.Errorf("generate orders: %w", err)
		}
		loaded, err := s.upload(ctx, s.cfg.OrdersTable, orders)
		if err != nil {
			return summary, err
		}
		summary.OrdersLoaded = loaded.Dataset.RowCount
	}

	if strings.TrimSpace(s.cfg.Question) != "" {
		var response translateResponse
		payload := map[string]any{"question": s.cfg.Question}
		status, body, err := s.do(ctx, http.MethodPost, "/v1/query/translate", "application/json", payload, &response)
		if err != nil {
			return summary, fmt.Errorf("translate question: %w", err)
		}
		if status != http.StatusOK {
			return summary, fmt.Errorf("translate status %d: %s", status, strings.TrimSpace(string(body)))
		}
		summary.SQL = response.SQL
		s.log.Info("demo question answered",
			slog.String("question", s.cfg.Question),
			slog.String("sql", response.SQL),
			slog.String("provider", response.Provider),
			slog.Int("row_count", response.RowCount),
		)
	}
	return summary, nil
}

func (s *Service) upload(ctx context.Context, table string, body []byte) (uploadResponse, error) {
	var response uploadResponse
	path := "/v1/datasets/" + url.PathEscape(table) + "?format=csv"
	status, raw, err := s.do(ctx, http.MethodPost, path, "text/csv", body, &response)
	if err != nil {
		return response, fmt.Errorf("upload %s: %w", table, err)
	}
	if status != http.StatusCreated {
		return response, fmt.Errorf("upload %s status %d: %s", table, status, strings.TrimSpace(string(raw)))
	}
	s.log.Info("uploaded demo dataset",
		slog.String("session_id", s.cfg.SessionID),
		slog.String("table", response.Dataset.TableName),
		slog.Int64("rows", response.Dataset.RowCount),
		slog.Bool("persisted", response.Persisted),
	)
	return response, nil
}

// do sends raw bytes as-is and marshals anything else as JSON.
func (s *Service) do(ctx context.Context, method, path, contentType string, requestBody any, responseBody any) (int, []byte, error) {
	var payload io.Reader
	switch typed := requestBody.(type) {
	case nil:
	case []byte:
		payload = bytes.NewReader(typed)
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIBaseURL+path, payload)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Session-ID", s.cfg.SessionID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}

	if responseBody != nil && len(bytes.TrimSpace(body)) > 0 && resp.StatusCode < 400 {
		if err := json.Unmarshal(body, responseBody); err != nil {
			return resp.StatusCode, body, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, body, nil
}
