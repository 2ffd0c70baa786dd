package duckqueryctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	SessionID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method      string
	path        string
	contentType string
	body        []byte
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("duckqueryctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "DuckQuery API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	sessionID := fs.String("session", defaults.SessionID, "Session ID header (used when auth is disabled)")
	tables := fs.String("tables", "", "Comma-separated table names to restrict ask/suggest")
	format := fs.String("format", "", "Upload format: csv or json (default from file extension)")
	limit := fs.Int("limit", 0, "History entries to return")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	req, err := buildRequest(command, rest, splitTables(*tables), *format, *limit)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req, endpoint, *apiKey, *sessionID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildRequest(command string, args []string, tables []string, format string, limit int) (request, error) {
	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "schema":
		return request{method: http.MethodGet, path: "/v1/schema"}, nil
	case "datasets":
		return request{method: http.MethodGet, path: "/v1/datasets"}, nil
	case "upload":
		if len(args) != 2 {
			return request{}, fmt.Errorf("upload requires <table> <file>")
		}
		body, err := os.ReadFile(args[1])
		if err != nil {
			return request{}, fmt.Errorf("read %s: %w", args[1], err)
		}
		if format == "" {
			format = strings.TrimPrefix(strings.ToLower(filepath.Ext(args[1])), ".")
		}
		contentType := "text/csv"
		if format == "json" {
			contentType = "application/json"
		}
		return request{
			method:      http.MethodPost,
			path:        "/v1/datasets/" + url.PathEscape(args[0]) + "?format=" + url.QueryEscape(format),
			contentType: contentType,
			body:        body,
		}, nil
	case "drop":
		if len(args) != 1 {
			return request{}, fmt.Errorf("drop requires <table>")
		}
		return request{method: http.MethodDelete, path: "/v1/datasets/" + url.PathEscape(args[0])}, nil
	case "reset":
		return request{method: http.MethodDelete, path: "/v1/datasets"}, nil
	case "ask":
		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			return request{}, fmt.Errorf("ask requires <question>")
		}
		return jsonRequest("/v1/query/translate", map[string]any{"question": question, "table_names": tables})
	case "suggest":
		return jsonRequest("/v1/query/suggest", map[string]any{"table_names": tables})
	case "run":
		sqlText := strings.TrimSpace(strings.Join(args, " "))
		if sqlText == "" {
			return request{}, fmt.Errorf("run requires <sql>")
		}
		return jsonRequest("/v1/query", map[string]any{"sql": sqlText})
	case "history":
		path := "/v1/history"
		if limit > 0 {
			path = fmt.Sprintf("%s?limit=%d", path, limit)
		}
		return request{method: http.MethodGet, path: path}, nil
	case "retention-run":
		return request{method: http.MethodPost, path: "/v1/retention/run"}, nil
	case "integrity-run":
		return request{method: http.MethodPost, path: "/v1/integrity/run"}, nil
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

func jsonRequest(path string, payload map[string]any) (request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return request{}, err
	}
	return request{method: http.MethodPost, path: path, contentType: "application/json", body: body}, nil
}

func doRequest(ctx context.Context, client *http.Client, spec request, endpoint, apiKey, sessionID string) (int, []byte, error) {
	var body io.Reader
	if spec.body != nil {
		body = bytes.NewReader(spec.body)
	}
	req, err := http.NewRequestWithContext(ctx, spec.method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if spec.contentType != "" {
		req.Header.Set("Content-Type", spec.contentType)
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(sessionID) != "" {
		req.Header.Set("X-Session-ID", strings.TrimSpace(sessionID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: duckqueryctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                 GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                  GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema                 GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  datasets               GET /v1/datasets")
	_, _ = fmt.Fprintln(w, "  upload <table> <file>  POST /v1/datasets/{table}")
	_, _ = fmt.Fprintln(w, "  drop <table>           DELETE /v1/datasets/{table}")
	_, _ = fmt.Fprintln(w, "  reset                  DELETE /v1/datasets")
	_, _ = fmt.Fprintln(w, "  ask <question>         POST /v1/query/translate")
	_, _ = fmt.Fprintln(w, "  suggest                POST /v1/query/suggest")
	_, _ = fmt.Fprintln(w, "  run <sql>              POST /v1/query")
	_, _ = fmt.Fprintln(w, "  history                GET /v1/history")
	_, _ = fmt.Fprintln(w, "  retention-run          POST /v1/retention/run")
	_, _ = fmt.Fprintln(w, "  integrity-run          POST /v1/integrity/run")
}

func splitTables(raw string) []string {
	tables := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			tables = append(tables, part)
		}
	}
	return tables
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
