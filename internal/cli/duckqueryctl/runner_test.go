package duckqueryctl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type capturedRequest struct {
	method      string
	path        string
	query       string
	apiKey      string
	session     string
	contentType string
	body        []byte
}

func newCaptureServer(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.query = r.URL.RawQuery
		captured.apiKey = r.Header.Get("X-API-Key")
		captured.session = r.Header.Get("X-Session-ID")
		captured.contentType = r.Header.Get("Content-Type")
		captured.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestRunAskCommand(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusOK, `{"sql":"SELECT 1","rows":[[1]]}`)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"-session", "s1",
		"-tables", "users, orders",
		"ask", "how", "many", "users?",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if got.method != http.MethodPost || got.path != "/v1/query/translate" {
		t.Fatalf("request = %s %s", got.method, got.path)
	}
	if got.apiKey != "k1" || got.session != "s1" {
		t.Fatalf("headers api_key=%q session=%q", got.apiKey, got.session)
	}
	var payload struct {
		Question   string   `json:"question"`
		TableNames []string `json:"table_names"`
	}
	if err := json.Unmarshal(got.body, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Question != "how many users?" || len(payload.TableNames) != 2 || payload.TableNames[1] != "orders" {
		t.Fatalf("payload = %+v", payload)
	}
	if stdout.Len() == 0 {
		t.Fatal("expected command output")
	}
}

func TestRunUploadCommand(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusCreated, `{"persisted":false}`)
	path := filepath.Join(t.TempDir(), "users.csv")
	if err := os.WriteFile(path, []byte("id,name\n1,ada\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	code := Run(context.Background(), []string{"-base-url", srv.URL, "-session", "s1", "upload", "users", path}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.method != http.MethodPost || got.path != "/v1/datasets/users" || got.query != "format=csv" {
		t.Fatalf("request = %s %s?%s", got.method, got.path, got.query)
	}
	if got.contentType != "text/csv" || string(got.body) != "id,name\n1,ada\n" {
		t.Fatalf("upload content_type=%q body=%q", got.contentType, got.body)
	}
}

func TestRunMaintenanceCommands(t *testing.T) {
	for command, path := range map[string]string{
		"retention-run": "/v1/retention/run",
		"integrity-run": "/v1/integrity/run",
	} {
		srv, got := newCaptureServer(t, http.StatusOK, `{"status":"completed"}`)
		code := Run(context.Background(), []string{"-base-url", srv.URL, command}, Options{})
		if code != 0 {
			t.Fatalf("%s exit code = %d", command, code)
		}
		if got.method != http.MethodPost || got.path != path {
			t.Fatalf("%s request = %s %s", command, got.method, got.path)
		}
	}
}

func TestRunHistoryWithLimit(t *testing.T) {
	srv, got := newCaptureServer(t, http.StatusOK, `{"records":[]}`)
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-limit", "5", "history"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got.path != "/v1/history" || got.query != "limit=5" {
		t.Fatalf("request = %s?%s", got.path, got.query)
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusUnprocessableEntity, `{"error_code":"SQL_REJECTED"}`)

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "run", "DROP TABLE users"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
}

func TestRunMissingArguments(t *testing.T) {
	for _, args := range [][]string{{"ask"}, {"drop"}, {"upload", "users"}, {"unknown"}} {
		var stderr bytes.Buffer
		code := Run(context.Background(), args, Options{Stderr: &stderr})
		if code != 2 {
			t.Fatalf("%v exit code = %d", args, code)
		}
		if stderr.Len() == 0 {
			t.Fatalf("%v expected usage output", args)
		}
	}
}
