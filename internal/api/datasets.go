package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/duckquery/duckquery/internal/auth"
	"github.com/duckquery/duckquery/internal/dataset"
	"github.com/duckquery/duckquery/internal/ingest"
	"github.com/duckquery/duckquery/internal/schema"
)

func handleUploadDataset(deps Dependencies, maxBytes int64, w http.ResponseWriter, r *http.Request) {
	if deps.Datasets == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset service is not configured", false, nil)
		return
	}
	sessionID, ok := authorize(w, r, auth.RoleDatasetWriter)
	if !ok {
		return
	}

	tableName := strings.TrimSpace(r.PathValue("table"))
	if tableName == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_REQUIRED", "table path parameter is required", false, nil)
		return
	}
	format, err := uploadFormat(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), false, nil)
		return
	}

	body := r.Body
	if maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	result, err := deps.Datasets.Upload(r.Context(), ingest.UploadInput{
		SessionID: sessionID,
		Table:     tableName,
		Format:    format,
		Body:      body,
	})
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "upload exceeds the configured size limit", false, map[string]any{"max_bytes": tooLarge.Limit})
		case isInputError(err):
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATASET", err.Error(), false, map[string]any{"table": tableName})
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "UPLOAD_FAILED", "failed to load dataset", true, map[string]any{"details": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// uploadFormat reads ?format= and falls back to the Content-Type header.
func uploadFormat(r *http.Request) (ingest.Format, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("format"))
	if raw == "" {
		contentType := strings.ToLower(r.Header.Get("Content-Type"))
		switch {
		case strings.Contains(contentType, "json"):
			raw = "json"
		default:
			raw = "csv"
		}
	}
	return ingest.ParseFormat(raw)
}

func isInputError(err error) bool {
	var parseErr *ingest.ParseError
	return errors.As(err, &parseErr) ||
		errors.Is(err, ingest.ErrNoColumns) ||
		errors.Is(err, ingest.ErrUnsupportedFormat) ||
		errors.Is(err, ingest.ErrInvalidTableName)
}

func handleListDatasets(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Datasets == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset service is not configured", false, nil)
		return
	}
	sessionID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	items, err := deps.Datasets.Datasets(r.Context(), sessionID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list datasets", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"persistent": deps.Datasets.Persistent(),
		"datasets":   items,
	})
}

func handleDropDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Datasets == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset service is not configured", false, nil)
		return
	}
	sessionID, ok := authorize(w, r, auth.RoleDatasetWriter)
	if !ok {
		return
	}
	tableName := strings.TrimSpace(r.PathValue("table"))
	if err := deps.Datasets.Drop(r.Context(), sessionID, tableName); err != nil {
		switch {
		case errors.Is(err, dataset.ErrTableNotFound):
			writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", "table is not loaded in this session", false, map[string]any{"table": tableName})
		case errors.Is(err, ingest.ErrInvalidTableName):
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_TABLE", err.Error(), false, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "DROP_FAILED", "failed to drop table", true, map[string]any{"details": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "dropped", "table": tableName})
}

func handleResetDatasets(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Datasets == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset service is not configured", false, nil)
		return
	}
	sessionID, ok := authorize(w, r, auth.RoleDatasetWriter)
	if !ok {
		return
	}
	deleted, err := deps.Datasets.Reset(r.Context(), sessionID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "RESET_FAILED", "failed to reset session", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "datasets_deleted": deleted})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Datasets == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DATASETS_NOT_CONFIGURED", "dataset service is not configured", false, nil)
		return
	}
	sessionID, ok := authorize(w, r, auth.RoleQueryReader)
	if !ok {
		return
	}
	store, err := deps.Datasets.Store(sessionID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_UNAVAILABLE", "failed to open session store", true, map[string]any{"details": err.Error()})
		return
	}
	snapshot, err := schema.NewCatalog(store).Snapshot(r.Context())
	if err != nil && !errors.Is(err, schema.ErrNoData) {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to read dataset schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"tables":     snapshot.Tables(),
	})
}
