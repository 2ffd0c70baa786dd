package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/duckquery/duckquery/internal/catalog"
	"github.com/duckquery/duckquery/internal/dataset"
	"github.com/duckquery/duckquery/internal/dataset/duckdb"
	"github.com/duckquery/duckquery/internal/observability"
	"github.com/duckquery/duckquery/internal/storage"
)

// Service loads uploads into per-session stores and, when an object store
// is configured, archives them as parquet so they survive restarts.
type Service struct {
	sessions *duckdb.Manager
	catalog  catalog.Repository
	objects  storage.ObjectStore
	logger   *slog.Logger
}

type Options struct {
	Sessions *duckdb.Manager
	Catalog  catalog.Repository
	// Objects may be nil, which disables archiving and restore.
	Objects storage.ObjectStore
	Logger  *slog.Logger
}

func NewService(opts Options) (*Service, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{sessions: opts.Sessions, catalog: opts.Catalog, objects: opts.Objects, logger: opts.Logger}, nil
}

func (s *Service) Persistent() bool {
	return s.objects != nil
}

type UploadInput struct {
	SessionID string
	Table     string
	Format    Format
	Body      io.Reader
}

type UploadResult struct {
	Dataset   catalog.Dataset `json:"dataset"`
	Persisted bool            `json:"persisted"`
}

// Upload replaces any table of the same name in the session.
func (s *Service) Upload(ctx context.Context, in UploadInput) (UploadResult, error) {
	tableName, err := SanitizeTableName(in.Table)
	if err != nil {
		return UploadResult{}, err
	}
	batch, err := Parse(in.Format, in.Body)
	if err != nil {
		return UploadResult{}, err
	}

	store, err := s.sessions.Session(in.SessionID)
	if err != nil {
		return UploadResult{}, err
	}
	if err := store.LoadTable(ctx, tableName, batch.Columns, batch.Rows); err != nil {
		return UploadResult{}, fmt.Errorf("load table %q: %w", tableName, err)
	}
	observability.ObserveUpload(string(in.Format), len(batch.Rows))

	previous, err := s.catalog.GetDataset(ctx, in.SessionID, tableName)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return UploadResult{}, fmt.Errorf("look up dataset %q: %w", tableName, err)
	}

	record := catalog.UpsertDatasetInput{
		SessionID:    in.SessionID,
		TableName:    tableName,
		SourceFormat: string(in.Format),
		RowCount:     int64(len(batch.Rows)),
		Columns:      batch.Columns,
	}
	if s.objects != nil {
		key, size, err := s.archive(ctx, in.SessionID, tableName, batch)
		if err != nil {
			return UploadResult{}, err
		}
		record.ObjectKey = key
		record.SizeBytes = size
	}

	item, err := s.catalog.UpsertDataset(ctx, record)
	if err != nil {
		return UploadResult{}, fmt.Errorf("record dataset %q: %w", tableName, err)
	}
	if previous.ObjectKey != "" && previous.ObjectKey != item.ObjectKey {
		s.deleteObject(ctx, previous.ObjectKey)
	}

	s.logger.InfoContext(ctx, "dataset uploaded",
		observability.TraceAttr(ctx),
		slog.String("session_id", in.SessionID),
		slog.String("table", tableName),
		slog.String("format", string(in.Format)),
		slog.Int("rows", len(batch.Rows)),
		slog.Bool("persisted", record.ObjectKey != ""),
	)
	return UploadResult{Dataset: item, Persisted: record.ObjectKey != ""}, nil
}

func (s *Service) archive(ctx context.Context, sessionID, tableName string, batch Batch) (string, int64, error) {
	key, err := storage.BuildDatasetPath(sessionID, tableName, uuid.NewString())
	if err != nil {
		return "", 0, err
	}
	data, err := EncodeParquet(batch)
	if err != nil {
		return "", 0, fmt.Errorf("encode dataset %q: %w", tableName, err)
	}
	opts := storage.PutOptions{
		ContentType: storage.ParquetContentType,
		Metadata: map[string]string{
			storage.MetadataSessionID: sessionID,
			storage.MetadataTableName: tableName,
			storage.MetadataRowCount:  strconv.Itoa(len(batch.Rows)),
		},
	}
	if _, err := s.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", 0, fmt.Errorf("archive dataset %q: %w", tableName, err)
	}
	return key, int64(len(data)), nil
}

// Drop removes a table from the session store and its archive.
func (s *Service) Drop(ctx context.Context, sessionID, table string) error {
	tableName, err := SanitizeTableName(table)
	if err != nil {
		return err
	}
	store, err := s.sessions.Session(sessionID)
	if err != nil {
		return err
	}
	dropErr := store.DropTable(ctx, tableName)
	if dropErr != nil && !errors.Is(dropErr, dataset.ErrTableNotFound) {
		return dropErr
	}

	item, err := s.catalog.GetDataset(ctx, sessionID, tableName)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return dropErr
	case err != nil:
		return fmt.Errorf("look up dataset %q: %w", tableName, err)
	}
	if _, err := s.catalog.DeleteDataset(ctx, sessionID, tableName); err != nil {
		return fmt.Errorf("delete dataset %q: %w", tableName, err)
	}
	if item.ObjectKey != "" {
		s.deleteObject(ctx, item.ObjectKey)
	}
	return nil
}

// Reset discards every table in the session.
func (s *Service) Reset(ctx context.Context, sessionID string) (int64, error) {
	if err := s.sessions.Reset(sessionID); err != nil {
		return 0, fmt.Errorf("reset session store: %w", err)
	}
	deleted, err := s.catalog.DeleteSessionDatasets(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session datasets: %w", err)
	}
	if s.objects != nil {
		prefix, err := storage.SessionPrefix(sessionID)
		if err == nil {
			if _, err := s.objects.DeletePrefix(ctx, prefix); err != nil {
				s.logger.WarnContext(ctx, "failed to delete session archives",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return deleted, nil
}

func (s *Service) Datasets(ctx context.Context, sessionID string) ([]catalog.Dataset, error) {
	return s.catalog.ListDatasets(ctx, sessionID)
}

// Store returns the session's queryable store.
func (s *Service) Store(sessionID string) (*duckdb.Store, error) {
	return s.sessions.Session(sessionID)
}

type RestoreReport struct {
	Restored int
	Failed   int
	Skipped  int
	Elapsed  time.Duration
}

// Restore reloads every archived dataset. A dataset that fails to load is
// logged and skipped; the rest still load.
func (s *Service) Restore(ctx context.Context) (RestoreReport, error) {
	start := time.Now()
	report := RestoreReport{}
	if s.objects == nil {
		return report, nil
	}
	items, err := s.catalog.ListAllDatasets(ctx)
	if err != nil {
		return report, fmt.Errorf("list datasets: %w", err)
	}
	for _, item := range items {
		if item.ObjectKey == "" {
			report.Skipped++
			continue
		}
		if err := s.restoreOne(ctx, item); err != nil {
			report.Failed++
			observability.IncrementDatasetRestore(false)
			s.logger.WarnContext(ctx, "failed to restore dataset",
				slog.String("session_id", item.SessionID),
				slog.String("table", item.TableName),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Restored++
		observability.IncrementDatasetRestore(true)
	}
	report.Elapsed = time.Since(start)
	s.logger.InfoContext(ctx, "dataset restore completed",
		slog.Int("restored", report.Restored),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Int64("elapsed_ms", report.Elapsed.Milliseconds()),
	)
	return report, nil
}

func (s *Service) restoreOne(ctx context.Context, item catalog.Dataset) error {
	reader, err := s.objects.Get(ctx, item.ObjectKey)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	batch, err := DecodeParquet(data, item.Columns)
	if err != nil {
		return err
	}
	store, err := s.sessions.Session(item.SessionID)
	if err != nil {
		return err
	}
	return store.LoadTable(ctx, item.TableName, batch.Columns, batch.Rows)
}

func (s *Service) deleteObject(ctx context.Context, key string) {
	if s.objects == nil {
		return
	}
	if err := s.objects.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to delete dataset archive",
			slog.String("object_key", key),
			slog.String("error", err.Error()),
		)
	}
}
