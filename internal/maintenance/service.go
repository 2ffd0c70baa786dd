package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/duckquery/duckquery/internal/catalog"
	"github.com/duckquery/duckquery/internal/dataset"
	"github.com/duckquery/duckquery/internal/observability"
	"github.com/duckquery/duckquery/internal/storage"
)

type Catalog interface {
	ListAllDatasets(ctx context.Context) ([]catalog.Dataset, error)
	ListDatasetsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]catalog.Dataset, error)
}

// Dropper removes a dataset from its session store, archive and catalog.
type Dropper interface {
	Drop(ctx context.Context, sessionID, table string) error
}

type Config struct {
	RetentionInterval time.Duration
	// DatasetTTL of zero disables retention.
	DatasetTTL time.Duration
	BatchSize  int
}

type Service struct {
	Catalog     Catalog
	Datasets    Dropper
	ObjectStore storage.ObjectStore
	Config      Config
	Logger      *slog.Logger
	Clock       func() time.Time
}

type RetentionSummary struct {
	Enabled         bool      `json:"enabled"`
	Cutoff          time.Time `json:"cutoff"`
	CandidateTables int       `json:"candidate_tables"`
	TablesDeleted   int       `json:"tables_deleted"`
	Failures        int       `json:"failures"`
}

type IntegritySummary struct {
	DatasetsScanned     int `json:"datasets_scanned"`
	ArchivesChecked     int `json:"archives_checked"`
	MissingArchives     int `json:"missing_archives"`
	SizeMismatches      int `json:"size_mismatches"`
	OwnerMismatches     int `json:"owner_mismatches"`
	OperationalFailures int `json:"operational_failures"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	retentionTicker := time.NewTicker(s.Config.RetentionInterval)
	defer retentionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retentionTicker.C:
			summary, err := s.RunRetentionOnce(ctx)
			if err != nil {
				s.Logger.ErrorContext(ctx, "retention cycle failed", slog.Any("error", err), slog.Any("summary", summary))
				continue
			}
			if summary.TablesDeleted > 0 {
				s.Logger.InfoContext(ctx, "retention cycle completed", slog.Any("summary", summary))
			}
		}
	}
}

// RunRetentionOnce drops every dataset not updated within DatasetTTL.
func (s *Service) RunRetentionOnce(ctx context.Context) (RetentionSummary, error) {
	s.ensureDefaults()
	if s.Catalog == nil {
		return RetentionSummary{}, fmt.Errorf("catalog is required")
	}
	if s.Datasets == nil {
		return RetentionSummary{}, fmt.Errorf("dataset service is required")
	}
	if s.Config.DatasetTTL <= 0 {
		return RetentionSummary{}, nil
	}

	summary := RetentionSummary{Enabled: true, Cutoff: s.Clock().Add(-s.Config.DatasetTTL).UTC()}
	candidates, err := s.Catalog.ListDatasetsOlderThan(ctx, summary.Cutoff, s.Config.BatchSize)
	if err != nil {
		retentionRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("list expired datasets: %w", err)
	}
	summary.CandidateTables = len(candidates)

	failures := make([]string, 0)
	for _, candidate := range candidates {
		err := s.Datasets.Drop(ctx, candidate.SessionID, candidate.TableName)
		if err != nil && !errors.Is(err, dataset.ErrTableNotFound) {
			summary.Failures++
			failures = append(failures, fmt.Sprintf("session %s table %s: %v", candidate.SessionID, candidate.TableName, err))
			continue
		}
		summary.TablesDeleted++
	}
	observability.AddRetentionDeleted(summary.TablesDeleted)

	if len(failures) > 0 {
		retentionRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("retention encountered %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	retentionRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

// RunIntegrityCheckOnce verifies that every archived dataset's object exists
// with the size recorded in the catalog.
func (s *Service) RunIntegrityCheckOnce(ctx context.Context) (IntegritySummary, error) {
	s.ensureDefaults()
	if s.Catalog == nil {
		return IntegritySummary{}, fmt.Errorf("catalog is required")
	}
	if s.ObjectStore == nil {
		return IntegritySummary{}, fmt.Errorf("object store is required")
	}

	items, err := s.Catalog.ListAllDatasets(ctx)
	if err != nil {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		return IntegritySummary{}, fmt.Errorf("list datasets: %w", err)
	}
	summary := IntegritySummary{DatasetsScanned: len(items)}

	const maxIssueSamples = 20
	issueSamples := make([]string, 0, maxIssueSamples)
	issueCount := 0
	addIssue := func(message string) {
		issueCount++
		if len(issueSamples) < maxIssueSamples {
			issueSamples = append(issueSamples, message)
		}
	}

	for _, item := range items {
		if item.ObjectKey == "" {
			continue
		}
		summary.ArchivesChecked++
		info, err := s.ObjectStore.Stat(ctx, item.ObjectKey)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				summary.MissingArchives++
				addIssue(fmt.Sprintf("session %s table %s missing archive %s", item.SessionID, item.TableName, item.ObjectKey))
				continue
			}
			summary.OperationalFailures++
			addIssue(fmt.Sprintf("session %s table %s stat archive: %v", item.SessionID, item.TableName, err))
			continue
		}
		if item.SizeBytes > 0 && info.Size != item.SizeBytes {
			summary.SizeMismatches++
			addIssue(fmt.Sprintf("session %s table %s size mismatch (expected=%d actual=%d)", item.SessionID, item.TableName, item.SizeBytes, info.Size))
		}
		// Archives written before metadata was recorded carry none; skip those.
		if owner, ok := info.Metadata[storage.MetadataSessionID]; ok && owner != item.SessionID {
			summary.OwnerMismatches++
			addIssue(fmt.Sprintf("session %s table %s archive %s belongs to session %s", item.SessionID, item.TableName, item.ObjectKey, owner))
		} else if table, ok := info.Metadata[storage.MetadataTableName]; ok && table != item.TableName {
			summary.OwnerMismatches++
			addIssue(fmt.Sprintf("session %s table %s archive %s belongs to table %s", item.SessionID, item.TableName, item.ObjectKey, table))
		}
	}

	if summary.ArchivesChecked > 0 {
		integrityArchivesCheckedTotal.Add(float64(summary.ArchivesChecked))
	}
	if summary.MissingArchives > 0 {
		integrityMissingArchivesTotal.Add(float64(summary.MissingArchives))
	}
	if issueCount > 0 {
		integrityRunsTotal.WithLabelValues("failed").Inc()
		extra := issueCount - len(issueSamples)
		if extra > 0 {
			return summary, fmt.Errorf("integrity check found %d issue(s): %s; ... plus %d more", issueCount, strings.Join(issueSamples, "; "), extra)
		}
		return summary, fmt.Errorf("integrity check found %d issue(s): %s", issueCount, strings.Join(issueSamples, "; "))
	}
	integrityRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.Config.RetentionInterval <= 0 {
		s.Config.RetentionInterval = 10 * time.Minute
	}
	if s.Config.BatchSize <= 0 {
		s.Config.BatchSize = 500
	}
}
