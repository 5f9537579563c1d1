package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ylv-consulting/landops/internal/audit"
	"github.com/ylv-consulting/landops/internal/backup/domain"
	"github.com/ylv-consulting/landops/internal/source"
)

// Table names one table to export and its declared field order.
type Table struct {
	Name   string
	View   string
	Filter string
	Fields []string
}

// RecordFetcher is the record source collaborator.
type RecordFetcher interface {
	FetchRecords(ctx context.Context, q source.Query) ([]source.Record, error)
}

// ManifestStore persists per-table manifest rows.
type ManifestStore interface {
	CreateManifest(ctx context.Context, m *domain.Manifest) error
}

// Runner drives the fetch → serialize → archive chain for each configured
// table and writes one manifest row per table, failures included.
type Runner struct {
	fetcher  RecordFetcher
	archiver *ArchiveWriter
	store    ManifestStore
	auditor  audit.Recorder
	tables   []Table
	logger   *slog.Logger
}

// NewRunner creates a backup runner.
func NewRunner(fetcher RecordFetcher, archiver *ArchiveWriter, store ManifestStore, auditor audit.Recorder, tables []Table, logger *slog.Logger) *Runner {
	return &Runner{
		fetcher:  fetcher,
		archiver: archiver,
		store:    store,
		auditor:  auditor,
		tables:   tables,
		logger:   logger,
	}
}

// Run executes one backup run for the given logical date. Tables are
// processed sequentially: one writer per archive path, no parallelism. A
// failed table does not abort the remaining tables. Cancellation is honored
// between tables; an in-flight fetch runs to completion or error.
//
// The returned error is non-nil if any table failed.
func (r *Runner) Run(ctx context.Context, runDate time.Time) error {
	date := runDate.Format("2006-01-02")

	r.logger.Info("Backup run starting",
		slog.String("run_date", date),
		slog.Int("tables", len(r.tables)),
	)

	var failed int
	for _, table := range r.tables {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("Backup run canceled between tables",
				slog.String("run_date", date),
				slog.String("table", table.Name),
			)
			return fmt.Errorf("backup run canceled: %w", err)
		}

		if err := r.runTable(ctx, date, table); err != nil {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("backup run %s: %d of %d tables failed", date, failed, len(r.tables))
	}

	r.logger.Info("Backup run completed",
		slog.String("run_date", date),
		slog.Int("tables", len(r.tables)),
	)

	return nil
}

// runTable backs up a single table and writes its manifest row.
func (r *Runner) runTable(ctx context.Context, date string, table Table) error {
	records, err := r.fetcher.FetchRecords(ctx, source.Query{
		Table:  table.Name,
		View:   table.View,
		Filter: table.Filter,
	})
	if err != nil {
		return r.failTable(ctx, date, table.Name, "backup.fetch", err)
	}

	data, checksum, err := SerializeCSV(records, table.Fields)
	if err != nil {
		return r.failTable(ctx, date, table.Name, "backup.serialize", err)
	}

	path, err := r.archiver.Write(date, table.Name, data)
	if err != nil {
		return r.failTable(ctx, date, table.Name, "backup.archive", err)
	}

	manifest := &domain.Manifest{
		RunDate:     date,
		TableName:   table.Name,
		Status:      domain.ManifestStatusCompleted,
		RecordCount: len(records),
		ArchivePath: path,
		Checksum:    checksum,
	}
	if err := r.store.CreateManifest(ctx, manifest); err != nil {
		// The archive is in place but unproven. Surface as a failed table so
		// the run alerts; the next run's overwrite guard protects the file.
		return r.failTable(ctx, date, table.Name, "backup.manifest", err)
	}

	r.logger.Info("Table backed up",
		slog.String("table", table.Name),
		slog.Int("record_count", len(records)),
		slog.String("archive_path", path),
		slog.String("checksum", checksum),
	)

	r.recordAudit(ctx, audit.Entry{
		Action:  "backup.table",
		Status:  audit.StatusSuccess,
		Subject: table.Name,
		Detail:  fmt.Sprintf("run_date=%s records=%d path=%s", date, len(records), path),
	})

	return nil
}

// failTable writes the failed manifest row and audit entry for a table.
func (r *Runner) failTable(ctx context.Context, date, tableName, action string, cause error) error {
	r.logger.Error("Table backup failed",
		slog.String("table", tableName),
		slog.String("run_date", date),
		slog.String("stage", action),
		slog.Any("error", cause),
	)

	manifest := &domain.Manifest{
		RunDate:      date,
		TableName:    tableName,
		Status:       domain.ManifestStatusFailed,
		ErrorMessage: cause.Error(),
	}
	if storeErr := r.store.CreateManifest(ctx, manifest); storeErr != nil {
		r.logger.Error("Failed to record failed manifest",
			slog.String("table", tableName),
			slog.Any("error", storeErr),
		)
	}

	status := audit.StatusError
	if errors.Is(cause, domain.ErrArchiveExists) {
		// A re-run bouncing off an existing archive is idempotence working,
		// not data loss.
		status = audit.StatusWarning
	}

	r.recordAudit(ctx, audit.Entry{
		Action:  action,
		Status:  status,
		Subject: tableName,
		Detail:  fmt.Sprintf("run_date=%s error=%s", date, cause.Error()),
	})

	return cause
}

// recordAudit appends an entry; an audit failure is logged, never fatal.
func (r *Runner) recordAudit(ctx context.Context, e audit.Entry) {
	if err := r.auditor.Record(ctx, e); err != nil {
		r.logger.Error("Failed to append audit entry",
			slog.String("action", e.Action),
			slog.Any("error", err),
		)
	}
}
