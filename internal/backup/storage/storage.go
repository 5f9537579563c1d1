package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/ylv-consulting/landops/internal/backup/domain"
)

// Storage persists backup manifests.
type Storage struct {
	db *sqlx.DB
}

// NewStorage creates a manifest storage instance.
func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

// CreateManifest appends one per-table manifest row. Manifest rows are
// immutable after creation.
func (s *Storage) CreateManifest(ctx context.Context, m *domain.Manifest) error {
	query := `
		INSERT INTO backup_manifests (
			run_date, table_name, status, record_count,
			archive_path, checksum, error_message, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, NOW()
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		m.RunDate,
		m.TableName,
		m.Status,
		m.RecordCount,
		m.ArchivePath,
		m.Checksum,
		m.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}

	return nil
}

// ListManifests returns the manifest rows for one run date, newest first.
func (s *Storage) ListManifests(ctx context.Context, runDate string) ([]domain.Manifest, error) {
	query := `
		SELECT id, run_date, table_name, status, record_count,
		       archive_path, checksum, error_message, created_at
		FROM backup_manifests
		WHERE run_date = $1
		ORDER BY created_at DESC
	`

	var manifests []domain.Manifest
	if err := s.db.SelectContext(ctx, &manifests, query, runDate); err != nil {
		return nil, fmt.Errorf("failed to list manifests: %w", err)
	}

	return manifests, nil
}
