package domain

import (
	"errors"
	"time"
)

// Manifest status values. A manifest row is written for every table in every
// run, failed tables included, so a missing archive is always distinguishable
// from a failed one.
const (
	ManifestStatusCompleted = "COMPLETED"
	ManifestStatusFailed    = "FAILED"
)

var (
	// ErrSchemaMismatch is returned when a record is missing a declared
	// field. Fatal for that table's run only.
	ErrSchemaMismatch = errors.New("record missing declared field")

	// ErrArchiveExists is returned when the destination archive already
	// exists and overwrite is not permitted.
	ErrArchiveExists = errors.New("archive destination already exists")
)

// Manifest is the per-table record of one backup run.
type Manifest struct {
	ID           int64     `db:"id"`
	RunDate      string    `db:"run_date"` // YYYY-MM-DD
	TableName    string    `db:"table_name"`
	Status       string    `db:"status"`
	RecordCount  int       `db:"record_count"`
	ArchivePath  string    `db:"archive_path"`
	Checksum     string    `db:"checksum"`
	ErrorMessage string    `db:"error_message"`
	CreatedAt    time.Time `db:"created_at"`
}
