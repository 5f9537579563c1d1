package backup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/ylv-consulting/landops/internal/backup/domain"
)

// ArchiveWriter writes serialized table exports into the date-partitioned
// backup tree under a synced destination root. Writes go to a staging file
// first and are moved into place with an atomic rename, so a reader of the
// destination tree never observes a partial file.
type ArchiveWriter struct {
	root      string
	overwrite bool
}

// NewArchiveWriter creates an archive writer rooted at destinationRoot.
func NewArchiveWriter(destinationRoot string, overwrite bool) *ArchiveWriter {
	return &ArchiveWriter{
		root:      destinationRoot,
		overwrite: overwrite,
	}
}

// ArchivePath returns the destination path for a table on a given run date.
// Layout: <root>/Backups/YYYY-MM-DD/<table>.csv
func (a *ArchiveWriter) ArchivePath(runDate, table string) string {
	return filepath.Join(a.root, "Backups", runDate, table+".csv")
}

// Write stores data at the archive path for (runDate, table). If the
// destination already exists and overwrite is off, it returns
// domain.ErrArchiveExists and leaves the existing archive untouched.
func (a *ArchiveWriter) Write(runDate, table string, data []byte) (string, error) {
	dest := a.ArchivePath(runDate, table)

	if !a.overwrite {
		if _, err := os.Stat(dest); err == nil {
			return "", fmt.Errorf("%w: %s", domain.ErrArchiveExists, dest)
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to stat destination: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	stagingDir := filepath.Join(a.root, ".staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	staging := filepath.Join(stagingDir, uuid.New().String())
	if err := a.writeStaging(staging, data); err != nil {
		os.Remove(staging)
		return "", err
	}

	// Re-check under the same run: a concurrent re-run must not clobber the
	// archive that won the rename.
	if !a.overwrite {
		if _, err := os.Stat(dest); err == nil {
			os.Remove(staging)
			return "", fmt.Errorf("%w: %s", domain.ErrArchiveExists, dest)
		}
	}

	if err := os.Rename(staging, dest); err != nil {
		os.Remove(staging)
		return "", fmt.Errorf("failed to move archive into place: %w", err)
	}

	return dest, nil
}

// writeStaging writes and syncs the staging file before the rename.
func (a *ArchiveWriter) writeStaging(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write staging file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync staging file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}

	return nil
}
