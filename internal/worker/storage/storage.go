package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/ylv-consulting/landops/internal/worker/domain"
)

// Storage handles all database operations for the dispatcher
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimJob claims a job for dispatch with an optimistic UPDATE. PENDING jobs
// are the normal case; DISPATCHING is claimable too, so a job whose dispatch
// was interrupted by shutdown can be picked up again on redelivery. Terminal
// jobs are never claimable, which keeps transitions monotonic.
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.DocumentJob, error) {
	query := `
		UPDATE document_jobs
		SET status = $1,
		    worker_id = $2,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status IN ($4, $1)
		RETURNING job_id, event_id, kind, template_id, record_id, fields, attempts
	`

	var job domain.DocumentJob
	err := s.db.QueryRowContext(ctx, query, domain.JobStatusDispatching, workerID, jobID, domain.JobStatusPending).Scan(
		&job.JobID,
		&job.EventID,
		&job.Kind,
		&job.TemplateID,
		&job.RecordID,
		&job.Fields,
		&job.Attempts,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - terminal or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Status = domain.JobStatusDispatching
	job.WorkerID = workerID

	return &job, nil
}

// MarkJobSent records the terminal SENT state with the generated document
// reference.
func (s *Storage) MarkJobSent(ctx context.Context, jobID, documentID string, attempts int) error {
	query := `
		UPDATE document_jobs
		SET status = $1,
		    document_id = $2,
		    attempts = $3,
		    error_message = NULL,
		    updated_at = NOW()
		WHERE job_id = $4 AND status = $5
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusSent, documentID, attempts, jobID, domain.JobStatusDispatching)
	if err != nil {
		return fmt.Errorf("failed to mark job sent: %w", err)
	}

	return s.checkTransition(result, jobID, domain.JobStatusSent)
}

// MarkJobFailed records the terminal FAILED state with the failure reason.
func (s *Storage) MarkJobFailed(ctx context.Context, jobID string, attempts int, reason string) error {
	query := `
		UPDATE document_jobs
		SET status = $1,
		    attempts = $2,
		    error_message = $3,
		    updated_at = NOW()
		WHERE job_id = $4 AND status = $5
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusFailed, attempts, reason, jobID, domain.JobStatusDispatching)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	return s.checkTransition(result, jobID, domain.JobStatusFailed)
}

// checkTransition verifies the guarded UPDATE actually moved a row.
func (s *Storage) checkTransition(result sql.Result, jobID, to string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		s.logger.Warn("Job status transition had no effect",
			slog.String("job_id", jobID),
			slog.String("to_status", to),
		)
		return fmt.Errorf("job %s not in DISPATCHING, cannot transition to %s", jobID, to)
	}

	return nil
}
