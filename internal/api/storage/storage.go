package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/ylv-consulting/landops/internal/api/domain"
	"github.com/ylv-consulting/landops/internal/api/model"
	"github.com/ylv-consulting/landops/shared/postgresql"
)

// uniqueViolation is the PostgreSQL error code for a unique index conflict.
const uniqueViolation = "23505"

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// CreateDocumentJob inserts a new PENDING job. The unique index on event_id
// makes job creation at-most-once per event even across service restarts;
// a conflict surfaces as domain.ErrDuplicateEvent.
func (s *Storage) CreateDocumentJob(ctx context.Context, job *model.DocumentJob) error {
	query := `
		INSERT INTO document_jobs (
			job_id, event_id, kind, template_id,
			record_id, fields, status, attempts,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.EventID,
		job.Kind,
		job.TemplateID,
		job.RecordID,
		job.Fields,
		job.Status,
		job.Attempts,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to create document job: %w", err)
	}

	return nil
}

// GetJobByEventID retrieves the job created for one webhook event.
func (s *Storage) GetJobByEventID(ctx context.Context, eventID string) (*model.DocumentJob, error) {
	var job model.DocumentJob
	query := `
		SELECT job_id, event_id, kind, template_id,
		       record_id, fields, status, attempts,
		       COALESCE(document_id, '') AS document_id,
		       COALESCE(error_message, '') AS error_message,
		       created_at, updated_at
		FROM document_jobs
		WHERE event_id = $1
	`

	err := s.db.GetContext(ctx, &job, query, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get document job by event: %w", err)
	}

	return &job, nil
}

// GetJobByID retrieves one document job.
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.DocumentJob, error) {
	var job model.DocumentJob
	query := `
		SELECT job_id, event_id, kind, template_id,
		       record_id, fields, status, attempts,
		       COALESCE(document_id, '') AS document_id,
		       COALESCE(error_message, '') AS error_message,
		       created_at, updated_at
		FROM document_jobs
		WHERE job_id = $1
	`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get document job: %w", err)
	}

	return &job, nil
}
