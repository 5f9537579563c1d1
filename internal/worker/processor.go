package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ylv-consulting/landops/internal/audit"
	"github.com/ylv-consulting/landops/internal/docgen"
	"github.com/ylv-consulting/landops/internal/worker/domain"
)

// processJob dispatches a single job: claim, call the document service with
// retries, record the terminal status.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.String("worker_id", w.workerID),
	)

	// Step 1: Claim job (PENDING or interrupted DISPATCHING → DISPATCHING)
	job, err := w.storage.ClaimJob(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			w.logger.Warn("Job already terminal or claimed, skipping",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("job already claimed: %w", err)
		}
		// Database error - could be transient, requeue for redelivery
		w.logger.Error("Failed to claim job",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	// Step 2: Parse the stored field mapping
	var fields map[string]string
	if job.Fields != "" {
		if err := json.Unmarshal([]byte(job.Fields), &fields); err != nil {
			w.logger.Error("Failed to parse job field mapping",
				slog.String("job_id", msg.JobID),
				slog.String("error", err.Error()),
			)
			reason := fmt.Sprintf("invalid field mapping JSON: %s", err.Error())
			if markErr := w.storage.MarkJobFailed(ctx, job.JobID, job.Attempts, reason); markErr != nil {
				w.logger.Error("Failed to mark job failed",
					slog.String("job_id", job.JobID),
					slog.String("error", markErr.Error()),
				)
			}
			w.recordAudit(ctx, audit.Entry{
				Action:  "document.dispatch",
				Status:  audit.StatusError,
				Subject: job.JobID,
				Detail:  reason,
			})
			return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
	}

	// Step 3: Dispatch with capped exponential backoff
	result, attempts, err := w.dispatchWithRetry(ctx, job, fields)
	if err != nil {
		return w.failJob(ctx, job, attempts, err)
	}

	// Step 4: Record the terminal SENT state
	if markErr := w.storage.MarkJobSent(ctx, job.JobID, result.DocumentID, attempts); markErr != nil {
		w.logger.Error("Failed to mark job sent",
			slog.String("job_id", job.JobID),
			slog.String("error", markErr.Error()),
		)
		// The document exists; redelivery would generate a duplicate.
		// Surface the inconsistency in the audit log and ACK anyway.
		w.recordAudit(ctx, audit.Entry{
			Action:  "document.dispatch",
			Status:  audit.StatusWarning,
			Subject: job.JobID,
			Detail:  fmt.Sprintf("document %s generated but status update failed: %s", result.DocumentID, markErr.Error()),
		})
		return nil
	}

	w.logger.Info("Document dispatched",
		slog.String("job_id", job.JobID),
		slog.String("document_id", result.DocumentID),
		slog.Int("attempts", attempts),
	)

	w.recordAudit(ctx, audit.Entry{
		Action:  "document.dispatch",
		Status:  audit.StatusSuccess,
		Subject: job.JobID,
		Detail:  fmt.Sprintf("kind=%s document_id=%s attempts=%d", job.Kind, result.DocumentID, attempts),
	})

	// Step 5: Best-effort writeback onto the source record
	w.writeback(ctx, job, result.DocumentID)

	return nil
}

// dispatchWithRetry calls the document service up to maxAttempts times,
// sleeping a capped exponential backoff between attempts. Only transient
// failures are retried. Returns the result and the number of attempts made.
func (w *Worker) dispatchWithRetry(ctx context.Context, job *domain.DocumentJob, fields map[string]string) (*docgen.Result, int, error) {
	req := docgen.Request{
		TemplateID: job.TemplateID,
		Kind:       job.Kind,
		Fields:     fields,
	}

	var lastErr error
	attempts := job.Attempts

	for attempts < w.maxAttempts {
		attempts++

		attemptCtx := ctx
		cancel := func() {}
		if w.attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, w.attemptTimeout)
		}

		result, err := w.documents.Generate(attemptCtx, req)
		cancel()

		if err == nil {
			return result, attempts, nil
		}
		lastErr = err

		var permanent *docgen.ErrPermanent
		if errors.As(err, &permanent) {
			w.logger.Error("Document dispatch rejected",
				slog.String("job_id", job.JobID),
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()),
			)
			return nil, attempts, err
		}

		w.logger.Warn("Document dispatch attempt failed",
			slog.String("job_id", job.JobID),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", w.maxAttempts),
			slog.String("error", err.Error()),
		)

		if attempts >= w.maxAttempts {
			break
		}

		backoff := time.Duration(float64(w.initialBackoff) * float64(uint(1)<<uint(attempts-1)))
		if backoff > w.maxBackoff {
			backoff = w.maxBackoff
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			// Shutdown mid-retry: leave the job DISPATCHING and requeue the
			// message so the next claim resumes where this one stopped.
			return nil, attempts, domain.NewRetryableError(fmt.Errorf("dispatch interrupted: %w", ctx.Err()))
		case <-w.stopChan:
			return nil, attempts, domain.NewRetryableError(fmt.Errorf("dispatch interrupted: worker stopping"))
		}
	}

	return nil, attempts, fmt.Errorf("%w: %v", domain.ErrMaxAttemptsExceeded, lastErr)
}

// failJob records a terminal FAILED state unless the error is retryable, in
// which case the job stays DISPATCHING for redelivery.
func (w *Worker) failJob(ctx context.Context, job *domain.DocumentJob, attempts int, dispatchErr error) error {
	var retryable *domain.RetryableError
	if errors.As(dispatchErr, &retryable) {
		w.logger.Info("Job dispatch interrupted, leaving for redelivery",
			slog.String("job_id", job.JobID),
			slog.Int("attempts", attempts),
		)
		return dispatchErr
	}

	if markErr := w.storage.MarkJobFailed(ctx, job.JobID, attempts, dispatchErr.Error()); markErr != nil {
		w.logger.Error("Failed to mark job failed",
			slog.String("job_id", job.JobID),
			slog.String("error", markErr.Error()),
		)
	}

	w.recordAudit(ctx, audit.Entry{
		Action:  "document.dispatch",
		Status:  audit.StatusError,
		Subject: job.JobID,
		Detail:  fmt.Sprintf("kind=%s attempts=%d error=%s", job.Kind, attempts, dispatchErr.Error()),
	})

	return dispatchErr
}

// writeback stamps the generated document reference onto the source record.
// Failures are logged and audited but never fail the job: the document exists
// and the job is already SENT.
func (w *Worker) writeback(ctx context.Context, job *domain.DocumentJob, documentID string) {
	if w.records == nil {
		return
	}

	table, ok := w.writebackTables[job.Kind]
	if !ok {
		return
	}

	update := map[string]interface{}{
		"document_id":   documentID,
		"dispatched_at": time.Now().UTC().Format(time.RFC3339),
	}

	if err := w.records.UpdateRecord(ctx, table, job.RecordID, update); err != nil {
		w.logger.Warn("Record writeback failed",
			slog.String("job_id", job.JobID),
			slog.String("record_id", job.RecordID),
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		w.recordAudit(ctx, audit.Entry{
			Action:  "record.writeback",
			Status:  audit.StatusWarning,
			Subject: job.RecordID,
			Detail:  fmt.Sprintf("job_id=%s error=%s", job.JobID, err.Error()),
		})
		return
	}

	w.logger.Debug("Record writeback completed",
		slog.String("job_id", job.JobID),
		slog.String("record_id", job.RecordID),
		slog.String("table", table),
	)
}

func (w *Worker) recordAudit(ctx context.Context, e audit.Entry) {
	if w.auditor == nil {
		return
	}
	if err := w.auditor.Record(ctx, e); err != nil {
		w.logger.Error("Failed to append audit entry",
			slog.String("action", e.Action),
			slog.String("subject", e.Subject),
			slog.String("error", err.Error()),
		)
	}
}
