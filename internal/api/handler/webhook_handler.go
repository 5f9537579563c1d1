package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ylv-consulting/landops/internal/api/domain"
	"github.com/ylv-consulting/landops/internal/api/dto"
	"github.com/ylv-consulting/landops/internal/api/model"
	"github.com/ylv-consulting/landops/internal/audit"
)

// HandleWebhook handles POST /webhook/:kind
// Validates the event envelope, deduplicates by event id, creates a PENDING
// document job, and queues it for the dispatcher. Returns 202 immediately;
// document generation never blocks the sender.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	kind := c.Param("kind")
	if err := domain.ValidateKind(kind); err != nil {
		h.logger.Warn("Webhook with unknown document kind",
			slog.String("kind", kind),
		)
		c.JSON(http.StatusNotFound, gin.H{
			"error": "unknown document kind",
		})
		return
	}

	var req dto.WebhookEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid webhook payload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request body",
		})
		return
	}

	if err := domain.ValidateFields(kind, req.Fields); err != nil {
		h.logger.Warn("Webhook payload failed schema validation",
			slog.String("kind", kind),
			slog.String("event_id", req.EventID),
			slog.String("error", err.Error()),
		)
		h.recordAudit(c, audit.Entry{
			Action:  "webhook.validate",
			Status:  audit.StatusWarning,
			Subject: req.EventID,
			Detail:  err.Error(),
		})
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": err.Error(),
		})
		return
	}

	// Window-bounded dedup. First delivery of an id within the window wins;
	// the storage unique index catches duplicates across restarts.
	if !h.dedup.MarkIfNew(req.EventID) {
		h.respondDuplicate(c, req.EventID)
		return
	}

	fieldsJSON, err := json.Marshal(req.Fields)
	if err != nil {
		h.dedup.Forget(req.EventID)
		h.logger.Error("Failed to marshal event fields", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to process event",
		})
		return
	}

	now := time.Now()
	job := model.DocumentJob{
		JobID:      uuid.New().String(),
		EventID:    req.EventID,
		Kind:       kind,
		TemplateID: req.TemplateID,
		RecordID:   req.RecordID,
		Fields:     string(fieldsJSON),
		Status:     domain.JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.storage.CreateDocumentJob(c.Request.Context(), &job); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			// The in-memory store did not know this id (restart, or a retry
			// after a failure released it) but the row exists. A still-PENDING
			// row may have lost its queue message; republish before replying.
			if !h.requeuePendingJob(c, req.EventID) {
				return
			}
			h.respondDuplicate(c, req.EventID)
			return
		}
		// Release the id so the sender's retry is not swallowed as a
		// duplicate of a job that was never created.
		h.dedup.Forget(req.EventID)
		h.logger.Error("Failed to create document job",
			slog.String("event_id", req.EventID),
			slog.String("error", err.Error()),
		)
		h.recordAudit(c, audit.Entry{
			Action:  "webhook.accept",
			Status:  audit.StatusError,
			Subject: req.EventID,
			Detail:  fmt.Sprintf("job create failed: %s", err.Error()),
		})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to create job",
		})
		return
	}

	msg, _ := json.Marshal(map[string]string{"job_id": job.JobID})
	if err := h.publisher.PublishWithRetry(c.Request.Context(), msg, "application/json"); err != nil {
		// The job row exists; the dispatcher will not see it until the
		// message is republished. Release the dedup id and report failure so
		// the sender retries, lands on the unique-index conflict, and
		// republishes for the still-PENDING row.
		h.dedup.Forget(req.EventID)
		h.logger.Error("Failed to publish job message",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		h.recordAudit(c, audit.Entry{
			Action:  "webhook.accept",
			Status:  audit.StatusError,
			Subject: job.JobID,
			Detail:  fmt.Sprintf("publish failed: %s", err.Error()),
		})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to queue job",
		})
		return
	}

	h.logger.Info("Webhook event accepted",
		slog.String("kind", kind),
		slog.String("event_id", req.EventID),
		slog.String("job_id", job.JobID),
	)
	h.recordAudit(c, audit.Entry{
		Action:  "webhook.accept",
		Status:  audit.StatusSuccess,
		Subject: job.JobID,
		Detail:  fmt.Sprintf("kind=%s event_id=%s record_id=%s", kind, req.EventID, req.RecordID),
	})

	c.JSON(http.StatusAccepted, dto.WebhookEventResponse{
		JobID:   job.JobID,
		EventID: req.EventID,
		Status:  job.Status,
	})
}

// requeuePendingJob republishes the queue message for an event whose job row
// already exists but is still PENDING, so a delivery retry after a publish
// failure un-strands the job. The dispatcher claim tolerates a repeated
// message. Returns false if it wrote an error response itself.
func (h *WebhookHandler) requeuePendingJob(c *gin.Context, eventID string) bool {
	job, err := h.storage.GetJobByEventID(c.Request.Context(), eventID)
	if err != nil {
		if !errors.Is(err, domain.ErrJobNotFound) {
			h.logger.Warn("Failed to look up job for replayed event",
				slog.String("event_id", eventID),
				slog.String("error", err.Error()),
			)
		}
		return true
	}
	if job.Status != domain.JobStatusPending {
		return true
	}

	msg, _ := json.Marshal(map[string]string{"job_id": job.JobID})
	if err := h.publisher.PublishWithRetry(c.Request.Context(), msg, "application/json"); err != nil {
		h.dedup.Forget(eventID)
		h.logger.Error("Failed to republish job message",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		h.recordAudit(c, audit.Entry{
			Action:  "webhook.accept",
			Status:  audit.StatusError,
			Subject: job.JobID,
			Detail:  fmt.Sprintf("republish failed: %s", err.Error()),
		})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to queue job",
		})
		return false
	}

	h.logger.Info("Requeued pending job for replayed event",
		slog.String("event_id", eventID),
		slog.String("job_id", job.JobID),
	)
	return true
}

// respondDuplicate acknowledges a replayed event without creating a job.
func (h *WebhookHandler) respondDuplicate(c *gin.Context, eventID string) {
	h.logger.Info("Duplicate webhook event suppressed",
		slog.String("event_id", eventID),
	)
	h.recordAudit(c, audit.Entry{
		Action:  "webhook.dedup",
		Status:  audit.StatusWarning,
		Subject: eventID,
		Detail:  "duplicate event id within dedup window",
	})

	c.JSON(http.StatusOK, dto.WebhookEventResponse{
		EventID:   eventID,
		Duplicate: true,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *WebhookHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.storage.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.JobResponse{
		JobID:        job.JobID,
		EventID:      job.EventID,
		Kind:         job.Kind,
		TemplateID:   job.TemplateID,
		RecordID:     job.RecordID,
		Status:       job.Status,
		Attempts:     job.Attempts,
		DocumentID:   job.DocumentID,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	})
}

// recordAudit appends an entry; audit failures are logged, never fatal to the
// request.
func (h *WebhookHandler) recordAudit(c *gin.Context, e audit.Entry) {
	if err := h.auditor.Record(c.Request.Context(), e); err != nil {
		h.logger.Error("Failed to append audit entry",
			slog.String("action", e.Action),
			slog.String("error", err.Error()),
		)
	}
}
