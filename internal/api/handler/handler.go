package handler

import (
	"context"
	"log/slog"

	"github.com/ylv-consulting/landops/internal/api/dedup"
	"github.com/ylv-consulting/landops/internal/api/model"
	"github.com/ylv-consulting/landops/internal/audit"
)

// JobStore is the persistence side of job creation and lookup.
type JobStore interface {
	CreateDocumentJob(ctx context.Context, job *model.DocumentJob) error
	GetJobByID(ctx context.Context, jobID string) (*model.DocumentJob, error)
	GetJobByEventID(ctx context.Context, eventID string) (*model.DocumentJob, error)
}

// Publisher hands created jobs to the dispatcher queue.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Storage   JobStore
	Publisher Publisher
	Dedup     *dedup.Store
	Auditor   audit.Recorder
}

// WebhookHandler handles inbound webhook events and job lookups
type WebhookHandler struct {
	logger    *slog.Logger
	storage   JobStore
	publisher Publisher
	dedup     *dedup.Store
	auditor   audit.Recorder
}

// NewWebhookHandler creates a new WebhookHandler instance
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	return &WebhookHandler{
		logger:    deps.Logger,
		storage:   deps.Storage,
		publisher: deps.Publisher,
		dedup:     deps.Dedup,
		auditor:   deps.Auditor,
	}
}
