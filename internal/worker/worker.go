package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ylv-consulting/landops/internal/audit"
	"github.com/ylv-consulting/landops/internal/docgen"
	"github.com/ylv-consulting/landops/internal/worker/domain"
	"github.com/ylv-consulting/landops/shared/rabbitmq"
)

// JobStore is the dispatcher's view of job persistence.
type JobStore interface {
	ClaimJob(ctx context.Context, jobID, workerID string) (*domain.DocumentJob, error)
	MarkJobSent(ctx context.Context, jobID, documentID string, attempts int) error
	MarkJobFailed(ctx context.Context, jobID string, attempts int, reason string) error
}

// DocumentGenerator calls the external document service.
type DocumentGenerator interface {
	Generate(ctx context.Context, req docgen.Request) (*docgen.Result, error)
}

// RecordWriter writes dispatch outcomes back onto source records.
type RecordWriter interface {
	UpdateRecord(ctx context.Context, table, recordID string, fields map[string]interface{}) error
}

// Config holds worker configuration
type Config struct {
	Logger          *slog.Logger
	RabbitClient    *rabbitmq.Client
	Storage         JobStore
	Documents       DocumentGenerator
	Records         RecordWriter // optional; nil disables writeback
	Auditor         audit.Recorder
	Concurrency     int
	PrefetchCount   int
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	AttemptTimeout  time.Duration
	QueueName       string
	WritebackTables map[string]string // document kind → source table
}

// Worker consumes job messages and dispatches document generation.
type Worker struct {
	logger          *slog.Logger
	rabbitClient    *rabbitmq.Client
	storage         JobStore
	documents       DocumentGenerator
	records         RecordWriter
	auditor         audit.Recorder
	concurrency     int
	prefetchCount   int
	maxAttempts     int
	initialBackoff  time.Duration
	maxBackoff      time.Duration
	attemptTimeout  time.Duration
	queueName       string
	writebackTables map[string]string
	workerID        string
	jobsChan        chan *domain.JobMessage
	wg              sync.WaitGroup
	stopChan        chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}

	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	return &Worker{
		logger:          cfg.Logger,
		rabbitClient:    cfg.RabbitClient,
		storage:         cfg.Storage,
		documents:       cfg.Documents,
		records:         cfg.Records,
		auditor:         cfg.Auditor,
		concurrency:     cfg.Concurrency,
		prefetchCount:   cfg.PrefetchCount,
		maxAttempts:     maxAttempts,
		initialBackoff:  initialBackoff,
		maxBackoff:      maxBackoff,
		attemptTimeout:  cfg.AttemptTimeout,
		queueName:       cfg.QueueName,
		writebackTables: cfg.WritebackTables,
		workerID:        fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8]),
		jobsChan:        make(chan *domain.JobMessage),
		stopChan:        make(chan struct{}),
	}
}

// Start begins consuming and dispatching jobs. Blocks until ctx is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting dispatcher",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_attempts", w.maxAttempts),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping dispatcher...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Dispatcher stopped")
}
