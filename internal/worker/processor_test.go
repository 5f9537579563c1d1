package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ylv-consulting/landops/internal/audit"
	"github.com/ylv-consulting/landops/internal/docgen"
	"github.com/ylv-consulting/landops/internal/worker/domain"
)

type fakeJobStore struct {
	mu     sync.Mutex
	job    *domain.DocumentJob
	claims []string

	claimErr error

	sentID       string
	sentAttempts int
	failedReason string
	failAttempts int
}

func (s *fakeJobStore) ClaimJob(_ context.Context, jobID, workerID string) (*domain.DocumentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = append(s.claims, jobID)
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	job := *s.job
	job.Status = domain.JobStatusDispatching
	job.WorkerID = workerID
	return &job, nil
}

func (s *fakeJobStore) MarkJobSent(_ context.Context, jobID, documentID string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentID = documentID
	s.sentAttempts = attempts
	return nil
}

func (s *fakeJobStore) MarkJobFailed(_ context.Context, jobID string, attempts int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedReason = reason
	s.failAttempts = attempts
	return nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	results []func() (*docgen.Result, error)
	calls   int
}

func (g *fakeGenerator) Generate(_ context.Context, _ docgen.Request) (*docgen.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := g.calls
	g.calls++
	if idx >= len(g.results) {
		idx = len(g.results) - 1
	}
	return g.results[idx]()
}

func succeed(documentID string) func() (*docgen.Result, error) {
	return func() (*docgen.Result, error) {
		return &docgen.Result{DocumentID: documentID}, nil
	}
}

func failTransient() func() (*docgen.Result, error) {
	return func() (*docgen.Result, error) {
		return nil, &docgen.ErrTransient{Err: fmt.Errorf("status 503")}
	}
}

func failPermanent() func() (*docgen.Result, error) {
	return func() (*docgen.Result, error) {
		return nil, &docgen.ErrPermanent{Err: fmt.Errorf("status 422: bad template")}
	}
}

type fakeRecordWriter struct {
	mu      sync.Mutex
	updates []string
	err     error
}

func (w *fakeRecordWriter) UpdateRecord(_ context.Context, table, recordID string, fields map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.updates = append(w.updates, table+"/"+recordID)
	return nil
}

type processorFixture struct {
	store     *fakeJobStore
	generator *fakeGenerator
	records   *fakeRecordWriter
	auditor   *audit.MemoryRecorder
	worker    *Worker
	jobID     string
}

func newProcessorFixture(results ...func() (*docgen.Result, error)) *processorFixture {
	jobID := uuid.New().String()

	f := &processorFixture{
		store: &fakeJobStore{
			job: &domain.DocumentJob{
				JobID:      jobID,
				EventID:    "evt-1",
				Kind:       "offer",
				TemplateID: "tplOfferLetter",
				RecordID:   "recOFFER01",
				Fields:     `{"seller_name":"Jane Smith"}`,
			},
		},
		generator: &fakeGenerator{results: results},
		records:   &fakeRecordWriter{},
		auditor:   audit.NewMemoryRecorder(),
		jobID:     jobID,
	}

	f.worker = NewWorker(&Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Storage:         f.store,
		Documents:       f.generator,
		Records:         f.records,
		Auditor:         f.auditor,
		Concurrency:     1,
		MaxAttempts:     3,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      5 * time.Millisecond,
		WritebackTables: map[string]string{"offer": "Offers"},
	})

	return f
}

func (f *processorFixture) process() error {
	return f.worker.processJob(context.Background(), &domain.JobMessage{JobID: f.jobID})
}

func TestProcessJob_Success(t *testing.T) {
	f := newProcessorFixture(succeed("doc-123"))

	err := f.process()
	require.NoError(t, err)

	assert.Equal(t, []string{f.jobID}, f.store.claims)
	assert.Equal(t, "doc-123", f.store.sentID)
	assert.Equal(t, 1, f.store.sentAttempts)
	assert.Empty(t, f.store.failedReason)

	// Document reference written back onto the source record
	assert.Equal(t, []string{"Offers/recOFFER01"}, f.records.updates)

	entries := f.auditor.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "document.dispatch", entries[0].Action)
	assert.Equal(t, audit.StatusSuccess, entries[0].Status)
	assert.Equal(t, f.jobID, entries[0].Subject)
}

func TestProcessJob_TransientThenSuccess(t *testing.T) {
	f := newProcessorFixture(failTransient(), failTransient(), succeed("doc-123"))

	err := f.process()
	require.NoError(t, err)

	assert.Equal(t, 3, f.generator.calls)
	assert.Equal(t, "doc-123", f.store.sentID)
	assert.Equal(t, 3, f.store.sentAttempts)
}

func TestProcessJob_PermanentFailsImmediately(t *testing.T) {
	f := newProcessorFixture(failPermanent())

	err := f.process()
	require.Error(t, err)

	// No retries for a rejected request
	assert.Equal(t, 1, f.generator.calls)
	assert.Equal(t, 1, f.store.failAttempts)
	assert.Contains(t, f.store.failedReason, "bad template")
	assert.Empty(t, f.store.sentID)
	assert.Empty(t, f.records.updates)

	// Permanent failure must not requeue
	assert.False(t, f.worker.shouldRequeueJob(err))

	entries := f.auditor.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusError, entries[0].Status)
}

func TestProcessJob_ExhaustsAttempts(t *testing.T) {
	f := newProcessorFixture(failTransient())

	err := f.process()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMaxAttemptsExceeded)

	assert.Equal(t, 3, f.generator.calls)
	assert.Equal(t, 3, f.store.failAttempts)
	assert.Contains(t, f.store.failedReason, "503")

	// Exhausted jobs are terminal; no requeue
	assert.False(t, f.worker.shouldRequeueJob(err))
}

func TestProcessJob_AlreadyClaimed(t *testing.T) {
	f := newProcessorFixture(succeed("doc-123"))
	f.store.claimErr = domain.ErrJobAlreadyClaimed

	err := f.process()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
	assert.Equal(t, 0, f.generator.calls)
	assert.False(t, f.worker.shouldRequeueJob(err))
}

func TestProcessJob_ClaimDatabaseErrorRequeues(t *testing.T) {
	f := newProcessorFixture(succeed("doc-123"))
	f.store.claimErr = fmt.Errorf("connection reset")

	err := f.process()
	require.Error(t, err)
	assert.True(t, f.worker.shouldRequeueJob(err))
}

func TestProcessJob_InvalidFieldMapping(t *testing.T) {
	f := newProcessorFixture(succeed("doc-123"))
	f.store.job.Fields = `{not json`

	err := f.process()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
	assert.Equal(t, 0, f.generator.calls)
	assert.Contains(t, f.store.failedReason, "invalid field mapping")
	assert.False(t, f.worker.shouldRequeueJob(err))
}

func TestProcessJob_WritebackFailureDoesNotFailJob(t *testing.T) {
	f := newProcessorFixture(succeed("doc-123"))
	f.records.err = fmt.Errorf("source unavailable")

	err := f.process()
	require.NoError(t, err)
	assert.Equal(t, "doc-123", f.store.sentID)

	entries := f.auditor.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "document.dispatch", entries[0].Action)
	assert.Equal(t, "record.writeback", entries[1].Action)
	assert.Equal(t, audit.StatusWarning, entries[1].Status)
}

func TestProcessJob_NoWritebackWithoutMapping(t *testing.T) {
	f := newProcessorFixture(succeed("doc-123"))
	f.worker.writebackTables = nil

	err := f.process()
	require.NoError(t, err)
	assert.Empty(t, f.records.updates)
}

func TestProcessJob_ShutdownMidRetryRequeues(t *testing.T) {
	f := newProcessorFixture(failTransient())
	// Force the retry wait to block until canceled
	f.worker.initialBackoff = time.Hour
	f.worker.maxBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := f.worker.processJob(ctx, &domain.JobMessage{JobID: f.jobID})
	require.Error(t, err)

	var retryable *domain.RetryableError
	assert.True(t, errors.As(err, &retryable))
	assert.True(t, f.worker.shouldRequeueJob(err))

	// Job stays DISPATCHING: no terminal status written
	assert.Empty(t, f.store.sentID)
	assert.Empty(t, f.store.failedReason)
}

func TestShouldRequeueJob(t *testing.T) {
	f := newProcessorFixture(succeed("doc-123"))

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "already claimed", err: domain.ErrJobAlreadyClaimed, want: false},
		{name: "max attempts", err: fmt.Errorf("%w: boom", domain.ErrMaxAttemptsExceeded), want: false},
		{name: "invalid payload", err: domain.ErrInvalidPayload, want: false},
		{name: "retryable", err: domain.NewRetryableError(fmt.Errorf("db down")), want: true},
		{name: "unknown error", err: fmt.Errorf("something else"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.worker.shouldRequeueJob(tt.err))
		})
	}
}
