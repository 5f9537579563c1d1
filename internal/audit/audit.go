// Package audit provides the append-only automation log every service writes
// its outcomes to. Appending is the only mutating operation; each append is a
// single insert, so concurrent writers never interleave within an entry.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// Entry statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
	StatusWarning = "WARNING"
)

// Entry is one appended audit record.
type Entry struct {
	ID         int64     `db:"id"`
	OccurredAt time.Time `db:"occurred_at"`
	Actor      string    `db:"actor"`  // service that acted, e.g. "worker-service"
	Action     string    `db:"action"` // what happened, e.g. "document.dispatch"
	Status     string    `db:"status"`
	Subject    string    `db:"subject"` // affected job id, table name, ...
	Detail     string    `db:"detail"`
}

// Recorder appends entries to the audit log.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// PGRecorder appends audit entries to PostgreSQL.
type PGRecorder struct {
	db    *sqlx.DB
	actor string
}

// NewPGRecorder creates a PostgreSQL-backed recorder. The actor name is
// stamped onto every entry the service appends.
func NewPGRecorder(db *sqlx.DB, actor string) *PGRecorder {
	return &PGRecorder{db: db, actor: actor}
}

// Record appends one entry.
func (r *PGRecorder) Record(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO audit_log (occurred_at, actor, action, status, subject, detail)
		VALUES (NOW(), $1, $2, $3, $4, $5)
	`

	actor := e.Actor
	if actor == "" {
		actor = r.actor
	}

	_, err := r.db.ExecContext(ctx, query, actor, e.Action, e.Status, e.Subject, e.Detail)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// MemoryRecorder keeps entries in memory. Used in tests and as a fallback
// collaborator where no database is wired.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends one entry.
func (r *MemoryRecorder) Record(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	e.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, e)
	return nil
}

// Entries returns a copy of everything recorded so far, in append order.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
