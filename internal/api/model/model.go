package model

import "time"

// DocumentJob is one document-generation request as stored in PostgreSQL.
type DocumentJob struct {
	JobID        string    `db:"job_id"`
	EventID      string    `db:"event_id"`
	Kind         string    `db:"kind"`
	TemplateID   string    `db:"template_id"`
	RecordID     string    `db:"record_id"`
	Fields       string    `db:"fields"` // JSON field mapping for the template
	Status       string    `db:"status"`
	Attempts     int       `db:"attempts"`
	DocumentID   string    `db:"document_id"`
	ErrorMessage string    `db:"error_message"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}
