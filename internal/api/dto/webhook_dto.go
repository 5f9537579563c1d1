package dto

// WebhookEventRequest is the signed envelope posted to /webhook/{offer|psa}.
type WebhookEventRequest struct {
	EventID    string            `json:"event_id" binding:"required"`
	RecordID   string            `json:"record_id" binding:"required"`
	TemplateID string            `json:"template_id" binding:"required"`
	Fields     map[string]string `json:"fields" binding:"required"`
}

// WebhookEventResponse acknowledges an accepted or deduplicated event.
type WebhookEventResponse struct {
	JobID     string `json:"job_id,omitempty"`
	EventID   string `json:"event_id"`
	Status    string `json:"status,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

// JobResponse reports the state of one document job.
type JobResponse struct {
	JobID        string `json:"job_id"`
	EventID      string `json:"event_id"`
	Kind         string `json:"kind"`
	TemplateID   string `json:"template_id"`
	RecordID     string `json:"record_id"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	DocumentID   string `json:"document_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}
