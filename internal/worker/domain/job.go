package domain

// DocumentJob is a job row as the dispatcher sees it.
type DocumentJob struct {
	JobID      string
	EventID    string
	Kind       string
	TemplateID string
	RecordID   string
	Fields     string // JSON field mapping
	Status     string
	WorkerID   string
	Attempts   int
}

// JobMessage is the queue message pointing at a job row.
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}
