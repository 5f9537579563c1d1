package domain

// Document job status constants. Transitions are monotonic:
// PENDING → DISPATCHING → {SENT | FAILED}.
const (
	JobStatusPending     = "PENDING"
	JobStatusDispatching = "DISPATCHING"
	JobStatusSent        = "SENT"
	JobStatusFailed      = "FAILED"
)
