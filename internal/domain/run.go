package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailure RunStatus = "failure"
	RunStatusTimeout RunStatus = "timeout"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailure || s == RunStatusTimeout
}

// RunRecord is the durable audit row for one execution attempt.
// It is created with status=running and mutated exactly once, to a
// terminal status. A running row with no terminal transition after a
// crash is swept to timeout by the reconciler.
type RunRecord struct {
	ID      uuid.UUID
	JobCode string

	StartedAt  time.Time
	FinishedAt *time.Time

	Status RunStatus

	// Result holds the truncated result summary on success.
	Result string
	// Error holds the error message on failure.
	Error string
}
