package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunEvent is published on the event bus after a run reaches a terminal
// status. Consumers (run stats) are strictly best-effort: dropping an
// event never affects the run record.
type RunEvent struct {
	RunID   uuid.UUID
	JobCode string

	Status   RunStatus
	Duration time.Duration

	FiredAt time.Time
}
