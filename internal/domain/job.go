package domain

import "time"

// JobDefinition is the durable description of what to run and when.
// The store is the source of truth; the engine's live timers are derived
// from it and rebuilt on every process start.
type JobDefinition struct {
	// Code uniquely identifies the job. Immutable once created.
	Code string

	// Target is the registry name of the invocable to run.
	Target string

	TriggerKind TriggerKind
	TriggerSpec TriggerSpec

	// Params are passed to the target at invocation, decoded from jsonb.
	Params map[string]any

	Enabled bool

	// MaxInstances bounds concurrent runs of this code. Default 1.
	MaxInstances int

	// Timeout bounds a single execution. Zero means unbounded.
	Timeout time.Duration

	// Version increases on every update; the reconciler compares it
	// against the live timer set instead of deep-comparing definitions.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}
