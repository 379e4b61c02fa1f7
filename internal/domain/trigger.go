package domain

import "time"

type TriggerKind string

const (
	TriggerInterval TriggerKind = "interval"
	TriggerCron     TriggerKind = "cron"
	TriggerOneShot  TriggerKind = "one_shot"
)

// TriggerSpec holds kind-specific trigger parameters. Exactly one group of
// fields is meaningful per kind.
type TriggerSpec struct {
	// Seconds is the repeat period for interval triggers.
	Seconds int `json:"seconds,omitempty"`

	// Expression is a five-field cron expression for cron triggers.
	Expression string `json:"expression,omitempty"`

	// Timezone is the IANA zone the cron expression is evaluated in.
	// Empty means the process-configured default zone.
	Timezone string `json:"timezone,omitempty"`

	// At is the fixed fire instant for one_shot triggers.
	At *time.Time `json:"at,omitempty"`
}
