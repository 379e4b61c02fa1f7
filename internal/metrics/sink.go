package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Engine metrics
	FireStarted(code string)
	OverlapSkipped(code string)
	BreakerSkipped(code string)
	RunCompleted(status string, duration time.Duration)
	RunsInFlightIncr()
	RunsInFlightDecr()
	LiveTimersUpdate(count int)

	// Reconciler metrics
	ReconcilePass(result string)
	ReconcileChange(op string)
	AbandonedRunsSwept(count int)

	// Bus metrics
	EventDropped()
}

// Result constants for ReconcilePass.
const (
	PassOK     = "ok"
	PassFailed = "failed"
)

// Op constants for ReconcileChange.
const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpRemove = "remove"
)
