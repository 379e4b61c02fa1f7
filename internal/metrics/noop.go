package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) FireStarted(code string)                          {}
func (n *NoopSink) OverlapSkipped(code string)                       {}
func (n *NoopSink) BreakerSkipped(code string)                       {}
func (n *NoopSink) RunCompleted(status string, duration time.Duration) {}
func (n *NoopSink) RunsInFlightIncr()                                {}
func (n *NoopSink) RunsInFlightDecr()                                {}
func (n *NoopSink) LiveTimersUpdate(count int)                       {}
func (n *NoopSink) ReconcilePass(result string)                      {}
func (n *NoopSink) ReconcileChange(op string)                        {}
func (n *NoopSink) AbandonedRunsSwept(count int)                     {}
func (n *NoopSink) EventDropped()                                    {}
