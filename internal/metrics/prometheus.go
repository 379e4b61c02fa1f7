package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	firesTotal        prometheus.Counter
	overlapSkipsTotal prometheus.Counter
	breakerSkipsTotal prometheus.Counter
	runsTotal         *prometheus.CounterVec
	runDuration       prometheus.Histogram
	runsInFlight      prometheus.Gauge
	liveTimers        prometheus.Gauge

	reconcilePassesTotal  *prometheus.CounterVec
	reconcileChangesTotal *prometheus.CounterVec
	abandonedSweptTotal   prometheus.Counter

	droppedEventsTotal prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register still work locally; the failure is logged.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initEngineMetrics(reg)
	s.initReconcilerMetrics(reg)
	s.initBusMetrics(reg)
	return s
}

func (s *PrometheusSink) initEngineMetrics(reg prometheus.Registerer) {
	s.firesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobd_engine_fires_total",
		Help: "Total number of timer fires admitted for execution.",
	})
	s.overlapSkipsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobd_engine_overlap_skips_total",
		Help: "Total number of fires skipped because max_instances was reached.",
	})
	s.breakerSkipsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobd_engine_breaker_skips_total",
		Help: "Total number of fires skipped by an open circuit breaker.",
	})
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobd_engine_runs_total",
		Help: "Total number of completed runs by terminal status.",
	}, []string{"status"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "jobd_engine_run_duration_seconds",
		Help:    "Duration of job runs in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
	s.runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobd_engine_runs_in_flight",
		Help: "Number of job runs currently executing.",
	})
	s.liveTimers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobd_engine_live_timers",
		Help: "Number of live timers installed in the engine.",
	})

	s.register(reg, s.firesTotal, "jobd_engine_fires_total")
	s.register(reg, s.overlapSkipsTotal, "jobd_engine_overlap_skips_total")
	s.register(reg, s.breakerSkipsTotal, "jobd_engine_breaker_skips_total")
	s.register(reg, s.runsTotal, "jobd_engine_runs_total")
	s.register(reg, s.runDuration, "jobd_engine_run_duration_seconds")
	s.register(reg, s.runsInFlight, "jobd_engine_runs_in_flight")
	s.register(reg, s.liveTimers, "jobd_engine_live_timers")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.reconcilePassesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobd_reconciler_passes_total",
		Help: "Total number of reconciliation passes by result.",
	}, []string{"result"})
	s.reconcileChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobd_reconciler_changes_total",
		Help: "Total number of live timer changes applied by the reconciler.",
	}, []string{"op"})
	s.abandonedSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobd_reconciler_abandoned_runs_swept_total",
		Help: "Total number of stale running records marked timeout.",
	})

	s.register(reg, s.reconcilePassesTotal, "jobd_reconciler_passes_total")
	s.register(reg, s.reconcileChangesTotal, "jobd_reconciler_changes_total")
	s.register(reg, s.abandonedSweptTotal, "jobd_reconciler_abandoned_runs_swept_total")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.droppedEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobd_bus_dropped_events_total",
		Help: "Total number of run events dropped on a full bus buffer.",
	})

	s.register(reg, s.droppedEventsTotal, "jobd_bus_dropped_events_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if reg == nil {
		return
	}
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) FireStarted(code string)    { s.firesTotal.Inc() }
func (s *PrometheusSink) OverlapSkipped(code string) { s.overlapSkipsTotal.Inc() }
func (s *PrometheusSink) BreakerSkipped(code string) { s.breakerSkipsTotal.Inc() }

func (s *PrometheusSink) RunCompleted(status string, duration time.Duration) {
	s.runsTotal.WithLabelValues(status).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) RunsInFlightIncr()         { s.runsInFlight.Inc() }
func (s *PrometheusSink) RunsInFlightDecr()         { s.runsInFlight.Dec() }
func (s *PrometheusSink) LiveTimersUpdate(count int) { s.liveTimers.Set(float64(count)) }

func (s *PrometheusSink) ReconcilePass(result string) {
	s.reconcilePassesTotal.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) ReconcileChange(op string) {
	s.reconcileChangesTotal.WithLabelValues(op).Inc()
}

func (s *PrometheusSink) AbandonedRunsSwept(count int) {
	s.abandonedSweptTotal.Add(float64(count))
}

func (s *PrometheusSink) EventDropped() { s.droppedEventsTotal.Inc() }
