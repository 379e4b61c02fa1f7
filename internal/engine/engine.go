// Package engine owns the live set of scheduled timers and drives firing.
//
// One engine runs per process. A single scheduling loop decides what fires
// next; each admitted fire executes as its own goroutine so a slow job
// never delays evaluation of other timers. All mutations of the timer set
// (AddOrUpdate, Remove, the reconciler's sync, shutdown) go through one
// mutex, which is never held across job execution or store I/O.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jobd-io/jobd/internal/domain"
	"github.com/jobd-io/jobd/internal/metrics"
	"github.com/jobd-io/jobd/internal/registry"
	"github.com/jobd-io/jobd/internal/trigger"
)

var (
	// ErrInvalidState is returned on an illegal lifecycle transition,
	// e.g. Start while the engine is draining.
	ErrInvalidState = errors.New("invalid engine state transition")

	// ErrTriggerExhausted is returned by AddOrUpdate when the trigger can
	// produce no future fire time (a one_shot whose instant has passed).
	// The caller is expected to remove or disable the definition.
	ErrTriggerExhausted = errors.New("trigger exhausted")
)

// State is the engine lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// RunLog durably records the start and terminal outcome of each run.
// The start write strictly precedes the terminal write.
type RunLog interface {
	BeginRun(ctx context.Context, code string) (uuid.UUID, error)
	CompleteRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, result, errMsg string) error
}

// Breaker suppresses fires of persistently failing codes. Optional.
type Breaker interface {
	Allow(code string) error
	RecordSuccess(code string)
	RecordFailure(code string)
	Forget(code string)
}

// Publisher receives run events after each terminal transition. Optional;
// publishing is non-blocking and dropped events are counted, not retried.
type Publisher interface {
	Publish(event domain.RunEvent) error
}

// Config holds engine tuning knobs.
type Config struct {
	// DefaultLocation is the zone cron specs without an explicit
	// timezone are evaluated in. Defaults to UTC.
	DefaultLocation *time.Location

	// ResultMaxLen truncates run result summaries. Default 1024.
	ResultMaxLen int

	// IdleWait caps how long the loop sleeps when no timer is due.
	// Default 1 minute.
	IdleWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultLocation == nil {
		c.DefaultLocation = time.UTC
	}
	if c.ResultMaxLen <= 0 {
		c.ResultMaxLen = 1024
	}
	if c.IdleWait <= 0 {
		c.IdleWait = time.Minute
	}
	return c
}

// liveTimer is the in-memory derived scheduling state for one job code.
// Always rebuildable from the job definition; never persisted.
type liveTimer struct {
	code         string
	version      int64
	target       string
	params       map[string]any
	sched        trigger.Schedule
	nextFire     time.Time
	maxInstances int
	timeout      time.Duration
}

// Engine schedules live timers and executes fired jobs.
type Engine struct {
	cfg      Config
	registry *registry.Registry
	runlog   RunLog
	breaker  Breaker       // optional, nil = disabled
	events   Publisher     // optional, nil = disabled
	metrics  metrics.Sink
	logger   zerolog.Logger
	clock    func() time.Time

	mu     sync.Mutex
	state  State
	timers map[string]*liveTimer
	active map[string]int // in-flight run count per code

	wake     chan struct{}
	stopCh   chan struct{}
	loopDone chan struct{}
	inFlight sync.WaitGroup
}

// New creates an Engine with injected collaborators. The registry and run
// log are required; breaker and publisher are optional.
func New(cfg Config, reg *registry.Registry, runlog RunLog, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		registry: reg,
		runlog:   runlog,
		metrics:  metrics.NewNoopSink(),
		logger:   logger.With().Str("component", "engine").Logger(),
		clock:    time.Now,
		timers:   make(map[string]*liveTimer),
		active:   make(map[string]int),
		wake:     make(chan struct{}, 1),
	}
}

// WithBreaker attaches a circuit breaker to the engine.
func (e *Engine) WithBreaker(b Breaker) *Engine {
	e.breaker = b
	return e
}

// WithPublisher attaches a run event publisher to the engine.
func (e *Engine) WithPublisher(p Publisher) *Engine {
	e.events = p
	return e
}

// WithMetrics attaches a metrics sink to the engine.
func (e *Engine) WithMetrics(sink metrics.Sink) *Engine {
	e.metrics = sink
	return e
}

// WithClock overrides the engine clock. For tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Start begins firing due timers. Calling it while already running is a
// warned no-op; calling it while stopping is an error.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRunning:
		e.logger.Warn().Msg("start ignored: engine already running")
		return nil
	case StateStopping:
		return fmt.Errorf("%w: start while stopping", ErrInvalidState)
	}

	e.state = StateRunning
	e.stopCh = make(chan struct{})
	e.loopDone = make(chan struct{})
	go e.loop(e.stopCh, e.loopDone)

	e.logger.Info().Int("timers", len(e.timers)).Msg("engine started")
	return nil
}

// Stop transitions to stopping, stops admitting new fires, waits up to
// drainTimeout for in-flight runs, then reports stopped. Runs still
// executing after the timeout are abandoned; their records stay running
// until the reconciler's abandoned-run sweep.
func (e *Engine) Stop(drainTimeout time.Duration) error {
	e.mu.Lock()
	switch e.state {
	case StateStopped:
		e.mu.Unlock()
		e.logger.Warn().Msg("stop ignored: engine already stopped")
		return nil
	case StateStopping:
		e.mu.Unlock()
		return fmt.Errorf("%w: stop while stopping", ErrInvalidState)
	}
	e.state = StateStopping
	close(e.stopCh)
	loopDone := e.loopDone
	e.mu.Unlock()

	<-loopDone

	drained := make(chan struct{})
	go func() {
		e.inFlight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		e.logger.Info().Msg("all runs drained")
	case <-time.After(drainTimeout):
		e.logger.Warn().Dur("drain_timeout", drainTimeout).
			Msg("drain timeout exceeded, abandoning in-flight runs")
	}

	e.mu.Lock()
	e.state = StateStopped
	// Live timers are derived state; drop them. The next start is
	// preceded by a reconciler sync that rebuilds the set.
	e.timers = make(map[string]*liveTimer)
	e.metrics.LiveTimersUpdate(0)
	e.mu.Unlock()

	e.logger.Info().Msg("engine stopped")
	return nil
}

// IsRunning reports whether the engine is in the running state.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateRunning
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// AddOrUpdate installs or replaces the live timer for def.Code. A timer
// with the same code and version is left untouched, making repeated
// reconciliation passes free. A changed spec applies to the next computed
// fire only; an in-flight run is never disturbed.
func (e *Engine) AddOrUpdate(def domain.JobDefinition) error {
	sched, err := trigger.Compile(def.TriggerKind, def.TriggerSpec, e.cfg.DefaultLocation)
	if err != nil {
		return err
	}

	// Param shape is checked at admission when the target is known.
	// An unknown target is still admitted: registry misses surface as
	// logged fire failures, matching resolve-at-fire semantics.
	if schema, schemaErr := e.registry.Schema(def.Target); schemaErr == nil {
		if err := schema.Validate(def.Params); err != nil {
			return fmt.Errorf("job %s: %w", def.Code, err)
		}
	}

	now := e.clock()
	next, ok := sched.Next(now)
	if !ok {
		return fmt.Errorf("%w: job %s", ErrTriggerExhausted, def.Code)
	}

	maxInstances := def.MaxInstances
	if maxInstances <= 0 {
		maxInstances = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, found := e.timers[def.Code]; found && existing.version == def.Version {
		return nil
	}

	e.timers[def.Code] = &liveTimer{
		code:         def.Code,
		version:      def.Version,
		target:       def.Target,
		params:       def.Params,
		sched:        sched,
		nextFire:     next,
		maxInstances: maxInstances,
		timeout:      def.Timeout,
	}
	e.metrics.LiveTimersUpdate(len(e.timers))
	e.wakeLoop()

	e.logger.Info().Str("job", def.Code).Int64("version", def.Version).
		Time("next_fire", next).Msg("timer installed")
	return nil
}

// Remove cancels and discards the live timer for code. An in-flight run
// is allowed to complete.
func (e *Engine) Remove(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, found := e.timers[code]; !found {
		return
	}
	delete(e.timers, code)
	if e.breaker != nil {
		e.breaker.Forget(code)
	}
	e.metrics.LiveTimersUpdate(len(e.timers))
	e.wakeLoop()

	e.logger.Info().Str("job", code).Msg("timer removed")
}

// Snapshot returns the current code → version map of live timers.
func (e *Engine) Snapshot() map[string]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := make(map[string]int64, len(e.timers))
	for code, t := range e.timers {
		snap[code] = t.version
	}
	return snap
}

// LiveTimerCount returns the number of installed timers.
func (e *Engine) LiveTimerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// wakeLoop nudges the scheduling loop after a timer mutation.
// Callers hold e.mu; the send never blocks.
func (e *Engine) wakeLoop() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
