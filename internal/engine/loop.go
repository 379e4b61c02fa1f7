package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jobd-io/jobd/internal/domain"
	"github.com/jobd-io/jobd/internal/registry"
)

// admitted is a fire that passed overlap and breaker checks and left the
// lock; everything needed to execute without touching the timer set.
type admitted struct {
	code    string
	target  string
	params  map[string]any
	timeout time.Duration
}

// loop is the single scheduling loop. It alone decides what fires next;
// each admitted fire is handed to its own goroutine.
func (e *Engine) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		due, wait := e.collectDue()

		for _, a := range due {
			e.launch(a)
		}

		timer := time.NewTimer(wait)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-e.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// collectDue advances every due timer under the lock and returns the
// fires that were admitted, plus how long to sleep until the next one.
//
// The next fire time is always recomputed for a due timer, admitted or
// skipped: a slow run must never cause fire backlog once it finishes.
func (e *Engine) collectDue() ([]admitted, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	var due []admitted

	for code, t := range e.timers {
		if t.nextFire.After(now) {
			continue
		}

		skip := false
		if e.active[code] >= t.maxInstances {
			e.logger.Warn().Str("job", code).Int("max_instances", t.maxInstances).
				Str("reason", "skipped_overlap").Msg("fire skipped: previous run still active")
			e.metrics.OverlapSkipped(code)
			skip = true
		} else if e.breaker != nil {
			if err := e.breaker.Allow(code); err != nil {
				e.logger.Warn().Str("job", code).Str("reason", "breaker_open").
					Msg("fire skipped: circuit breaker open")
				e.metrics.BreakerSkipped(code)
				skip = true
			}
		}

		if !skip {
			e.active[code]++
			due = append(due, admitted{
				code:    code,
				target:  t.target,
				params:  t.params,
				timeout: t.timeout,
			})
		}

		next, ok := t.sched.Next(now)
		if !ok {
			// One-shot exhausted. Drop the timer; the reconciler
			// disables the definition on its next pass.
			delete(e.timers, code)
			e.metrics.LiveTimersUpdate(len(e.timers))
			e.logger.Info().Str("job", code).Msg("one-shot trigger exhausted, timer dropped")
			continue
		}
		t.nextFire = next
	}

	wait := e.cfg.IdleWait
	for _, t := range e.timers {
		if d := t.nextFire.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return due, wait
}

// launch resolves the target, opens the run record and spawns execution.
// Called without the lock held.
func (e *Engine) launch(a admitted) {
	target, err := e.registry.Resolve(a.target)
	if err != nil {
		// Registry miss is fatal for this fire only.
		e.logger.Error().Err(err).Str("job", a.code).Str("target", a.target).
			Msg("fire failed: target not registered")
		e.releaseActive(a.code)
		return
	}

	ctx := context.Background()
	runID, err := e.runlog.BeginRun(ctx, a.code)
	if err != nil {
		e.logger.Error().Err(err).Str("job", a.code).Msg("fire failed: could not open run record")
		e.releaseActive(a.code)
		return
	}

	e.metrics.FireStarted(a.code)
	e.metrics.RunsInFlightIncr()
	e.inFlight.Add(1)
	go e.execute(a, target, runID)
}

func (e *Engine) releaseActive(code string) {
	e.mu.Lock()
	e.active[code]--
	if e.active[code] <= 0 {
		delete(e.active, code)
	}
	e.mu.Unlock()
}

// execute runs one admitted fire to a terminal status. Job logic errors
// are swallowed at this boundary; nothing a target does crashes the
// engine. A timed-out run is detached, not cancelled beyond its context:
// its eventual completion is logged and ignored for status purposes.
func (e *Engine) execute(a admitted, target registry.Target, runID uuid.UUID) {
	defer e.inFlight.Done()
	defer e.metrics.RunsInFlightDecr()
	defer e.releaseActive(a.code)

	runCtx := context.Background()
	var cancel context.CancelFunc
	if a.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, a.timeout)
		defer cancel()
	}

	start := e.clock()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: panicError(a.code, r)}
			}
		}()
		result, err := target(runCtx, registry.Invocation{JobCode: a.code, Params: a.params})
		done <- outcome{result: result, err: err}
	}()

	var status domain.RunStatus
	var result, errMsg string

	if a.timeout > 0 {
		select {
		case o := <-done:
			status, result, errMsg = classify(o.result, o.err)
		case <-runCtx.Done():
			status = domain.RunStatusTimeout
			errMsg = "execution exceeded timeout of " + a.timeout.String()
			// Detach: the work keeps running on its own goroutine.
			go func() {
				o := <-done
				e.logger.Debug().Str("job", a.code).Str("run", runID.String()).
					AnErr("late_error", o.err).Msg("detached run completed after timeout")
			}()
		}
	} else {
		o := <-done
		status, result, errMsg = classify(o.result, o.err)
	}

	duration := e.clock().Sub(start)

	if len(result) > e.cfg.ResultMaxLen {
		result = result[:e.cfg.ResultMaxLen]
	}

	if err := e.runlog.CompleteRun(context.Background(), runID, status, result, errMsg); err != nil {
		e.logger.Error().Err(err).Str("job", a.code).Str("run", runID.String()).
			Msg("failed to write terminal run record")
	}

	if e.breaker != nil {
		if status == domain.RunStatusSuccess {
			e.breaker.RecordSuccess(a.code)
		} else {
			e.breaker.RecordFailure(a.code)
		}
	}

	e.metrics.RunCompleted(string(status), duration)

	evt := e.logger.Info()
	if status != domain.RunStatusSuccess {
		evt = e.logger.Warn()
	}
	evt.Str("job", a.code).Str("run", runID.String()).Str("status", string(status)).
		Dur("duration", duration).Msg("run completed")

	if e.events != nil {
		event := domain.RunEvent{
			RunID:    runID,
			JobCode:  a.code,
			Status:   status,
			Duration: duration,
			FiredAt:  start,
		}
		if err := e.events.Publish(event); err != nil {
			e.metrics.EventDropped()
		}
	}
}

func classify(result string, err error) (domain.RunStatus, string, string) {
	if err != nil {
		return domain.RunStatusFailure, "", err.Error()
	}
	return domain.RunStatusSuccess, result, ""
}

func panicError(code string, recovered any) error {
	return fmt.Errorf("job %s panicked: %v", code, recovered)
}
