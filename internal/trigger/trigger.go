// Package trigger computes next fire times for job trigger specs.
//
// Three kinds are supported: fixed-period intervals, five-field cron
// expressions (evaluated in an explicit timezone, never the ambiguous
// process-local zone), and one-shot fixed instants that fire at most once.
package trigger

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jobd-io/jobd/internal/domain"
)

// ErrInvalidTriggerSpec is returned when a trigger spec cannot produce
// fire times. Specs are rejected at admission, never at evaluation.
var ErrInvalidTriggerSpec = errors.New("invalid trigger spec")

// Schedule produces the next fire instant strictly after a reference
// instant. ok=false means the trigger is exhausted.
type Schedule interface {
	Next(after time.Time) (next time.Time, ok bool)
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Compile materializes a trigger spec into an evaluator.
// defaultLoc applies to cron specs without an explicit timezone.
func Compile(kind domain.TriggerKind, spec domain.TriggerSpec, defaultLoc *time.Location) (Schedule, error) {
	switch kind {
	case domain.TriggerInterval:
		if spec.Seconds <= 0 {
			return nil, fmt.Errorf("%w: interval seconds must be positive, got %d", ErrInvalidTriggerSpec, spec.Seconds)
		}
		return intervalSchedule{period: time.Duration(spec.Seconds) * time.Second}, nil

	case domain.TriggerCron:
		if spec.Expression == "" {
			return nil, fmt.Errorf("%w: cron expression is empty", ErrInvalidTriggerSpec)
		}
		loc := defaultLoc
		if spec.Timezone != "" {
			var err error
			loc, err = time.LoadLocation(spec.Timezone)
			if err != nil {
				return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidTriggerSpec, spec.Timezone, err)
			}
		}
		if loc == nil {
			loc = time.UTC
		}
		sched, err := cronParser.Parse(spec.Expression)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTriggerSpec, err)
		}
		cs := cronSchedule{sched: sched, loc: loc}
		// robfig bounds its search and returns the zero time for
		// expressions with no solution (e.g. Feb 30). Probe once so
		// such specs fail here instead of silently never firing.
		if _, ok := cs.Next(time.Now()); !ok {
			return nil, fmt.Errorf("%w: expression %q has no future fire time", ErrInvalidTriggerSpec, spec.Expression)
		}
		return cs, nil

	case domain.TriggerOneShot:
		if spec.At == nil {
			return nil, fmt.Errorf("%w: one_shot requires a timestamp", ErrInvalidTriggerSpec)
		}
		return oneShotSchedule{at: spec.At.UTC()}, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidTriggerSpec, kind)
	}
}

// Validate checks a spec without keeping the compiled schedule.
func Validate(kind domain.TriggerKind, spec domain.TriggerSpec, defaultLoc *time.Location) error {
	_, err := Compile(kind, spec, defaultLoc)
	return err
}

type intervalSchedule struct {
	period time.Duration
}

func (s intervalSchedule) Next(after time.Time) (time.Time, bool) {
	return after.Add(s.period), true
}

type cronSchedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s cronSchedule) Next(after time.Time) (time.Time, bool) {
	next := s.sched.Next(after.In(s.loc))
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

type oneShotSchedule struct {
	at time.Time
}

func (s oneShotSchedule) Next(after time.Time) (time.Time, bool) {
	if s.at.After(after) {
		return s.at, true
	}
	return time.Time{}, false
}
