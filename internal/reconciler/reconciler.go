// Package reconciler keeps the engine's live timer set aligned with the
// durable job store.
//
// The store holds desired state; the engine holds derived state. Each
// pass lists enabled definitions, diffs them against the engine's
// code → version snapshot and applies add/update/remove operations
// without disturbing unaffected timers. A failed pass is logged and
// retried on the next cycle; live timers are never torn down because the
// store was temporarily unreachable.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jobd-io/jobd/internal/domain"
	"github.com/jobd-io/jobd/internal/engine"
	"github.com/jobd-io/jobd/internal/metrics"
)

// Store is the job store read contract plus the writes reconciliation
// itself needs (disabling exhausted one-shots, sweeping abandoned runs).
type Store interface {
	ListEnabledJobs(ctx context.Context) ([]domain.JobDefinition, error)
	DisableJob(ctx context.Context, code string) error
	MarkAbandonedRuns(ctx context.Context, olderThan time.Time) (int, error)
}

// Engine is the slice of the scheduling engine the reconciler drives.
type Engine interface {
	AddOrUpdate(def domain.JobDefinition) error
	Remove(code string)
	Snapshot() map[string]int64
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often SyncOnce runs. Default: 30 seconds.
	Interval time.Duration

	// AbandonedAfter is the age past which a still-running record is
	// considered abandoned (crashed or drained process) and marked
	// timeout. Default: 10 minutes.
	AbandonedAfter time.Duration
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		AbandonedAfter: 10 * time.Minute,
	}
}

// Reconciler aligns the engine's derived timer set with the job store.
type Reconciler struct {
	config  Config
	store   Store
	engine  Engine
	metrics metrics.Sink
	logger  zerolog.Logger
	clock   func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store, eng Engine, logger zerolog.Logger) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.AbandonedAfter <= 0 {
		config.AbandonedAfter = DefaultConfig().AbandonedAfter
	}
	return &Reconciler{
		config:  config,
		store:   store,
		engine:  eng,
		metrics: metrics.NewNoopSink(),
		logger:  logger.With().Str("component", "reconciler").Logger(),
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink metrics.Sink) *Reconciler {
	r.metrics = sink
	return r
}

// WithClock overrides the reconciler clock. For tests.
func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run invokes SyncOnce on a fixed cadence until ctx is cancelled.
// The caller performs one synchronous SyncOnce before starting the
// engine, so no job is missing during the window before the first
// periodic pass.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.config.Interval).
		Dur("abandoned_after", r.config.AbandonedAfter).Msg("reconciler started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
			if err := r.SyncOnce(ctx); err != nil {
				// Transient store failure: this pass is lost, the
				// next one retries. No timers are torn down.
				r.logger.Error().Err(err).Msg("reconciliation pass failed")
			}
		}
	}
}

// SyncOnce performs one reconciliation pass.
func (r *Reconciler) SyncOnce(ctx context.Context) error {
	defs, err := r.store.ListEnabledJobs(ctx)
	if err != nil {
		r.metrics.ReconcilePass(metrics.PassFailed)
		return fmt.Errorf("list enabled jobs: %w", err)
	}

	live := r.engine.Snapshot()

	added, updated, removed := 0, 0, 0

	desired := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		desired[def.Code] = struct{}{}

		version, present := live[def.Code]
		if present && version == def.Version {
			continue
		}

		if err := r.engine.AddOrUpdate(def); err != nil {
			switch {
			case errors.Is(err, engine.ErrTriggerExhausted):
				// A one_shot whose instant has passed. Disable it so
				// it stops appearing in every subsequent pass.
				if dErr := r.store.DisableJob(ctx, def.Code); dErr != nil {
					r.logger.Error().Err(dErr).Str("job", def.Code).
						Msg("failed to disable exhausted one-shot job")
				} else {
					r.logger.Info().Str("job", def.Code).
						Msg("disabled exhausted one-shot job")
				}
			default:
				// Invalid trigger spec or param shape: rejected before
				// admission, logged, and left out of the live set.
				r.logger.Error().Err(err).Str("job", def.Code).
					Msg("job rejected at admission")
			}
			continue
		}

		if present {
			updated++
			r.metrics.ReconcileChange(metrics.OpUpdate)
		} else {
			added++
			r.metrics.ReconcileChange(metrics.OpAdd)
		}
	}

	for code := range live {
		if _, stillWanted := desired[code]; !stillWanted {
			r.engine.Remove(code)
			removed++
			r.metrics.ReconcileChange(metrics.OpRemove)
		}
	}

	r.sweepAbandoned(ctx)

	r.metrics.ReconcilePass(metrics.PassOK)
	if added+updated+removed > 0 {
		r.logger.Info().Int("added", added).Int("updated", updated).
			Int("removed", removed).Msg("reconciliation pass applied changes")
	}
	return nil
}

// sweepAbandoned marks running records older than AbandonedAfter as
// timeout. These are runs left behind by a crash or a drain timeout.
// Failures here never fail the pass; the rows stay for the next sweep.
func (r *Reconciler) sweepAbandoned(ctx context.Context) {
	cutoff := r.clock().UTC().Add(-r.config.AbandonedAfter)
	swept, err := r.store.MarkAbandonedRuns(ctx, cutoff)
	if err != nil {
		r.logger.Error().Err(err).Msg("abandoned run sweep failed")
		return
	}
	if swept > 0 {
		r.metrics.AbandonedRunsSwept(swept)
		r.logger.Warn().Int("count", swept).Time("older_than", cutoff).
			Msg("marked abandoned runs as timeout")
	}
}
