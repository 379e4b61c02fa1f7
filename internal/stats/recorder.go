package stats

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jobd-io/jobd/internal/domain"
)

// Sink receives one terminal run event at a time.
type Sink interface {
	Record(ctx context.Context, event domain.RunEvent) error
}

// DefaultDrainTimeout is the maximum time to spend flushing buffered
// events during shutdown.
const DefaultDrainTimeout = 10 * time.Second

// Recorder consumes run events off the bus and forwards them to a sink.
// After cancellation it drains remaining buffered events with a timeout.
type Recorder struct {
	sink         Sink
	logger       zerolog.Logger
	drainTimeout time.Duration
}

func NewRecorder(sink Sink, logger zerolog.Logger) *Recorder {
	return &Recorder{
		sink:         sink,
		logger:       logger.With().Str("component", "stats").Logger(),
		drainTimeout: DefaultDrainTimeout,
	}
}

// WithDrainTimeout overrides the shutdown drain bound.
func (r *Recorder) WithDrainTimeout(d time.Duration) *Recorder {
	r.drainTimeout = d
	return r
}

// Run processes events from the channel until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context, ch <-chan domain.RunEvent) {
	for {
		select {
		case <-ctx.Done():
			r.drain(ch)
			return
		case event := <-ch:
			if err := r.sink.Record(ctx, event); err != nil {
				r.logger.Warn().Err(err).Str("job", event.JobCode).Msg("failed to record run stats")
			}
		}
	}
}

// drain flushes events still buffered after the shutdown signal.
// Uses a fresh context since the main one is already cancelled.
func (r *Recorder) drain(ch <-chan domain.RunEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			r.logger.Warn().Int("processed", count).Msg("stats drain timeout")
			return
		case event := <-ch:
			if err := r.sink.Record(drainCtx, event); err != nil {
				r.logger.Warn().Err(err).Str("job", event.JobCode).Msg("failed to record run stats during drain")
			}
			count++
		default:
			if count > 0 {
				r.logger.Info().Int("processed", count).Msg("stats drain complete")
			}
			return
		}
	}
}
