// Package bus carries run events from the engine to best-effort consumers.
package bus

import (
	"errors"

	"github.com/jobd-io/jobd/internal/domain"
)

// ErrBufferFull is returned when the buffer is saturated. Publishers
// drop the event rather than block the scheduling path.
var ErrBufferFull = errors.New("event bus buffer full")

type RunEventBus struct {
	ch chan domain.RunEvent
}

func NewRunEventBus(buffer int) *RunEventBus {
	return &RunEventBus{
		ch: make(chan domain.RunEvent, buffer),
	}
}

// Publish enqueues the event without blocking.
func (b *RunEventBus) Publish(event domain.RunEvent) error {
	select {
	case b.ch <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

func (b *RunEventBus) Channel() <-chan domain.RunEvent {
	return b.ch
}
