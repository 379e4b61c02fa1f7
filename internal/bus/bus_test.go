package bus

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jobd-io/jobd/internal/domain"
)

func TestPublishAndReceive(t *testing.T) {
	b := NewRunEventBus(4)

	event := domain.RunEvent{
		RunID:   uuid.New(),
		JobCode: "job-a",
		Status:  domain.RunStatusSuccess,
		FiredAt: time.Now(),
	}
	if err := b.Publish(event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-b.Channel():
		if got.RunID != event.RunID || got.JobCode != "job-a" {
			t.Fatalf("received wrong event: %+v", got)
		}
	default:
		t.Fatal("expected a buffered event")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewRunEventBus(2)

	if err := b.Publish(domain.RunEvent{JobCode: "a"}); err != nil {
		t.Fatalf("Publish 1: %v", err)
	}
	if err := b.Publish(domain.RunEvent{JobCode: "b"}); err != nil {
		t.Fatalf("Publish 2: %v", err)
	}

	// Buffer full: the third publish drops instead of blocking.
	err := b.Publish(domain.RunEvent{JobCode: "c"})
	if !errors.Is(err, ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}

	// Draining one slot makes room again.
	<-b.Channel()
	if err := b.Publish(domain.RunEvent{JobCode: "d"}); err != nil {
		t.Fatalf("Publish after drain: %v", err)
	}
}
