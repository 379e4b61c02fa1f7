package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jobd-io/jobd/internal/domain"
	"github.com/jobd-io/jobd/internal/engine"
	"github.com/jobd-io/jobd/internal/registry"
)

// memStore backs both the reconciler's job reads and the engine's run
// log with one in-memory state, mimicking the real store.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]domain.JobDefinition
	runs map[uuid.UUID]domain.RunRecord
}

func newMemStore() *memStore {
	return &memStore{
		jobs: make(map[string]domain.JobDefinition),
		runs: make(map[uuid.UUID]domain.RunRecord),
	}
}

func (s *memStore) ListEnabledJobs(ctx context.Context) ([]domain.JobDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.JobDefinition
	for _, def := range s.jobs {
		if def.Enabled {
			out = append(out, def)
		}
	}
	return out, nil
}

func (s *memStore) DisableJob(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.jobs[code]
	if !ok {
		return nil
	}
	def.Enabled = false
	def.Version++
	s.jobs[code] = def
	return nil
}

func (s *memStore) MarkAbandonedRuns(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, run := range s.runs {
		if run.Status == domain.RunStatusRunning && run.StartedAt.Before(olderThan) {
			run.Status = domain.RunStatusTimeout
			s.runs[id] = run
			n++
		}
	}
	return n, nil
}

func (s *memStore) BeginRun(ctx context.Context, code string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.runs[id] = domain.RunRecord{
		ID:        id,
		JobCode:   code,
		StartedAt: time.Now().UTC(),
		Status:    domain.RunStatusRunning,
	}
	return id, nil
}

func (s *memStore) CompleteRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, result, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.runs[id]
	run.Status = status
	run.Result = result
	run.Error = errMsg
	s.runs[id] = run
	return nil
}

func (s *memStore) runStatuses(code string) []domain.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RunStatus
	for _, run := range s.runs {
		if run.JobCode == code {
			out = append(out, run.Status)
		}
	}
	return out
}

func (s *memStore) putJob(def domain.JobDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[def.Code] = def
}

func (s *memStore) enabled(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[code].Enabled
}

// Full cycle against a real engine: a one-shot definition is admitted by
// the sync pass, fires once, and the exhausted definition is disabled on
// the following pass.
func TestOneShotLifecycleEndToEnd(t *testing.T) {
	store := newMemStore()
	fired := make(chan string, 1)

	reg := registry.New()
	reg.Register("test.notify", func(ctx context.Context, inv registry.Invocation) (string, error) {
		fired <- inv.JobCode
		return "done", nil
	}, nil)

	at := time.Now().Add(50 * time.Millisecond)
	store.putJob(domain.JobDefinition{
		Code:        "job-once",
		Target:      "test.notify",
		TriggerKind: domain.TriggerOneShot,
		TriggerSpec: domain.TriggerSpec{At: &at},
		Enabled:     true,
		Version:     1,
	})

	eng := engine.New(engine.Config{}, reg, store, zerolog.Nop())
	r := New(Config{}, store, eng, zerolog.Nop())

	ctx := context.Background()
	if err := r.SyncOnce(ctx); err != nil {
		t.Fatalf("initial sync: %v", err)
	}
	if eng.LiveTimerCount() != 1 {
		t.Fatalf("expected 1 live timer, got %d", eng.LiveTimerCount())
	}

	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(time.Second)

	select {
	case code := <-fired:
		if code != "job-once" {
			t.Fatalf("wrong job fired: %s", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("one-shot did not fire")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		statuses := store.runStatuses("job-once")
		if len(statuses) == 1 && statuses[0] == domain.RunStatusSuccess {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	statuses := store.runStatuses("job-once")
	if len(statuses) != 1 || statuses[0] != domain.RunStatusSuccess {
		t.Fatalf("expected one success record, got %v", statuses)
	}

	// The fired one-shot is exhausted: the next pass disables it.
	if err := r.SyncOnce(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if store.enabled("job-once") {
		t.Fatal("expected exhausted one-shot disabled in the store")
	}

	// And the pass after that is clean: nothing left to admit.
	if err := r.SyncOnce(ctx); err != nil {
		t.Fatalf("third sync: %v", err)
	}
	if eng.LiveTimerCount() != 0 {
		t.Fatalf("expected no live timers, got %d", eng.LiveTimerCount())
	}
}
