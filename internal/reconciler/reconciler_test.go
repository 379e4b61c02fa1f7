package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jobd-io/jobd/internal/domain"
	"github.com/jobd-io/jobd/internal/engine"
	"github.com/jobd-io/jobd/internal/testutil"
)

// mockStore serves job definitions and records writes.
type mockStore struct {
	mu         sync.Mutex
	jobs       []domain.JobDefinition
	listErr    error
	disabled   []string
	disableErr error
	sweepErr   error
	sweepCount int
	sweptAt    []time.Time
}

func (s *mockStore) ListEnabledJobs(ctx context.Context) ([]domain.JobDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]domain.JobDefinition, len(s.jobs))
	copy(out, s.jobs)
	return out, nil
}

func (s *mockStore) DisableJob(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disableErr != nil {
		return s.disableErr
	}
	s.disabled = append(s.disabled, code)
	return nil
}

func (s *mockStore) MarkAbandonedRuns(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweepErr != nil {
		return 0, s.sweepErr
	}
	s.sweptAt = append(s.sweptAt, olderThan)
	return s.sweepCount, nil
}

// mockEngine is an in-memory code → version map with call tracking.
type mockEngine struct {
	mu      sync.Mutex
	timers  map[string]int64
	addErr  map[string]error
	adds    []string
	removes []string
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		timers: make(map[string]int64),
		addErr: make(map[string]error),
	}
}

func (e *mockEngine) AddOrUpdate(def domain.JobDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err, ok := e.addErr[def.Code]; ok {
		return err
	}
	e.adds = append(e.adds, def.Code)
	e.timers[def.Code] = def.Version
	return nil
}

func (e *mockEngine) Remove(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removes = append(e.removes, code)
	delete(e.timers, code)
}

func (e *mockEngine) Snapshot() map[string]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := make(map[string]int64, len(e.timers))
	for code, v := range e.timers {
		snap[code] = v
	}
	return snap
}

func jobDef(code string, version int64) domain.JobDefinition {
	return domain.JobDefinition{
		Code:        code,
		Target:      "test.ok",
		TriggerKind: domain.TriggerInterval,
		TriggerSpec: domain.TriggerSpec{Seconds: 60},
		Enabled:     true,
		Version:     version,
	}
}

func TestSyncOnceAddsNewJobs(t *testing.T) {
	store := &mockStore{jobs: []domain.JobDefinition{jobDef("job-a", 1), jobDef("job-b", 1)}}
	eng := newMockEngine()
	r := New(Config{}, store, eng, zerolog.Nop())

	if err := r.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	if len(eng.adds) != 2 {
		t.Fatalf("expected 2 adds, got %v", eng.adds)
	}
}

func TestSyncOnceIsIdempotent(t *testing.T) {
	store := &mockStore{jobs: []domain.JobDefinition{jobDef("job-a", 1)}}
	eng := newMockEngine()
	r := New(Config{}, store, eng, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if err := r.SyncOnce(context.Background()); err != nil {
			t.Fatalf("SyncOnce pass %d: %v", i, err)
		}
	}

	// Unchanged versions are skipped before the engine is touched.
	if len(eng.adds) != 1 {
		t.Fatalf("expected a single add across passes, got %v", eng.adds)
	}
	if len(eng.removes) != 0 {
		t.Fatalf("expected no removes, got %v", eng.removes)
	}
}

func TestSyncOnceAppliesVersionBump(t *testing.T) {
	store := &mockStore{jobs: []domain.JobDefinition{jobDef("job-a", 1)}}
	eng := newMockEngine()
	r := New(Config{}, store, eng, zerolog.Nop())

	if err := r.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	store.mu.Lock()
	store.jobs = []domain.JobDefinition{jobDef("job-a", 2)}
	store.mu.Unlock()

	if err := r.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce after bump: %v", err)
	}

	if eng.timers["job-a"] != 2 {
		t.Fatalf("expected live version 2, got %d", eng.timers["job-a"])
	}
	if len(eng.adds) != 2 {
		t.Fatalf("expected two AddOrUpdate calls, got %v", eng.adds)
	}
}

func TestSyncOnceRemovesVanishedJobs(t *testing.T) {
	store := &mockStore{jobs: []domain.JobDefinition{jobDef("job-a", 1), jobDef("job-b", 1)}}
	eng := newMockEngine()
	r := New(Config{}, store, eng, zerolog.Nop())

	if err := r.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	// job-b is disabled or deleted out from under the engine.
	store.mu.Lock()
	store.jobs = []domain.JobDefinition{jobDef("job-a", 1)}
	store.mu.Unlock()

	if err := r.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce after removal: %v", err)
	}

	if len(eng.removes) != 1 || eng.removes[0] != "job-b" {
		t.Fatalf("expected remove of job-b, got %v", eng.removes)
	}
	if _, still := eng.timers["job-a"]; !still {
		t.Fatal("job-a must survive the pass untouched")
	}
}

func TestSyncOnceDisablesExhaustedOneShot(t *testing.T) {
	store := &mockStore{jobs: []domain.JobDefinition{jobDef("job-once", 1)}}
	eng := newMockEngine()
	eng.addErr["job-once"] = engine.ErrTriggerExhausted
	r := New(Config{}, store, eng, zerolog.Nop())

	if err := r.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	if len(store.disabled) != 1 || store.disabled[0] != "job-once" {
		t.Fatalf("expected DisableJob(job-once), got %v", store.disabled)
	}
}

func TestSyncOnceSkipsRejectedJob(t *testing.T) {
	store := &mockStore{jobs: []domain.JobDefinition{jobDef("job-bad", 1), jobDef("job-ok", 1)}}
	eng := newMockEngine()
	eng.addErr["job-bad"] = errors.New("invalid trigger spec")
	r := New(Config{}, store, eng, zerolog.Nop())

	if err := r.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	// The rejected job is left out; the healthy one is admitted, and
	// nothing is disabled in the store.
	if len(eng.adds) != 1 || eng.adds[0] != "job-ok" {
		t.Fatalf("expected only job-ok admitted, got %v", eng.adds)
	}
	if len(store.disabled) != 0 {
		t.Fatalf("a rejected spec must not disable the job, got %v", store.disabled)
	}
}

func TestSyncOnceListFailureKeepsTimers(t *testing.T) {
	store := &mockStore{jobs: []domain.JobDefinition{jobDef("job-a", 1)}}
	eng := newMockEngine()
	r := New(Config{}, store, eng, zerolog.Nop())

	if err := r.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	store.mu.Lock()
	store.listErr = errors.New("connection refused")
	store.mu.Unlock()

	if err := r.SyncOnce(context.Background()); err == nil {
		t.Fatal("expected error when the store is unreachable")
	}

	// Never tear down live timers on a failed pass.
	if len(eng.removes) != 0 {
		t.Fatalf("failed pass must not remove timers, got %v", eng.removes)
	}
}

func TestSweepAbandonedUsesCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(now)
	store := &mockStore{sweepCount: 2}
	eng := newMockEngine()
	r := New(Config{AbandonedAfter: 10 * time.Minute}, store, eng, zerolog.Nop()).WithClock(clock.Now)

	if err := r.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	if len(store.sweptAt) != 1 {
		t.Fatalf("expected one sweep, got %d", len(store.sweptAt))
	}
	want := now.Add(-10 * time.Minute)
	if !store.sweptAt[0].Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, store.sweptAt[0])
	}
}

func TestSweepFailureDoesNotFailPass(t *testing.T) {
	store := &mockStore{
		jobs:     []domain.JobDefinition{jobDef("job-a", 1)},
		sweepErr: errors.New("deadlock detected"),
	}
	eng := newMockEngine()
	r := New(Config{}, store, eng, zerolog.Nop())

	if err := r.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sweep failure must not fail the pass: %v", err)
	}
	if len(eng.adds) != 1 {
		t.Fatalf("expected the diff applied despite sweep failure, got %v", eng.adds)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := &mockStore{}
	eng := newMockEngine()
	r := New(Config{Interval: 10 * time.Millisecond}, store, eng, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
