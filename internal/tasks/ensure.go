package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/jobd-io/jobd/internal/domain"
)

// JobEnsurer inserts a job definition only when its code is absent.
type JobEnsurer interface {
	EnsureJob(ctx context.Context, def domain.JobDefinition) error
}

// EnsureBuiltinJobs seeds the reserved maintenance job definitions.
// Idempotent: existing definitions, including operator-modified ones,
// are never touched.
func EnsureBuiltinJobs(ctx context.Context, store JobEnsurer, sweepInterval time.Duration, retentionDays int) error {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	sweep := domain.JobDefinition{
		Code:        CodeDeadlineSweep,
		Target:      TargetDeadlineSweep,
		TriggerKind: domain.TriggerInterval,
		TriggerSpec: domain.TriggerSpec{Seconds: int(sweepInterval.Seconds())},
		Enabled:     true,
	}
	if err := store.EnsureJob(ctx, sweep); err != nil {
		return fmt.Errorf("ensure %s: %w", CodeDeadlineSweep, err)
	}

	retention := domain.JobDefinition{
		Code:        CodeRunRetention,
		Target:      TargetRunRetention,
		TriggerKind: domain.TriggerCron,
		// Off-peak daily purge.
		TriggerSpec: domain.TriggerSpec{Expression: "30 3 * * *"},
		Params:      map[string]any{"days": retentionDays},
		Enabled:     true,
	}
	if err := store.EnsureJob(ctx, retention); err != nil {
		return fmt.Errorf("ensure %s: %w", CodeRunRetention, err)
	}

	return nil
}
