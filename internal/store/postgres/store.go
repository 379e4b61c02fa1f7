// Package postgres implements the job store and run log over PostgreSQL.
//
// The jobs table is desired state owned by the surrounding CRUD layer;
// this store reads it and performs only the writes reconciliation needs.
// The job_runs table is owned exclusively by this store. Every write is a
// single-row statement, so a run record is either absent, running, or
// terminal; there is no partially visible state.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jobd-io/jobd/internal/domain"
)

// Store implements engine.RunLog and reconciler.Store using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a PostgreSQL store. opTimeout bounds every single database
// operation; zero disables the bound.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

// opCtx derives a context bounded by the per-operation timeout.
func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// ListEnabledJobs returns all enabled job definitions. Committed state
// only; the default read-committed isolation provides that.
func (s *Store) ListEnabledJobs(ctx context.Context) ([]domain.JobDefinition, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListEnabledJobs)
	if err != nil {
		return nil, fmt.Errorf("list enabled jobs: %w", err)
	}
	defer rows.Close()

	var defs []domain.JobDefinition
	for rows.Next() {
		var (
			def         domain.JobDefinition
			triggerSpec []byte
			params      []byte
			timeoutMs   int64
		)
		err := rows.Scan(
			&def.Code,
			&def.Target,
			&def.TriggerKind,
			&triggerSpec,
			&params,
			&def.Enabled,
			&def.MaxInstances,
			&timeoutMs,
			&def.Version,
			&def.CreatedAt,
			&def.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if err := json.Unmarshal(triggerSpec, &def.TriggerSpec); err != nil {
			return nil, fmt.Errorf("job %s: decode trigger spec: %w", def.Code, err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &def.Params); err != nil {
				return nil, fmt.Errorf("job %s: decode params: %w", def.Code, err)
			}
		}
		def.Timeout = time.Duration(timeoutMs) * time.Millisecond
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return defs, nil
}

// EnsureJob inserts a job definition if its code is absent. Existing
// definitions are left untouched, making startup seeding idempotent.
func (s *Store) EnsureJob(ctx context.Context, def domain.JobDefinition) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	triggerSpec, err := json.Marshal(def.TriggerSpec)
	if err != nil {
		return fmt.Errorf("encode trigger spec: %w", err)
	}
	params, err := json.Marshal(def.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	maxInstances := def.MaxInstances
	if maxInstances <= 0 {
		maxInstances = 1
	}

	_, err = s.db.ExecContext(ctx, queryEnsureJob,
		def.Code,
		def.Target,
		string(def.TriggerKind),
		triggerSpec,
		params,
		def.Enabled,
		maxInstances,
		def.Timeout.Milliseconds(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("ensure job %s: %w", def.Code, err)
	}
	return nil
}

// DisableJob sets enabled=false and bumps the version so the change is
// visible to the next reconciliation pass.
func (s *Store) DisableJob(ctx context.Context, code string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryDisableJob, code, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("disable job %s: %w", code, err)
	}
	return nil
}

// BeginRun opens a run record with status=running and returns its id.
func (s *Store) BeginRun(ctx context.Context, code string) (uuid.UUID, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	id := uuid.New()
	_, err := s.db.ExecContext(ctx, queryBeginRun, id, code, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin run for %s: %w", code, err)
	}
	return id, nil
}

// CompleteRun writes the terminal status of a run. The guard on
// status='running' makes the terminal transition happen at most once.
func (s *Store) CompleteRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, result, errMsg string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if !status.Terminal() {
		return fmt.Errorf("complete run %s: %q is not a terminal status", id, status)
	}

	_, err := s.db.ExecContext(ctx, queryCompleteRun,
		id,
		string(status),
		nullableString(result),
		nullableString(errMsg),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", id, err)
	}
	return nil
}

// MarkAbandonedRuns transitions running records started before olderThan
// to timeout and returns how many rows were affected.
func (s *Store) MarkAbandonedRuns(ctx context.Context, olderThan time.Time) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryMarkAbandonedRuns, olderThan, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark abandoned runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// PurgeRunsBefore deletes run records started before cutoff and returns
// how many rows were removed. Used by the retention cleanup job.
func (s *Store) PurgeRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryPurgeRunsBefore, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
