package postgres

const queryListEnabledJobs = `
SELECT
    code, target, trigger_kind, trigger_spec, params,
    enabled, max_instances, timeout_ms, version,
    created_at, updated_at
FROM jobs
WHERE enabled = true
ORDER BY code
`

const queryEnsureJob = `
INSERT INTO jobs (code, target, trigger_kind, trigger_spec, params,
                  enabled, max_instances, timeout_ms, version,
                  created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)
ON CONFLICT (code) DO NOTHING
`

const queryDisableJob = `
UPDATE jobs
SET enabled = false,
    version = version + 1,
    updated_at = $2
WHERE code = $1
`

const queryBeginRun = `
INSERT INTO job_runs (id, job_code, started_at, status)
VALUES ($1, $2, $3, 'running')
`

const queryCompleteRun = `
UPDATE job_runs
SET status = $2,
    result = $3,
    error = $4,
    finished_at = $5
WHERE id = $1
  AND status = 'running'
`

const queryMarkAbandonedRuns = `
UPDATE job_runs
SET status = 'timeout',
    error = 'abandoned: no terminal transition recorded',
    finished_at = $2
WHERE status = 'running'
  AND started_at < $1
`

const queryPurgeRunsBefore = `
DELETE FROM job_runs
WHERE started_at < $1
`
