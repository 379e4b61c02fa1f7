// Package tasks holds the static manifest of job targets.
//
// The manifest is the closed set of invocables the scheduler can run.
// Adding a target means adding it here and deploying; there is no
// runtime registration path.
package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jobd-io/jobd/internal/registry"
)

// Reserved codes of the built-in maintenance job definitions.
const (
	CodeDeadlineSweep = "sys.deadline-sweep"
	CodeRunRetention  = "sys.runlog-retention"
)

// Target names in the manifest.
const (
	TargetDeadlineSweep = "workflow.deadline_sweep"
	TargetRunRetention  = "runlog.retention"
	TargetWebhook       = "http.webhook"
)

// WorkflowTasks is the external workflow collaborator. SweepOverdue
// finds tasks past their deadline, transitions them, and reports how
// many it touched.
type WorkflowTasks interface {
	SweepOverdue(ctx context.Context, now time.Time) (int, error)
}

// RunPurger deletes old run records. Implemented by the postgres store.
type RunPurger interface {
	PurgeRunsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Deps are the collaborators the built-in targets close over.
type Deps struct {
	Workflow WorkflowTasks
	Runs     RunPurger
	Logger   zerolog.Logger
	Clock    func() time.Time
}

// Manifest populates a registry with every built-in target.
func Manifest(deps Deps) *registry.Registry {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	reg := registry.New()
	reg.Register(TargetDeadlineSweep, deadlineSweepTarget(deps), nil)
	reg.Register(TargetRunRetention, retentionTarget(deps), registry.ParamSchema{
		{Name: "days", Required: false},
	})
	reg.Register(TargetWebhook, webhookTarget(deps), registry.ParamSchema{
		{Name: "url", Required: true},
		{Name: "secret", Required: false},
		{Name: "payload", Required: false},
	})
	return reg
}
