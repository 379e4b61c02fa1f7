package tasks

import (
	"context"
	"fmt"

	"github.com/jobd-io/jobd/internal/registry"
)

// deadlineSweepTarget scans the workflow collaborator for overdue tasks
// and transitions them. Finding zero overdue items is a success.
func deadlineSweepTarget(deps Deps) registry.Target {
	return func(ctx context.Context, inv registry.Invocation) (string, error) {
		if deps.Workflow == nil {
			return "", fmt.Errorf("no workflow collaborator configured")
		}

		now := deps.Clock().UTC()
		transitioned, err := deps.Workflow.SweepOverdue(ctx, now)
		if err != nil {
			return "", fmt.Errorf("sweep overdue tasks: %w", err)
		}

		if transitioned > 0 {
			deps.Logger.Info().Str("job", inv.JobCode).Int("transitioned", transitioned).
				Msg("overdue workflow tasks transitioned")
		}
		return fmt.Sprintf("transitioned=%d", transitioned), nil
	}
}
