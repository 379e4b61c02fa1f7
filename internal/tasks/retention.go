package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/jobd-io/jobd/internal/registry"
)

// DefaultRetentionDays is how long run records are kept when the job
// params carry no explicit "days".
const DefaultRetentionDays = 30

// retentionTarget purges run records older than the configured age.
// Retention is expressed as an ordinary job so it flows through the same
// engine and leaves its own audit trail.
func retentionTarget(deps Deps) registry.Target {
	return func(ctx context.Context, inv registry.Invocation) (string, error) {
		if deps.Runs == nil {
			return "", fmt.Errorf("no run purger configured")
		}

		days := intParam(inv.Params, "days", DefaultRetentionDays)
		if days <= 0 {
			return "", fmt.Errorf("retention days must be positive, got %d", days)
		}

		cutoff := deps.Clock().UTC().AddDate(0, 0, -days)
		purged, err := deps.Runs.PurgeRunsBefore(ctx, cutoff)
		if err != nil {
			return "", fmt.Errorf("purge runs before %s: %w", cutoff.Format(time.RFC3339), err)
		}

		return fmt.Sprintf("purged=%d days=%d", purged, days), nil
	}
}

// intParam reads an integer param. Values arrive as float64 after jsonb
// decoding, so both numeric shapes are accepted.
func intParam(params map[string]any, name string, fallback int) int {
	v, ok := params[name]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}
