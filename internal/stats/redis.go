// Package stats records best-effort run outcome counters.
//
// Counters live in Redis as per-code, per-status minute buckets with a
// TTL. Stats are an observability aid: a dropped or failed write never
// affects a run record.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobd-io/jobd/internal/domain"
)

// DefaultRetention is how long counter buckets survive.
const DefaultRetention = 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisSink(client *redis.Client, retention time.Duration) *RedisSink {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisSink{client: client, retention: retention}
}

func (s *RedisSink) Record(ctx context.Context, event domain.RunEvent) error {
	key := buildKey(event.JobCode, event.Status, event.FiredAt)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

func buildKey(code string, status domain.RunStatus, t time.Time) string {
	return fmt.Sprintf("jobd:runs:%s:%s:%s", code, status, t.UTC().Format("200601021504"))
}
