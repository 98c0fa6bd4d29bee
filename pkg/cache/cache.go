// Package cache provides a redis-backed cache for the per-trigger active
// workflow set. The dispatcher reads this set on every event, so the
// cache keeps the hot path off the workflow store; any redis failure
// falls through to the underlying source.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/gestium/flowmail/pkg/engine"
	"github.com/gestium/flowmail/pkg/log"
	"github.com/gestium/flowmail/pkg/models"
)

const keyPrefix = "flowmail:workflows:trigger:"

// WorkflowCache wraps a workflow source with a redis cache keyed by
// trigger kind.
type WorkflowCache struct {
	source engine.WorkflowSource
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewWorkflowCache(source engine.WorkflowSource, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *WorkflowCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &WorkflowCache{
		source: source,
		client: client,
		ttl:    ttl,
		logger: log.WithModule(logger, "workflow-cache"),
	}
}

// ActiveByTrigger returns the cached workflow set for the trigger kind,
// falling back to the source on miss or redis error.
func (c *WorkflowCache) ActiveByTrigger(ctx context.Context, kind models.TriggerKind) ([]*models.Workflow, error) {
	key := keyPrefix + string(kind)

	cached, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var workflows []*models.Workflow

		err = json.Unmarshal(cached, &workflows)
		if err == nil {
			return workflows, nil
		}

		c.logger.WarnContext(ctx, "Discarding undecodable cache entry", "key", key, "error", err)
	} else if err != redis.Nil {
		c.logger.WarnContext(ctx, "Cache read failed, falling through", "key", key, "error", err)
	}

	workflows, err := c.source.ActiveByTrigger(ctx, kind)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(workflows)
	if err == nil {
		err = c.client.Set(ctx, key, data, c.ttl).Err()
		if err != nil {
			c.logger.WarnContext(ctx, "Cache write failed", "key", key, "error", err)
		}
	}

	return workflows, nil
}

// Invalidate drops the cached set for one trigger kind. Called when a
// workflow configuration change event arrives.
func (c *WorkflowCache) Invalidate(ctx context.Context, kind models.TriggerKind) {
	err := c.client.Del(ctx, keyPrefix+string(kind)).Err()
	if err != nil {
		c.logger.WarnContext(ctx, "Cache invalidation failed", "trigger", string(kind), "error", err)
	}
}

// InvalidateAll drops every cached trigger set.
func (c *WorkflowCache) InvalidateAll(ctx context.Context) {
	for _, kind := range models.TriggerKinds() {
		c.Invalidate(ctx, kind)
	}
}
