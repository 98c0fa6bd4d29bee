package cmd

import (
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/gestium/flowmail/pkg/cache"
	"github.com/gestium/flowmail/pkg/engine"
	"github.com/gestium/flowmail/pkg/persistence"
)

// NewWorkflowSource builds the dispatcher's workflow source. With a
// redis URL it layers the trigger-set cache over the repository;
// without one the repository is used directly. Returns the cache (nil
// when disabled) so callers can wire invalidation.
func NewWorkflowSource(repo persistence.WorkflowRepository, redisURL string, ttl time.Duration, logger *slog.Logger) (engine.WorkflowSource, *cache.WorkflowCache, error) {
	if redisURL == "" {
		return repo, nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, err
	}

	client := redis.NewClient(opts)
	cached := cache.NewWorkflowCache(repo, client, ttl, logger)

	return cached, cached, nil
}
