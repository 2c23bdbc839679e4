package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"dataforge/internal/app"
)

// StatusCache keeps the latest job snapshot in redis so status polling reads
// never queue behind extraction work. The in-process job store stays the
// source of truth; a cache miss just falls through to it.
type StatusCache struct {
	client    *redisv9.Client
	statusTTL time.Duration
}

func NewStatusCache(client *redisv9.Client, statusTTL time.Duration) *StatusCache {
	if statusTTL <= 0 {
		statusTTL = 30 * time.Second
	}
	return &StatusCache{
		client:    client,
		statusTTL: statusTTL,
	}
}

func (c *StatusCache) SetJob(ctx context.Context, job *app.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job snapshot failed: %w", err)
	}
	if err := c.client.Set(ctx, c.statusKey(job.ID), payload, c.statusTTL).Err(); err != nil {
		return fmt.Errorf("redis set job snapshot failed: %w", err)
	}
	return nil
}

func (c *StatusCache) GetJob(ctx context.Context, jobID string, ownerID uint) (*app.Job, bool, error) {
	raw, err := c.client.Get(ctx, c.statusKey(jobID)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get job snapshot failed: %w", err)
	}

	var job app.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached job snapshot failed: %w", err)
	}
	if job.OwnerID != ownerID {
		return nil, false, nil
	}
	return &job, true, nil
}

func (c *StatusCache) DeleteJob(ctx context.Context, jobID string) error {
	if err := c.client.Del(ctx, c.statusKey(jobID)).Err(); err != nil {
		return fmt.Errorf("redis delete job snapshot failed: %w", err)
	}
	return nil
}

func (c *StatusCache) statusKey(jobID string) string {
	return fmt.Sprintf("batch:status:%s", jobID)
}
